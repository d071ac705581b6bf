package config

import (
	"fmt"
	"os"
	"sort"
)

// EnvironmentName names a Nevermined deployment.
type EnvironmentName string

const (
	EnvironmentLocal       EnvironmentName = "local"
	EnvironmentStaging     EnvironmentName = "staging"
	EnvironmentTesting     EnvironmentName = "testing"
	EnvironmentSandbox     EnvironmentName = "sandbox"
	EnvironmentLive        EnvironmentName = "live"
	EnvironmentArbitrum    EnvironmentName = "arbitrum"
	EnvironmentBase        EnvironmentName = "base"
	EnvironmentBaseSepolia EnvironmentName = "base-sepolia"
	EnvironmentCustom      EnvironmentName = "custom"
)

// Environment is where a deployment's services live.
type Environment struct {
	Name     EnvironmentName
	Frontend string
	Backend  string
	Proxy    string
}

// Environments lists the known deployments. sandbox and live are the
// Base Sepolia and Base deployments.
var Environments = map[EnvironmentName]Environment{
	EnvironmentLocal: {
		Name:     EnvironmentLocal,
		Frontend: "http://localhost:3000",
		Backend:  "http://localhost:3001",
		Proxy:    "https://localhost:443",
	},
	EnvironmentStaging: {
		Name:     EnvironmentStaging,
		Frontend: "https://staging.nevermined.app",
		Backend:  "https://api.staging.nevermined.app",
		Proxy:    "https://proxy.staging.nevermined.app",
	},
	EnvironmentTesting: {
		Name:     EnvironmentTesting,
		Frontend: "https://testing.nevermined.app",
		Backend:  "https://api.testing.nevermined.app",
		Proxy:    "https://proxy.testing.nevermined.app",
	},
	EnvironmentArbitrum: {
		Name:     EnvironmentArbitrum,
		Frontend: "https://nevermined.app",
		Backend:  "https://one-backend.arbitrum.nevermined.app",
		Proxy:    "https://proxy.arbitrum.nevermined.app",
	},
	EnvironmentBase: {
		Name:     EnvironmentBase,
		Frontend: "https://base.nevermined.app",
		Backend:  "https://one-backend.base.nevermined.app",
		Proxy:    "https://proxy.base.nevermined.app",
	},
	EnvironmentBaseSepolia: {
		Name:     EnvironmentBaseSepolia,
		Frontend: "https://base-sepolia.nevermined.app",
		Backend:  "https://one-backend.base-sepolia.nevermined.app",
		Proxy:    "https://proxy.base-sepolia.nevermined.app",
	},
}

func init() {
	sandbox := Environments[EnvironmentBaseSepolia]
	sandbox.Name = EnvironmentSandbox
	Environments[EnvironmentSandbox] = sandbox

	live := Environments[EnvironmentBase]
	live.Name = EnvironmentLive
	Environments[EnvironmentLive] = live
}

// GetEnvironment returns the named environment. custom is resolved from
// NVM_BACKEND_URL at call time.
func GetEnvironment(name EnvironmentName) (Environment, error) {
	if name == EnvironmentCustom {
		return Environment{
			Name:     EnvironmentCustom,
			Frontend: getenv("NVM_FRONTEND_URL", "http://localhost:3000"),
			Backend:  customBackend(),
			Proxy:    getenv("NVM_PROXY_URL", "https://localhost:443"),
		}, nil
	}
	env, ok := Environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
	}
	return env, nil
}

// EnvironmentNames returns the known environment names, sorted.
func EnvironmentNames() []EnvironmentName {
	names := make([]EnvironmentName, 0, len(Environments)+1)
	for name := range Environments {
		names = append(names, name)
	}
	names = append(names, EnvironmentCustom)
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func customBackend() string {
	return getenv(EnvBackendURL, "http://localhost:3001")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
