package a2a

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultPushTimeout bounds one push notification.
const DefaultPushTimeout = 5 * time.Second

// PushAuthentication tells how to authenticate to the push endpoint.
// Schemes may hold "basic", "bearer" or "custom"; custom sends Headers.
type PushAuthentication struct {
	Schemes     []string          `json:"schemes"`
	Credentials string            `json:"credentials,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// PushNotificationConfig is a client's webhook for task completion.
type PushNotificationConfig struct {
	URL            string              `json:"url"`
	Authentication *PushAuthentication `json:"authentication,omitempty"`
}

type pushBody struct {
	TaskID  string                 `json:"taskId"`
	State   TaskState              `json:"state"`
	Payload map[string]interface{} `json:"payload"`
}

// PushNotifier posts terminal task states to client webhooks.
type PushNotifier struct {
	httpClient *http.Client
}

// NewPushNotifier creates a notifier. A nil client gets DefaultPushTimeout.
func NewPushNotifier(httpClient *http.Client) *PushNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultPushTimeout}
	}
	return &PushNotifier{httpClient: httpClient}
}

// Notify posts {taskId, state, payload} to cfg.URL.
func (n *PushNotifier) Notify(ctx context.Context, cfg PushNotificationConfig, taskID string, state TaskState, payload map[string]interface{}) error {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	body, err := json.Marshal(pushBody{TaskID: taskID, State: state, Payload: payload})
	if err != nil {
		return fmt.Errorf("a2a: failed to marshal push notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("a2a: failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setPushAuth(req.Header, cfg.Authentication)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("a2a: push notification failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("a2a: push notification rejected with status %d", resp.StatusCode)
	}
	return nil
}

func setPushAuth(h http.Header, auth *PushAuthentication) {
	if auth == nil {
		return
	}
	for _, scheme := range auth.Schemes {
		switch strings.ToLower(scheme) {
		case "basic":
			h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth.Credentials)))
			return
		case "bearer":
			h.Set("Authorization", "Bearer "+auth.Credentials)
			return
		case "custom":
			for k, v := range auth.Headers {
				h.Set(k, v)
			}
			return
		}
	}
}
