// Package notify delivers user notifications to the messaging service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	KindTaskFailed    = "task_failed"
	KindTaskSucceeded = "task_succeeded"
	KindRoleChanged   = "role_changed"
	KindPublished     = "published"
)

type Notification struct {
	UserID  uint64 `json:"user_id"`
	Kind    string `json:"kind"`
	URN     string `json:"urn,omitempty"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

type NotifyClient struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

func NewNotifyClient(baseURL, secret string) *NotifyClient {
	return &NotifyClient{
		baseURL: baseURL,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send posts n to the messaging service.
func (s *NotifyClient) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+"/internal/notifications",
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.secret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf(
			"notify server error: status=%d body=%s",
			resp.StatusCode,
			string(b),
		)
	}
	return nil
}

// LogNotifier writes notifications to the log. Used when no messaging
// service is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Send(ctx context.Context, n Notification) error {
	l.log.Info("notification",
		zap.Uint64("user_id", n.UserID),
		zap.String("kind", n.Kind),
		zap.String("urn", n.URN),
		zap.String("subject", n.Subject),
		zap.String("message", n.Message),
	)
	return nil
}

// New returns a NotifyClient for baseURL, or a LogNotifier when it is empty.
func New(baseURL, secret string, log *zap.Logger) Notifier {
	if baseURL == "" {
		return NewLogNotifier(log)
	}
	return NewNotifyClient(baseURL, secret)
}
