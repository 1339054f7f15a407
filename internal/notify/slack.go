package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlackWebhook posts to a Slack incoming-webhook URL.
type SlackWebhook struct {
	URL    string
	Client *http.Client
}

func NewSlackWebhook(url string) *SlackWebhook {
	return &SlackWebhook{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SlackWebhook) Dispatch(ctx context.Context, channels []Channel, p Payload) error {
	for _, ch := range channels {
		if ch != ChannelSlack {
			return fmt.Errorf("slack webhook cannot deliver %s", ch)
		}
		if p.Slack == nil {
			return fmt.Errorf("%w %s", ErrMissingSection, ch)
		}
		if err := s.post(ctx, p.Slack.Text); err != nil {
			return err
		}
	}
	return nil
}

func (s *SlackWebhook) post(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
