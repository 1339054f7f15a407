// Package notify delivers user notifications over email, SMS and Slack.
// Content formatting belongs to the caller; a Dispatcher only routes a
// ready-made Payload to its channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Channel names a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelSlack Channel = "slack"
)

// ParseChannel validates a raw channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case ChannelEmail, ChannelSMS, ChannelSlack:
		return c, nil
	}
	return "", fmt.Errorf("unknown notification channel %q", s)
}

type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type SMS struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type Slack struct {
	Text string `json:"text"`
}

// Payload is the body of a notification task. Only the section matching each
// requested channel is read.
type Payload struct {
	Channels []Channel `json:"channels"`
	Email    *Email    `json:"email,omitempty"`
	SMS      *SMS      `json:"sms,omitempty"`
	Slack    *Slack    `json:"slack,omitempty"`
}

// ErrMissingSection is returned when a channel is requested without content.
var ErrMissingSection = errors.New("payload has no section for channel")

// Dispatcher delivers p on each of channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, channels []Channel, p Payload) error
}

// Router sends each channel to its own Dispatcher, falling back to Default
// for channels without a route. Failures of separate channels are joined.
type Router struct {
	Routes  map[Channel]Dispatcher
	Default Dispatcher
}

func (r *Router) Dispatch(ctx context.Context, channels []Channel, p Payload) error {
	var errs []error
	for _, ch := range channels {
		d, ok := r.Routes[ch]
		if !ok {
			d = r.Default
		}
		if d == nil {
			errs = append(errs, fmt.Errorf("%s: no dispatcher configured", ch))
			continue
		}
		if err := d.Dispatch(ctx, []Channel{ch}, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

// LogDispatcher writes notifications to the log instead of delivering them.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, channels []Channel, p Payload) error {
	for _, ch := range channels {
		attrs := []any{"component", "notify", "channel", ch}
		switch ch {
		case ChannelEmail:
			if p.Email != nil {
				attrs = append(attrs, "to", p.Email.To, "subject", p.Email.Subject)
			}
		case ChannelSMS:
			if p.SMS != nil {
				attrs = append(attrs, "to", p.SMS.To)
			}
		case ChannelSlack:
			if p.Slack != nil {
				attrs = append(attrs, "text", p.Slack.Text)
			}
		}
		slog.Info("notification", attrs...)
	}
	return nil
}

// section returns the part of p a channel delivers, or ErrMissingSection.
func section(ch Channel, p Payload) (any, error) {
	var v any
	switch ch {
	case ChannelEmail:
		if p.Email != nil {
			v = p.Email
		}
	case ChannelSMS:
		if p.SMS != nil {
			v = p.SMS
		}
	case ChannelSlack:
		if p.Slack != nil {
			v = p.Slack
		}
	default:
		return nil, fmt.Errorf("unknown notification channel %q", ch)
	}
	if v == nil {
		return nil, fmt.Errorf("%w %s", ErrMissingSection, ch)
	}
	return v, nil
}
