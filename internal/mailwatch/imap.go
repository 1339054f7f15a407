package mailwatch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
)

// GoogleTokenURL is the default OAuth2 token endpoint for refresh tokens.
const GoogleTokenURL = "https://oauth2.googleapis.com/token"

// RawMessage is one fetched, not yet parsed message.
type RawMessage struct {
	UID     imap.UID
	Subject string
	Data    []byte
}

// Inbox opens mailbox sessions.
type Inbox interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one logged-in connection with INBOX selected.
type Session interface {
	Unseen(ctx context.Context) ([]RawMessage, error)
	MarkSeen(ctx context.Context, msgs []RawMessage) error
	Close() error
}

// IMAPConfig locates and authenticates an IMAP inbox. With TokenSource set
// the session authenticates with OAUTHBEARER, otherwise with LOGIN.
type IMAPConfig struct {
	Addr        string
	Username    string
	Password    string
	TokenSource oauth2.TokenSource
	MaxPerPoll  int
	Lookback    time.Duration
	TLS         *tls.Config
}

// RefreshTokenSource exchanges a long-lived refresh token for access tokens.
func RefreshTokenSource(ctx context.Context, clientID, clientSecret, tokenURL, refreshToken string) oauth2.TokenSource {
	if tokenURL == "" {
		tokenURL = GoogleTokenURL
	}
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

// IMAPInbox is the go-imap backed Inbox.
type IMAPInbox struct {
	cfg IMAPConfig
}

func NewIMAPInbox(cfg IMAPConfig) (*IMAPInbox, error) {
	if cfg.Addr == "" || cfg.Username == "" {
		return nil, errors.New("imap addr and username are required")
	}
	if cfg.Password == "" && cfg.TokenSource == nil {
		return nil, errors.New("imap needs a password or an oauth token source")
	}
	if cfg.MaxPerPoll <= 0 {
		cfg.MaxPerPoll = 50
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 90 * 24 * time.Hour
	}
	if cfg.TLS == nil {
		cfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &IMAPInbox{cfg: cfg}, nil
}

func (in *IMAPInbox) Open(ctx context.Context) (Session, error) {
	c, err := imapclient.DialTLS(in.cfg.Addr, &imapclient.Options{TLSConfig: in.cfg.TLS})
	if err != nil {
		return nil, fmt.Errorf("imap dial tls: %w", err)
	}

	if in.cfg.TokenSource != nil {
		tok, err := in.cfg.TokenSource.Token()
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("imap oauth token: %w", err)
		}
		bearer := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: in.cfg.Username,
			Token:    tok.AccessToken,
		})
		if err := c.Authenticate(bearer); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("imap authenticate: %w", err)
		}
	} else if err := c.Login(in.cfg.Username, in.cfg.Password).Wait(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}

	if _, err := c.Select("INBOX", nil).Wait(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("imap select inbox: %w", err)
	}
	return &imapSession{c: c, cfg: in.cfg}, nil
}

type imapSession struct {
	c   *imapclient.Client
	cfg IMAPConfig
}

// Unseen fetches up to MaxPerPoll unseen messages within the lookback
// window, newest first, without setting \Seen.
func (s *imapSession) Unseen(ctx context.Context) ([]RawMessage, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Since:   time.Now().Add(-s.cfg.Lookback),
	}
	data, err := s.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap uid search unseen: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	slices.Reverse(uids)
	if len(uids) > s.cfg.MaxPerPoll {
		uids = uids[:s.cfg.MaxPerPoll]
	}

	body := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierNone, Peek: true}
	cmd := s.c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{body},
	})
	defer cmd.Close()

	out := make([]RawMessage, 0, len(uids))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return nil, fmt.Errorf("imap fetch collect: %w", err)
		}
		raw := RawMessage{UID: buf.UID}
		if buf.Envelope != nil {
			raw.Subject = buf.Envelope.Subject
		}
		if b := buf.FindBodySection(body); b != nil {
			raw.Data = append([]byte(nil), b...)
		}
		out = append(out, raw)
	}
	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("imap fetch close: %w", err)
	}
	return out, nil
}

func (s *imapSession) MarkSeen(_ context.Context, msgs []RawMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	uids := make([]imap.UID, len(msgs))
	for i, m := range msgs {
		uids[i] = m.UID
	}
	cmd := s.c.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("imap mark seen: %w", err)
	}
	return nil
}

func (s *imapSession) Close() error {
	_ = s.c.Logout().Wait()
	return s.c.Close()
}
