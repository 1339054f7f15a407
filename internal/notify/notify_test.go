package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []Channel
	err error
}

func (r *recorder) Dispatch(_ context.Context, channels []Channel, _ Payload) error {
	r.got = append(r.got, channels...)
	return r.err
}

func TestRouterRoutesPerChannel(t *testing.T) {
	mail := &recorder{}
	fallback := &recorder{}
	r := &Router{Routes: map[Channel]Dispatcher{ChannelEmail: mail}, Default: fallback}

	err := r.Dispatch(context.Background(), []Channel{ChannelEmail, ChannelSlack, ChannelSMS}, Payload{})
	require.NoError(t, err)
	assert.Equal(t, []Channel{ChannelEmail}, mail.got)
	assert.Equal(t, []Channel{ChannelSlack, ChannelSMS}, fallback.got)
}

func TestRouterJoinsFailures(t *testing.T) {
	boom := errors.New("smtp down")
	r := &Router{Routes: map[Channel]Dispatcher{
		ChannelEmail: &recorder{err: boom},
		ChannelSlack: &recorder{},
	}}

	err := r.Dispatch(context.Background(), []Channel{ChannelEmail, ChannelSlack, ChannelSMS}, Payload{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sms: no dispatcher configured")
}

func TestParseChannel(t *testing.T) {
	c, err := ParseChannel("slack")
	require.NoError(t, err)
	assert.Equal(t, ChannelSlack, c)
	_, err = ParseChannel("pigeon")
	assert.Error(t, err)
}

func TestSlackWebhookPostsText(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackWebhook(srv.URL)
	err := s.Dispatch(context.Background(), []Channel{ChannelSlack}, Payload{Slack: &Slack{Text: "Acme replied"}})
	require.NoError(t, err)
	assert.Equal(t, "Acme replied", body["text"])
}

func TestSlackWebhookErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()
	s := NewSlackWebhook(srv.URL)
	ctx := context.Background()

	err := s.Dispatch(ctx, []Channel{ChannelSlack}, Payload{Slack: &Slack{Text: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	err = s.Dispatch(ctx, []Channel{ChannelSlack}, Payload{})
	assert.ErrorIs(t, err, ErrMissingSection)

	err = s.Dispatch(ctx, []Channel{ChannelEmail}, Payload{})
	assert.Error(t, err)
}

func TestSectionRequiresContent(t *testing.T) {
	_, err := section(ChannelEmail, Payload{})
	assert.ErrorIs(t, err, ErrMissingSection)

	v, err := section(ChannelSMS, Payload{SMS: &SMS{To: "+15550100", Message: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "+15550100", v.(*SMS).To)
}

func TestLogDispatcherNeverFails(t *testing.T) {
	err := LogDispatcher{}.Dispatch(context.Background(), []Channel{ChannelEmail, ChannelSMS, ChannelSlack}, Payload{})
	assert.NoError(t, err)
}
