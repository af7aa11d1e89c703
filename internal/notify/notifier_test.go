package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventTxFailed, " flow_failed "}, discard())

	require.NoError(t, n.Notify(context.Background(), EventTxConfirmed, "ok", ""))
	require.NoError(t, n.Notify(context.Background(), EventTxFailed, "bad", ""))
	require.NoError(t, n.Notify(context.Background(), EventFlowFailed, "flow", ""))

	assert.Equal(t, []string{"bad", "flow"}, s.titles)
	assert.True(t, NewNotifier([]Sender{s}, nil, discard()).Enabled("anything"))
	assert.False(t, NewNotifier(nil, nil, discard()).Enabled(EventTxFailed))
}

func TestNotifierKeepsDeliveringAfterFailure(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("down")}
	ok := &recordingSender{name: "ok"}
	n := NewNotifier([]Sender{broken, ok}, nil, discard())

	err := n.Notify(context.Background(), EventTxFailed, "t", "m")
	require.Error(t, err)
	assert.ErrorContains(t, err, "broken: down")
	assert.Len(t, ok.titles, 1)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "Flow failed", "mint: reverted"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Flow failed*\nmint: reverted", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.ErrorContains(t, err, "discord: unexpected status 429: rate limited")
}
