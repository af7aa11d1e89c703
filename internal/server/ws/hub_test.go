package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/store/memory"
)

func TestHubRelaysBusMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewSignalBus()
	hub := NewHub(bus, Config{
		Channels: []string{domain.ChannelTransactions, domain.ChannelFlows},
		Snapshot: func() any { return map[string]int{"monitored": 2} },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?channels=" + domain.ChannelTransactions
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "status", env.Channel)
	assert.JSONEq(t, `{"monitored":2}`, string(env.Data))

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.ChannelFlows, []byte(`{"event":"flow_started"}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelTransactions, []byte(`{"event":"appended"}`)))

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, domain.ChannelTransactions, env.Channel)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "appended", payload["event"])
}
