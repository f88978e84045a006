package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

type memBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
	up   chan string
}

func newMemBus() *memBus {
	return &memBus{subs: map[string]chan []byte{}, up: make(chan string, 8)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 8)
	b.mu.Lock()
	b.subs[channel] = ch
	b.mu.Unlock()
	b.up <- channel
	return ch, nil
}

type staticAddresses map[string][]string

func (s staticAddresses) Addresses(purpose string) []string { return s[purpose] }

func startHub(t *testing.T, bus domain.SignalBus, wallets AddressLister) (*websocket.Conn, context.CancelFunc) {
	t.Helper()
	hub := NewHub(bus, wallets, nil, Config{Mode: "Full"})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	t.Cleanup(cancel)
	return conn, cancel
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestStatusSentOnConnect(t *testing.T) {
	conn, _ := startHub(t, nil, nil)
	msg := readFrame(t, conn)
	assert.Equal(t, "keeper_status", msg["type"])
	assert.Equal(t, "full", msg["payload"].(map[string]any)["mode"])
}

func TestGetAddressesReply(t *testing.T) {
	conn, _ := startHub(t, nil, staticAddresses{
		domain.PurposeRollover: {"0x00000000000000000000000000000000000000A1"},
	})
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "getAddresses"}))
	msg := readFrame(t, conn)
	assert.Equal(t, "addresses", msg["type"])
	assert.Equal(t, map[string]any{
		"rollover":  []any{"0x00000000000000000000000000000000000000A1"},
		"arbitrage": []any{},
	}, msg["payload"])
}

func TestUnknownActionAnsweredWithError(t *testing.T) {
	conn, _ := startHub(t, nil, nil)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "rollover"}))
	msg := readFrame(t, conn)
	assert.Equal(t, "error", msg["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	msg = readFrame(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestBusEventsForwarded(t *testing.T) {
	bus := newMemBus()
	conn, _ := startHub(t, bus, nil)
	readFrame(t, conn)

	for range Channels {
		select {
		case <-bus.up:
		case <-time.After(2 * time.Second):
			t.Fatal("hub did not subscribe")
		}
	}

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelArbitrage,
		[]byte(`{"type":"arbitrage","status":"success"}`)))
	msg := readFrame(t, conn)
	assert.Equal(t, "arbitrage", msg["type"])
	assert.Equal(t, "success", msg["status"])
}

func TestClientsClosedOnShutdown(t *testing.T) {
	conn, cancel := startHub(t, nil, nil)
	readFrame(t, conn)
	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
}
