// Package ws serves the read-only observer WebSocket. Engine events published
// on the signal bus are fanned out to every connected client, and clients can
// ask for the wallet pool's addresses.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// Channels are the bus channels forwarded to observers.
var Channels = []string{
	domain.ChannelRollover,
	domain.ChannelArbitrage,
}

// Origin checks are left to the API key middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// AddressLister returns the addresses of pool wallets tagged with purpose.
type AddressLister interface {
	Addresses(purpose string) []string
}

// Config is the keeper metadata sent to each client on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans bus events out to observers. Only Run touches the client set.
type Hub struct {
	bus     domain.SignalBus
	wallets AddressLister
	logger  *slog.Logger

	mode      string
	startedAt time.Time

	events     chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	stop       sync.Once
}

// NewHub creates a hub. bus may be nil, in which case only address queries
// and the status frame are served.
func NewHub(bus domain.SignalBus, wallets AddressLister, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	started := cfg.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bus:        bus,
		wallets:    wallets,
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  started,
		events:     make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done. Closing done tells every
// client to send a going-away frame.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stop.Do(func() { close(h.done) })

	if h.bus != nil {
		for _, ch := range Channels {
			go h.forward(ctx, ch)
		}
	}

	clients := make(map[*client]struct{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c := <-h.register:
			clients[c] = struct{}{}
			h.logger.Info("observer connected", slog.Int("clients", len(clients)))

		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				h.logger.Info("observer disconnected", slog.Int("clients", len(clients)))
			}

		case ev := <-h.events:
			for c := range clients {
				if !c.offer(ev) {
					h.logger.Warn("observer lagging, event dropped")
				}
			}
		}
	}
}

// forward pumps one bus channel into the event loop.
func (h *Hub) forward(ctx context.Context, channel string) {
	events, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Debug("forwarding bus channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", channel))
				return
			}
			select {
			case h.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades GET /ws and attaches the connection to the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	c.offer(h.status())

	go c.writeLoop()
	go c.readLoop()
}

// status is the keeper_status frame sent on connect.
func (h *Hub) status() []byte {
	uptime := max(int64(time.Since(h.startedAt).Seconds()), 0)
	return frame("keeper_status", map[string]any{
		"mode":           h.mode,
		"uptime_seconds": uptime,
	})
}

// addresses answers getAddresses. Purposes without wallets map to [].
func (h *Hub) addresses() []byte {
	out := map[string][]string{
		domain.PurposeRollover:  {},
		domain.PurposeArbitrage: {},
	}
	if h.wallets != nil {
		for purpose := range out {
			if addrs := h.wallets.Addresses(purpose); len(addrs) > 0 {
				out[purpose] = addrs
			}
		}
	}
	return frame("addresses", out)
}
