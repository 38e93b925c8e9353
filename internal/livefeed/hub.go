package livefeed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// Hub holds the websocket sessions of connected owners and forwards every
// update published on the owner channels to them.
type Hub struct {
	client   *redis.Client
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]map[*websocket.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewHub creates a new Hub instance.
func NewHub(client *redis.Client, logger zerolog.Logger) *Hub {
	return &Hub{
		client: client,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:   logger,
		sessions: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Start subscribes to the owner channel pattern and begins forwarding.
func (h *Hub) Start() error {
	if h.ctx != nil {
		h.logger.Warn().Msg("Live feed hub is already running")
		return errors.New("live feed hub is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.pubsub = h.client.PSubscribe(h.ctx, ChannelForOwner("*"))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.forward()
	}()

	h.logger.Info().Msg("Live feed hub started")
	return nil
}

// Stop closes the subscription and every connected session.
func (h *Hub) Stop() error {
	if h.ctx == nil {
		h.logger.Warn().Msg("Live feed hub is not running")
		return errors.New("live feed hub is not running")
	}

	h.cancel()
	_ = h.pubsub.Close()
	h.wg.Wait()

	h.mu.Lock()
	for _, conns := range h.sessions {
		for conn := range conns {
			_ = conn.Close()
		}
	}
	h.sessions = make(map[string]map[*websocket.Conn]struct{})
	h.mu.Unlock()

	h.ctx = nil
	h.cancel = nil

	h.logger.Info().Msg("Live feed hub stopped")
	return nil
}

// forward consumes the pub/sub stream and writes each update to the
// sessions of the owner the channel belongs to.
func (h *Hub) forward() {
	ch := h.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.deliver(ownerFromChannel(msg.Channel), []byte(msg.Payload))
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) deliver(ownerID string, body []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.sessions[ownerID]))
	for conn := range h.sessions[ownerID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			h.logger.Debug().Err(err).Str("owner_id", ownerID).Msg("Dropping dead live feed session")
			h.detach(ownerID, conn)
			_ = conn.Close()
		}
	}
}

// ServeWS upgrades an HTTP request into a live feed session for ownerID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, ownerID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	h.mu.Lock()
	if h.sessions[ownerID] == nil {
		h.sessions[ownerID] = make(map[*websocket.Conn]struct{})
	}
	h.sessions[ownerID][conn] = struct{}{}
	h.mu.Unlock()

	h.logger.Info().Str("owner_id", ownerID).Msg("Live feed session attached")

	// Reader loop: clients do not send data, but reading is required to
	// notice closes and process control frames.
	go func() {
		defer func() {
			h.detach(ownerID, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) detach(ownerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.sessions[ownerID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.sessions, ownerID)
		}
	}
}
