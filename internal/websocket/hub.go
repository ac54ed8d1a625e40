package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"relay-backend/internal/middleware"
	"relay-backend/internal/models"
	"relay-backend/internal/relay"
	"relay-backend/internal/worker"
)

const writeWait = 10 * time.Second

// Hub owns every live socket, grouped by session, and delivers events to them.
type Hub struct {
	mu          sync.RWMutex
	sessions    map[uuid.UUID][]*Client
	cancelFuncs map[uuid.UUID]context.CancelFunc

	manager     *relay.Manager
	pool        *worker.Pool
	tokens      *middleware.SessionTokens
	redisClient *redis.Client
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// NewHub builds a hub. redisClient may be nil, in which case events are
// written straight to this process's sockets.
func NewHub(
	manager *relay.Manager,
	pool *worker.Pool,
	tokens *middleware.SessionTokens,
	redisClient *redis.Client,
	allowedOrigin string,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		sessions:    make(map[uuid.UUID][]*Client),
		cancelFuncs: make(map[uuid.UUID]context.CancelFunc),
		manager:     manager,
		pool:        pool,
		tokens:      tokens,
		redisClient: redisClient,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigin),
		},
		logger: logger,
	}
}

// checkOrigin admits the configured frontend and clients that send no Origin
// header at all (non-browser tools).
func checkOrigin(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == allowed
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Resume the session named by the token, otherwise start a new one
	sessionID := uuid.New()
	if tokenStr := r.URL.Query().Get("token"); tokenStr != "" {
		id, err := h.tokens.Parse(tokenStr)
		if err != nil {
			h.logger.Debug("ignoring resume token", zap.Error(err))
		} else {
			sessionID = id
		}
	}

	token, err := h.tokens.Issue(sessionID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}

	c := &Client{
		hub:       h,
		conn:      conn,
		id:        uuid.New(),
		sessionID: sessionID,
	}

	h.registerClient(c)
	h.manager.OnConnect(c)

	c.send(models.WSMessage{
		Type:    models.EventSession,
		Payload: models.SessionInfo{SessionID: sessionID, Token: token},
	})

	go c.readLoop()
}

// SendToSession delivers msg to every live connection of the session. With
// Redis configured the event goes through pub/sub so any instance holding
// the session's sockets can write it.
func (h *Hub) SendToSession(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	if h.redisClient != nil {
		err := h.redisClient.Publish(context.WithoutCancel(ctx), sessionChannel(sessionID), data).Err()
		if err == nil {
			return
		}
		h.logger.Warn("redis publish failed, delivering locally",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
	}

	h.broadcast(sessionID, data)
}

// Connections returns the number of live sockets.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, clients := range h.sessions {
		n += len(clients)
	}
	return n
}

// Close drops every connection and pub/sub subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, clients := range h.sessions {
		for _, c := range clients {
			c.conn.Close()
		}
		if cancel, ok := h.cancelFuncs[id]; ok {
			cancel()
		}
	}
	h.sessions = make(map[uuid.UUID][]*Client)
	h.cancelFuncs = make(map[uuid.UUID]context.CancelFunc)
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[c.sessionID] = append(h.sessions[c.sessionID], c)

	// Subscribe before any prompt of the session can be answered
	if h.redisClient != nil && len(h.sessions[c.sessionID]) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[c.sessionID] = cancel
		pubsub := h.redisClient.Subscribe(ctx, sessionChannel(c.sessionID))
		go h.forwardPubSub(ctx, c.sessionID, pubsub)
	}
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()

	clients := h.sessions[c.sessionID]
	for i, other := range clients {
		if other == c {
			h.sessions[c.sessionID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}

	if len(h.sessions[c.sessionID]) == 0 {
		delete(h.sessions, c.sessionID)
		if cancel, ok := h.cancelFuncs[c.sessionID]; ok {
			cancel()
			delete(h.cancelFuncs, c.sessionID)
		}
	}
}

func (h *Hub) forwardPubSub(ctx context.Context, sessionID uuid.UUID, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(sessionID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(sessionID uuid.UUID, data []byte) {
	h.mu.RLock()
	clients := make([]*Client, len(h.sessions[sessionID]))
	copy(clients, h.sessions[sessionID])
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.logger.Debug("write to client failed",
				zap.String("connection_id", c.id.String()),
				zap.Error(err),
			)
		}
	}
}

func sessionChannel(sessionID uuid.UUID) string {
	return "session_events:" + sessionID.String()
}
