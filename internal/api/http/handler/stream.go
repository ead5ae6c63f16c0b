package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/model"
)

const (
	wsTypeNotification = "notification"

	defaultPingInterval = 30 * time.Second
	defaultSendBuffer   = 64
	writeWait           = 5 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// requests are authenticated before the upgrade
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type subscriber struct {
	send chan []byte
}

// Hub fans accepted notifications out to websocket subscribers. A subscriber
// whose buffer is full is dropped instead of slowing the others down.
type Hub struct {
	log          *zap.Logger
	pingInterval time.Duration
	sendBuffer   int

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub(log *zap.Logger, pingInterval time.Duration, sendBuffer int) *Hub {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}

	return &Hub{
		log:          log,
		pingInterval: pingInterval,
		sendBuffer:   sendBuffer,
		subs:         make(map[*subscriber]struct{}),
	}
}

func (h *Hub) Broadcast(env *model.Envelope) {
	msg, err := json.Marshal(wsMessage{Type: wsTypeNotification, Data: json.RawMessage(env.Body)})
	if err != nil {
		h.log.Error("Failed to encode websocket message", zap.String("messageID", env.MessageID), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		select {
		case s.send <- msg:
		default:
			h.log.Warn("Dropping slow websocket subscriber")
			delete(h.subs, s)
			close(s.send)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs {
		delete(h.subs, s)
		close(s.send)
	}
}

func (h *Hub) subscribe() *subscriber {
	s := &subscriber{send: make(chan []byte, h.sendBuffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.send)
	}
}

// Stream
// @Summary Live stream of accepted notifications.
// @Description Upgrades to a websocket and pushes {"type":"notification","data":{...}} frames.
// @Tags Notifications
// @Router /notifications/ws [get]
func (h *Hub) Stream(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s := h.subscribe()
	defer h.unsubscribe(s)

	pongWait := 2 * h.pingInterval

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// subscribers never send anything; reading keeps ping/pong flowing
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn("ws write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
