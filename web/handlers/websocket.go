package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/internal/metrics"
	"github.com/scrypster/cadence/pkg/types"
)

// InsightEvent is the message pushed to insight subscribers after a
// detection run produced patterns.
type InsightEvent struct {
	Type      string                    `json:"type"`
	OwnerID   string                    `json:"owner_id"`
	Kind      types.PatternKind         `json:"kind"`
	Results   []*engine.DetectionResult `json:"results"`
	Timestamp time.Time                 `json:"timestamp"`
}

// EventPatternDetection is the InsightEvent type for detection results.
const EventPatternDetection = "pattern_detection"

// InsightHub fans detection results out to WebSocket subscribers. Each
// subscriber follows a single owner. It implements engine.InsightNotifier.
type InsightHub struct {
	clients    map[subscriber]bool
	broadcast  chan outbound
	register   chan subscriber
	unregister chan subscriber
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc

	allowedOrigins map[string]bool
	logger         logrus.FieldLogger
	metrics        *metrics.Metrics
}

// outbound is an encoded event addressed to one owner's subscribers.
type outbound struct {
	ownerID string
	data    []byte
}

// subscriber allows for both real clients and test clients.
type subscriber interface {
	ownerID() string
	getSendChannel() chan []byte
	close()
}

// Client is a WebSocket connection following one owner.
type Client struct {
	hub   *InsightHub
	conn  *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	owner string
	send  chan []byte
	once  sync.Once
}

func (c *Client) ownerID() string             { return c.owner }
func (c *Client) getSendChannel() chan []byte { return c.send }

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}
}

// NewInsightHub creates a hub. allowedOrigins are host[:port] values a
// browser Origin header may carry in addition to the request's own host.
func NewInsightHub(logger logrus.FieldLogger, m *metrics.Metrics, allowedOrigins ...string) *InsightHub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &InsightHub{
		clients:        make(map[subscriber]bool),
		broadcast:      make(chan outbound, 256),
		register:       make(chan subscriber),
		unregister:     make(chan subscriber),
		ctx:            ctx,
		cancel:         cancel,
		allowedOrigins: allowed,
		logger:         logger.WithField("component", "insight_hub"),
		metrics:        m,
	}
}

// Run starts the hub's message processing loop. It returns after Stop.
func (h *InsightHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.RecordSubscriberConnect()
			h.logger.WithFields(logrus.Fields{"owner_id": client.ownerID(), "total": count}).Debug("insight subscriber connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
				h.metrics.RecordSubscriberDisconnect()
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("total", count).Debug("insight subscriber disconnected")

		case msg := <-h.broadcast:
			// Full lock: slow clients are dropped from the map.
			h.mu.Lock()
			for client := range h.clients {
				if client.ownerID() != msg.ownerID {
					continue
				}
				sendChan := client.getSendChannel()
				select {
				case sendChan <- msg.data:
				default:
					close(sendChan)
					delete(h.clients, client)
					h.metrics.RecordSubscriberDisconnect()
					h.logger.WithField("owner_id", client.ownerID()).Warn("insight subscriber too slow, disconnected")
				}
			}
			h.mu.Unlock()
			h.metrics.RecordBroadcast()

		case <-h.ctx.Done():
			h.logger.Debug("insight hub stopping")
			return
		}
	}
}

// Stop shuts down the hub and closes every subscriber.
func (h *InsightHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
		h.metrics.RecordSubscriberDisconnect()
	}
	h.clients = make(map[subscriber]bool)
	h.mu.Unlock()
}

// Subscribers returns the number of connected subscribers.
func (h *InsightHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NotifyDetection implements engine.InsightNotifier. It never blocks; events
// are dropped when the broadcast buffer is full.
func (h *InsightHub) NotifyDetection(ownerID string, kind types.PatternKind, results []*engine.DetectionResult) {
	data, err := json.Marshal(&InsightEvent{
		Type:      EventPatternDetection,
		OwnerID:   ownerID,
		Kind:      kind,
		Results:   results,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal insight event")
		return
	}
	h.Publish(ownerID, data)
}

// Publish sends an already encoded event to ownerID's subscribers. Events
// relayed from other processes arrive this way. It never blocks.
func (h *InsightHub) Publish(ownerID string, data []byte) {
	select {
	case h.broadcast <- outbound{ownerID: ownerID, data: data}:
	default:
		h.logger.WithField("owner_id", ownerID).Warn("insight broadcast channel full, dropping event")
	}
}

// Register adds a subscriber to the hub.
func (h *InsightHub) Register(client subscriber) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a subscriber from the hub. Safe to call after Stop.
func (h *InsightHub) Unregister(client subscriber) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ServeHTTP upgrades GET /ws/insights?owner=ID requests.
func (h *InsightHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		respondError(w, http.StatusServiceUnavailable, "insight feed stopped", nil)
		return
	}

	owner := r.URL.Query().Get("owner")
	if owner == "" {
		respondError(w, http.StatusBadRequest, "owner query parameter is required", nil)
		return
	}

	if origin := r.Header.Get("Origin"); origin != "" {
		u, err := url.Parse(origin)
		if err != nil || (u.Host != r.Host && !h.allowedOrigins[u.Host]) {
			http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
			return
		}
	}

	patterns := make([]string, 0, len(h.allowedOrigins))
	for o := range h.allowedOrigins {
		patterns = append(patterns, o)
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: patterns,
	})
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		owner: owner,
		send:  make(chan []byte, 64),
	}
	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends events to the WebSocket connection.
func (c *Client) writePump() {
	defer c.shutdown()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()

		if err != nil {
			c.hub.logger.WithError(err).Debug("insight write failed")
			return
		}
	}
}

// readPump drains client messages to detect disconnects.
func (c *Client) readPump() {
	defer c.shutdown()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			return
		}
	}
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		c.hub.Unregister(c)
		c.close()
	})
}

// TestSubscriber is an in-process subscriber for tests.
type TestSubscriber struct {
	Owner    string
	SendChan chan []byte
}

func (s *TestSubscriber) ownerID() string             { return s.Owner }
func (s *TestSubscriber) getSendChannel() chan []byte { return s.SendChan }
func (s *TestSubscriber) close()                      {}
