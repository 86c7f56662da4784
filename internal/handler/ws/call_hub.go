package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peercall-backend/internal/database"
	"peercall-backend/internal/domain"
	"peercall-backend/internal/registry"
	"peercall-backend/pkg/constants"
	"peercall-backend/pkg/env"
	apperrors "peercall-backend/pkg/errors"
	jwtpkg "peercall-backend/pkg/jwt"
	"peercall-backend/pkg/logger"
	"peercall-backend/pkg/metrics"
)

const commandTimeout = 10 * time.Second

// CallCommands is the slice of the call service the socket dispatches to.
type CallCommands interface {
	StartCall(ctx context.Context, callerID, targetID uuid.UUID, withVideo, withAudio bool) (*domain.Call, error)
	AcceptCall(ctx context.Context, calleeID, callID uuid.UUID, withVideo, withAudio bool) (*domain.Call, error)
	DeclineCall(ctx context.Context, calleeID, callID uuid.UUID) (*domain.Call, error)
	EndCall(ctx context.Context, userID, callID uuid.UUID, reason domain.EndReason) (*domain.Call, error)
	ToggleMedia(ctx context.Context, userID, callID uuid.UUID, mediaType domain.MediaType, muted bool) (*domain.Call, error)
	HandleDisconnect(ctx context.Context, userID uuid.UUID, callID *uuid.UUID)
}

// SignalResolver finds the counterpart for a relayed frame.
type SignalResolver interface {
	ResolveCounterpart(ctx context.Context, senderID, callID uuid.UUID) (uuid.UUID, error)
}

// CallHub manages call WebSocket connections. Connections arrive
// unidentified; the first frame must be an identity handshake. Once a
// connection is bound to a user it can issue call commands and exchange
// signaling frames, and it receives every event addressed to that user.
// Cross-instance delivery goes through per-user Redis Pub/Sub channels.
type CallHub struct {
	registry    *registry.Registry
	redisClient *database.RedisClient

	callService   CallCommands
	signalService SignalResolver
	jwtManager    *jwtpkg.JWTManager

	// instanceID lets a hub ignore its own fanout messages
	instanceID string

	mu sync.RWMutex
	// Registered clients by connection id
	clients map[string]*CallClient
	// Cancel functions for per-user subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc

	register   chan *CallClient
	unregister chan *CallClient

	// Concurrency limit: maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// CallClient represents one WebSocket connection. userID stays uuid.Nil
// until the identity handshake succeeds; it is only touched from readPump.
type CallClient struct {
	hub    *CallHub
	conn   *websocket.Conn
	send   chan []byte
	connID string
	userID uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

var callUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Same allowlist the CORS middleware enforces; empty origins
		// are rejected because browsers always send one
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return env.AllowedOrigins()[origin]
	},
}

// NewCallHub creates a new call hub. The hub doubles as the call service's
// notifier, so it is built first and the services are attached with
// SetServices before Run.
func NewCallHub(
	reg *registry.Registry,
	redisClient *database.RedisClient,
	jwtManager *jwtpkg.JWTManager,
) *CallHub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_CALL_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	return &CallHub{
		registry:            reg,
		redisClient:         redisClient,
		jwtManager:          jwtManager,
		instanceID:          uuid.New().String(),
		clients:             make(map[string]*CallClient),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		register:            make(chan *CallClient),
		unregister:          make(chan *CallClient),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}
}

// SetServices attaches the services the hub dispatches to.
func (h *CallHub) SetServices(callService CallCommands, signalService SignalResolver) {
	h.callService = callService
	h.signalService = signalService
}

// Run processes client registration. Must be started once before ServeWS.
func (h *CallHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.connID] = client
			h.mu.Unlock()
			metrics.CallWebSocketConnections.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.connID]; ok {
				delete(h.clients, client.connID)
				close(client.send)
				client.cancel()
				metrics.CallWebSocketConnections.Dec()
			}
			h.mu.Unlock()

			h.handleDisconnect(client)
		}
	}
}

// handleDisconnect releases registry bindings for a dropped connection and
// asks the call service to end the call the connection was carrying. When
// the user's last connection drops without a binding (calls driven over
// REST never bind one), the service scans for their active calls instead.
func (h *CallHub) handleDisconnect(client *CallClient) {
	userID, identified := h.registry.UserOf(client.connID)
	if !identified {
		return
	}

	callID, hadCall := h.registry.CallOf(client.connID)
	h.registry.Unbind(client.connID)

	lastConnection := !h.registry.HasConnections(userID)
	if lastConnection {
		h.dropUserSubscription(userID)
	}

	if hadCall || lastConnection {
		var boundCall *uuid.UUID
		if hadCall {
			boundCall = &callID
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			h.callService.HandleDisconnect(ctx, userID, boundCall)
		}()
	}

	logger.Debug("Call WebSocket disconnected",
		zap.String("conn_id", client.connID),
		zap.String("user_id", userID.String()))
}

// identify binds a connection to a user after a valid handshake and makes
// sure the user's fanout channel is subscribed on this instance.
func (h *CallHub) identify(client *CallClient, userID uuid.UUID) {
	h.registry.Bind(client.connID, userID)

	h.mu.Lock()
	if _, ok := h.subscriptionCancels[userID]; !ok {
		ctx, cancel := context.WithCancel(context.Background())
		h.subscriptionCancels[userID] = cancel
		go h.subscribeToUser(ctx, userID)
	}
	h.mu.Unlock()
}

func (h *CallHub) dropUserSubscription(userID uuid.UUID) {
	h.mu.Lock()
	if cancel, ok := h.subscriptionCancels[userID]; ok {
		cancel()
		delete(h.subscriptionCancels, userID)
	}
	h.mu.Unlock()
}

func userChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user:signal:%s", userID)
}

// fanoutEnvelope wraps a frame published to a user channel. Origin is the
// publishing instance id; a hub skips envelopes it published itself because
// it already delivered the frame locally.
type fanoutEnvelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// subscribeToUser mirrors a user's fanout channel onto local connections.
func (h *CallHub) subscribeToUser(ctx context.Context, userID uuid.UUID) {
	pubsub := h.redisClient.SafeSubscribe(ctx, userChannel(userID))
	if pubsub == nil {
		logger.Warn("User fanout subscription skipped, Redis degraded",
			zap.String("user_id", userID.String()))
		return
	}
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe to user channel",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var envelope fanoutEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				logger.Warn("Failed to unmarshal fanout message",
					zap.String("user_id", userID.String()),
					zap.Error(err))
				continue
			}
			if envelope.Origin == h.instanceID {
				continue
			}
			h.deliverLocal(userID, envelope.Frame)
		}
	}
}

// NotifyUser delivers a server event to every connection of a user, local
// and remote. Delivery is best-effort; call state lives in the store.
func (h *CallHub) NotifyUser(userID uuid.UUID, event string, payload interface{}) {
	frame, err := json.Marshal(NewServerEvent(event, payload))
	if err != nil {
		logger.Error("Failed to marshal server event",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	h.deliverLocal(userID, frame)

	envelope, err := json.Marshal(&fanoutEnvelope{
		Origin: h.instanceID,
		Frame:  frame,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.redisClient.SafePublish(ctx, userChannel(userID), envelope).Err(); err != nil {
		logger.Warn("Failed to publish user event",
			zap.String("user_id", userID.String()),
			zap.String("event", event),
			zap.Error(err))
	}
}

// deliverLocal writes a frame to every local connection bound to userID.
func (h *CallHub) deliverLocal(userID uuid.UUID, frame []byte) {
	connIDs := h.registry.ConnectionsFor(userID)
	if len(connIDs) == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, connID := range connIDs {
		client, ok := h.clients[connID]
		if !ok {
			continue
		}
		select {
		case client.send <- frame:
			metrics.CallWebSocketMessagesTotal.WithLabelValues("outbound").Inc()
		default:
			// Slow consumer; the read side will clean up on close
			metrics.CallWebSocketErrorsTotal.WithLabelValues("send_buffer_full").Inc()
			client.conn.Close()
		}
	}
}

// sendEvent writes a frame to one connection only.
func (c *CallClient) sendEvent(event *ServerEvent) {
	frame, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
		metrics.CallWebSocketMessagesTotal.WithLabelValues("outbound").Inc()
	default:
		metrics.CallWebSocketErrorsTotal.WithLabelValues("send_buffer_full").Inc()
		c.conn.Close()
	}
}

func (c *CallClient) sendError(err error) {
	appErr := apperrors.GetAppError(err)
	c.sendEvent(NewErrorEvent(string(appErr.Code), appErr.Message))
}

// ServeWS handles WebSocket upgrade requests for the call socket.
func (h *CallHub) ServeWS(c *gin.Context) {
	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		metrics.CallWebSocketConnectionTotal.WithLabelValues("rejected").Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	conn, err := callUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		metrics.CallWebSocketConnectionTotal.WithLabelValues("upgrade_failed").Inc()
		return
	}

	metrics.CallWebSocketConnectionTotal.WithLabelValues("accepted").Inc()

	ctx, cancel := context.WithCancel(context.Background())
	client := &CallClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		connID: uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
	}

	h.register <- client

	go client.writePump()
	go func() {
		defer func() { <-h.semaphore }()
		client.readPump()
	}()
}

// readPump reads frames from the WebSocket and dispatches commands.
func (c *CallClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("conn_id", c.connID),
					zap.Error(err))
			}
			break
		}
		metrics.CallWebSocketMessagesTotal.WithLabelValues("inbound").Inc()

		event, err := ParseClientEvent(message)
		if err != nil {
			metrics.CallWebSocketErrorsTotal.WithLabelValues("bad_frame").Inc()
			c.sendEvent(NewErrorEvent(string(apperrors.ErrCodeInvalidInput), err.Error()))
			continue
		}

		c.handleEvent(event)
	}
}

// handleEvent executes one decoded client frame. Errors go back to the
// sender only; the counterpart never learns about a rejected command.
func (c *CallClient) handleEvent(event *ClientEvent) {
	if event.Type == EventIdentity {
		c.handleIdentity(event.Identity)
		return
	}

	if c.userID == uuid.Nil {
		c.sendError(apperrors.NotIdentifiedError())
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	switch event.Type {
	case EventStartCall:
		started, err := c.hub.callService.StartCall(ctx, c.userID,
			event.StartCall.TargetID, event.StartCall.WithVideo, event.StartCall.WithAudio)
		if err != nil {
			c.sendError(err)
			return
		}
		c.hub.registry.SetCall(c.connID, started.CallID)

	case EventAcceptCall:
		accepted, err := c.hub.callService.AcceptCall(ctx, c.userID,
			event.AcceptCall.CallID, event.AcceptCall.WithVideo, event.AcceptCall.WithAudio)
		if err != nil {
			c.sendError(err)
			return
		}
		c.hub.registry.SetCall(c.connID, accepted.CallID)

	case EventDeclineCall:
		if _, err := c.hub.callService.DeclineCall(ctx, c.userID, event.DeclineCall.CallID); err != nil {
			c.sendError(err)
		}

	case EventEndCall:
		if _, err := c.hub.callService.EndCall(ctx, c.userID,
			event.EndCall.CallID, domain.EndReason(event.EndCall.Reason)); err != nil {
			c.sendError(err)
			return
		}
		c.hub.registry.ClearCall(c.connID)

	case EventToggleMedia:
		if _, err := c.hub.callService.ToggleMedia(ctx, c.userID,
			event.ToggleMedia.CallID, event.ToggleMedia.MediaType, event.ToggleMedia.Muted); err != nil {
			c.sendError(err)
		}

	case EventOffer, EventAnswer, EventICECandidate:
		c.relaySignal(ctx, event.Type, event.Signal)
	}
}

func (c *CallClient) handleIdentity(payload *IdentityPayload) {
	claims, err := c.hub.jwtManager.ValidateToken(payload.Token)
	if err != nil {
		metrics.CallWebSocketErrorsTotal.WithLabelValues("bad_token").Inc()
		c.sendError(apperrors.InvalidTokenError("Invalid or expired token"))
		return
	}

	c.userID = claims.UserID
	c.hub.identify(c, claims.UserID)

	c.sendEvent(NewServerEvent(EventIdentityConfirmed, map[string]interface{}{
		"user_id": claims.UserID,
	}))

	logger.Debug("Call WebSocket identified",
		zap.String("conn_id", c.connID),
		zap.String("user_id", claims.UserID.String()))
}

// relaySignal forwards an opaque WebRTC frame to the call counterpart.
// The payload is never inspected.
func (c *CallClient) relaySignal(ctx context.Context, signalType string, payload *SignalPayload) {
	peerID, err := c.hub.signalService.ResolveCounterpart(ctx, c.userID, payload.CallID)
	if err != nil {
		metrics.CallSignalDroppedTotal.WithLabelValues(string(apperrors.GetAppError(err).Code)).Inc()
		c.sendError(err)
		return
	}

	c.hub.NotifyUser(peerID, signalType, &relayedSignal{
		CallID:   payload.CallID,
		SenderID: c.userID,
		Data:     payload.Data,
	})
	metrics.CallSignalRelayedTotal.WithLabelValues(signalType).Inc()
}

// writePump writes frames to the WebSocket and keeps the connection alive.
func (c *CallClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
