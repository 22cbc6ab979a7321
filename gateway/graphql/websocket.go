package graphql

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	gographql "github.com/graph-gophers/graphql-go"
	"github.com/gorilla/websocket"
)

// wsSubprotocol is the negotiated subprotocol for subscription
// connections.
const wsSubprotocol = "graphql-transport-ws"

// Message types for the subscription wire protocol.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// Close codes defined by the subscription wire protocol.
const (
	closeBadRequest          = 4400
	closeForbidden           = 4403
	closeInitTimeout         = 4408
	closeSubscriberExists    = 4409
	closeTooManyInitRequests = 4429
)

// wsWriteTimeout bounds a single frame write so one stalled client
// cannot pin a connection goroutine.
const wsWriteTimeout = 10 * time.Second

// wsMessage is a single protocol frame. ID is set on operation-scoped
// frames; Payload carries the frame-type-specific body.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// initPayload is the connection_init payload. The credential rides in
// the authorization field; encoding/json matches it case-insensitively
// so "Authorization" works too.
type initPayload struct {
	Authorization string `json:"authorization"`
}

// credential returns the raw token, accepting both the bare token and
// the "Bearer <token>" header form.
func (p initPayload) credential() string {
	if after, ok := strings.CutPrefix(p.Authorization, "Bearer "); ok {
		return after
	}
	return p.Authorization
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{wsSubprotocol},
	// Origin policy is enforced by the CORS layer for HTTP; subscription
	// connections accept any origin and rely on token auth.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn is one subscription connection: the socket, its fixed
// connection context and the active operations keyed by client id.
type wsConn struct {
	sock   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	opMu    sync.Mutex
	ops     map[string]context.CancelFunc

	server *Server
	logger *slog.Logger
}

// serveSubscription upgrades the request and drives the connection
// through init handshake, operation dispatch and teardown.
func (s *Server) serveSubscription(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		s.metrics.ObserveRequest(transportWS, outcomeRejected)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &wsConn{
		sock:   sock,
		ctx:    ctx,
		cancel: cancel,
		ops:    make(map[string]context.CancelFunc),
		server: s,
		logger: s.logger.With("remote", r.RemoteAddr),
	}
	defer conn.dispose()

	if !conn.handshake() {
		return
	}

	s.registerConn(conn)
	defer s.unregisterConn(conn)
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	conn.readLoop()
}

// handshake waits for connection_init, resolves the credential and
// acknowledges. Any failure closes the socket with the protocol code.
func (c *wsConn) handshake() bool {
	deadline := time.Now().Add(c.server.config.InitTimeout())
	_ = c.sock.SetReadDeadline(deadline)

	var msg wsMessage
	if err := c.sock.ReadJSON(&msg); err != nil {
		c.close(closeInitTimeout, "connection initialisation timeout")
		return false
	}
	if msg.Type != msgConnectionInit {
		c.close(closeBadRequest, "expected connection_init")
		return false
	}

	var payload initPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.close(closeBadRequest, "malformed connection_init payload")
			return false
		}
	}

	ctx, err := c.server.contexts.forConnection(c.ctx, payload)
	if err != nil {
		c.logger.Warn("subscription credential rejected", "error", err)
		c.close(closeForbidden, "forbidden")
		return false
	}
	c.ctx = ctx

	_ = c.sock.SetReadDeadline(time.Time{})
	return c.send(wsMessage{Type: msgConnectionAck})
}

// readLoop dispatches frames until the socket closes or the connection
// context is cancelled.
func (c *wsConn) readLoop() {
	for {
		var msg wsMessage
		if err := c.sock.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Debug("subscription connection read failed", "error", err)
			}
			return
		}

		switch msg.Type {
		case msgPing:
			c.send(wsMessage{Type: msgPong})
		case msgPong:
			// Unsolicited pongs are legal and ignored.
		case msgConnectionInit:
			c.close(closeTooManyInitRequests, "too many initialisation requests")
			return
		case msgSubscribe:
			if !c.subscribe(msg) {
				return
			}
		case msgComplete:
			c.completeOp(msg.ID)
		default:
			c.close(closeBadRequest, "unsupported message type "+msg.Type)
			return
		}
	}
}

// subscribe starts one operation. Queries and mutations are executed in
// one shot; subscriptions stream until complete, error or teardown.
// Returns false when the connection must close.
func (c *wsConn) subscribe(msg wsMessage) bool {
	if msg.ID == "" {
		c.close(closeBadRequest, "subscribe requires an id")
		return false
	}

	var req gqlRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Query == "" {
		c.close(closeBadRequest, "malformed subscribe payload")
		return false
	}
	vars, err := req.variables()
	if err != nil {
		c.close(closeBadRequest, "malformed subscribe variables")
		return false
	}

	opCtx, opCancel := context.WithCancel(c.ctx)
	c.opMu.Lock()
	if _, exists := c.ops[msg.ID]; exists {
		c.opMu.Unlock()
		opCancel()
		c.close(closeSubscriberExists, "subscriber for "+msg.ID+" already exists")
		return false
	}
	c.ops[msg.ID] = opCancel
	c.opMu.Unlock()

	go c.runOp(opCtx, msg.ID, &req, vars)
	return true
}

// runOp executes one operation to completion on its own goroutine.
func (c *wsConn) runOp(ctx context.Context, id string, req *gqlRequest, vars map[string]any) {
	defer c.completeOp(id)

	events, err := c.server.schema.Subscribe(ctx, req.Query, req.OperationName, vars)
	if err != nil {
		c.sendOpError(id, err.Error())
		c.server.metrics.ObserveRequest(transportWS, outcomeRejected)
		return
	}

	c.server.metrics.SubscriptionStarted()
	defer c.server.metrics.SubscriptionEnded()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				c.send(wsMessage{ID: id, Type: msgComplete})
				return
			}
			response, ok := event.(*gographql.Response)
			if !ok {
				c.logger.Error("unexpected event type from executor")
				return
			}
			payload, err := json.Marshal(response)
			if err != nil {
				c.logger.Error("event marshal failed", "error", err)
				return
			}
			if !c.send(wsMessage{ID: id, Type: msgNext, Payload: payload}) {
				return
			}
		}
	}
}

// completeOp cancels and forgets the operation with the given id.
func (c *wsConn) completeOp(id string) {
	c.opMu.Lock()
	cancel, ok := c.ops[id]
	if ok {
		delete(c.ops, id)
	}
	c.opMu.Unlock()
	if ok {
		cancel()
	}
}

// sendOpError emits an error frame terminating the operation.
func (c *wsConn) sendOpError(id, message string) {
	payload, err := json.Marshal([]wireError{{Message: message}})
	if err != nil {
		return
	}
	c.send(wsMessage{ID: id, Type: msgError, Payload: payload})
}

// send writes one frame. Writes are serialized: operation goroutines and
// the read loop share the socket.
func (c *wsConn) send(msg wsMessage) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.sock.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.sock.WriteJSON(msg); err != nil {
		c.logger.Debug("subscription frame write failed", "error", err)
		return false
	}
	return true
}

// close sends a close frame with the given protocol code and releases
// the socket.
func (c *wsConn) close(code int, reason string) {
	c.writeMu.Lock()
	_ = c.sock.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = c.sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteTimeout))
	c.writeMu.Unlock()
	c.dispose()
}

// dispose cancels every operation and the connection context, then
// closes the socket. Safe to call more than once.
func (c *wsConn) dispose() {
	c.opMu.Lock()
	for id, cancel := range c.ops {
		delete(c.ops, id)
		cancel()
	}
	c.opMu.Unlock()
	c.cancel()
	_ = c.sock.Close()
}

// shutdown is called during server drain: clients are told the server is
// going away before the socket drops.
func (c *wsConn) shutdown() {
	c.writeMu.Lock()
	_ = c.sock.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = c.sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(wsWriteTimeout))
	c.writeMu.Unlock()
	c.dispose()
}
