package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/mbeoliero/kit/log"

	"github.com/parlorhq/parlor/pkg/errcode"
)

// Client represents a connected WebSocket client. Identity fields are set
// once at upgrade time and never re-derived from payloads.
type Client struct {
	mu         sync.Mutex
	conn       ClientConn
	UserId     string // empty for anonymous connections
	TenantId   string
	PlatformId int
	Token      string
	ConnId     string
	rooms      map[string]struct{} // room keys this connection subscribed to
	server     *WsServer
	closed     atomic.Bool
	closedErr  error
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewClient creates a new client
func NewClient(conn ClientConn, userId, tenantId string, platformId int, token, connId string, server *WsServer) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:       conn,
		UserId:     userId,
		TenantId:   tenantId,
		PlatformId: platformId,
		Token:      token,
		ConnId:     connId,
		rooms:      make(map[string]struct{}, 4),
		server:     server,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// IsAuthenticated reports whether the connection carries a verified identity
func (c *Client) IsAuthenticated() bool {
	return c.UserId != ""
}

// Start starts the client message handling
func (c *Client) Start() {
	go c.readLoop()
}

// readLoop continuously reads messages from the connection
func (c *Client) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			c.closedErr = ErrPanic
			log.CtxError(c.ctx, "client read loop panic: user_id=%s, error=%v", c.UserId, r)
		}
		c.close()
	}()

	for {
		message, err := c.conn.ReadMessage()
		if err != nil {
			log.CtxDebug(c.ctx, "read message error: user_id=%s, error=%v", c.UserId, err)
			c.closedErr = err
			return
		}

		if c.closed.Load() {
			c.closedErr = ErrConnClosed
			return
		}

		c.handleMessage(message)
	}
}

// handleMessage handles a single incoming event. Protocol and handler errors
// produce an error reply; they never terminate the connection.
func (c *Client) handleMessage(message []byte) {
	var req Request
	if err := json.Unmarshal(message, &req); err != nil {
		c.replyError(&req, errcode.ErrInvalidProtocol)
		return
	}

	log.CtxDebug(c.ctx, "received event: event=%s, conn_id=%s, user_id=%s", req.Event, c.ConnId, c.UserId)

	event, data, err := c.server.dispatch(c.ctx, c, &req)
	c.reply(&req, event, err, data)
}

// reply sends a response correlated to a request. event overrides the echoed
// event kind when the handler answers with a different one (ping -> pong).
func (c *Client) reply(req *Request, event string, err error, data interface{}) {
	if event == "" {
		event = req.Event
	}
	resp := Response{
		Event: event,
		OpId:  req.OpId,
		Data:  data,
	}

	if err != nil {
		resp.Event = EventError
		if e, ok := err.(*errcode.Error); ok {
			resp.Code = e.Code
			resp.Msg = e.Msg
		} else {
			resp.Code = errcode.ErrInternalServer.Code
			resp.Msg = errcode.ErrInternalServer.Msg
		}
	}

	if werr := c.writeResponse(resp); werr != nil {
		log.CtxDebug(c.ctx, "write response error: conn_id=%s, error=%v", c.ConnId, werr)
	}
}

// replyError sends an error response
func (c *Client) replyError(req *Request, e *errcode.Error) {
	c.reply(req, "", e, nil)
}

// writeResponse writes a response envelope to the connection
func (c *Client) writeResponse(resp Response) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return c.conn.WriteMessage(data)
}

// Push sends a server-initiated event to the client
func (c *Client) Push(event string, data interface{}) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.writeResponse(Response{Event: event, Data: data})
}

// PushRaw writes a pre-marshaled envelope to the client
func (c *Client) PushRaw(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	return c.conn.WriteMessage(data)
}

// trackRoom records a room subscription on the connection
func (c *Client) trackRoom(roomKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomKey] = struct{}{}
}

// untrackRoom drops a room subscription record
func (c *Client) untrackRoom(roomKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomKey)
}

// Rooms returns a snapshot of the connection's room subscriptions
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.rooms))
	for key := range c.rooms {
		keys = append(keys, key)
	}
	return keys
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.cancel()
	return c.conn.Close()
}

// close handles cleanup when connection is closed
func (c *Client) close() {
	c.Close()
	c.server.UnregisterClient(c)
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}
