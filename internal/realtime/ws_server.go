package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/pkg/errcode"
	"github.com/parlorhq/parlor/pkg/jwt"
)

// EventHandler processes one inbound event after the policy checks pass.
// It returns the reply event kind (empty echoes the request event), the
// reply payload, and an error.
type EventHandler func(ctx context.Context, client *Client, ac *AuthorizedContext, data json.RawMessage) (string, interface{}, error)

// refExtractor pulls the conversation reference out of a payload so the
// policy enforcer can run membership or access checks before the handler.
type refExtractor func(data json.RawMessage) (*ConversationRef, error)

type eventEntry struct {
	requirements Requirements
	extractRef   refExtractor
	handle       EventHandler
}

// WsServer owns the realtime surface: connection lifecycle, the event
// handler table, the broadcast router, and the presence/typing trackers.
type WsServer struct {
	upgrader       *websocket.Upgrader
	cfg            *config.Config
	rooms          *RoomMap
	presence       *PresenceTracker
	typing         *TypingTracker
	oracle         *MembershipOracle
	enforcer       *PolicyEnforcer
	registerChan   chan *Client
	unregisterChan chan *Client
	handlers       map[string]eventEntry
	onlineConnNum  atomic.Int64
	maxConnNum     int64
}

// NewWsServer creates a WebSocket server
func NewWsServer(cfg *config.Config, rdb *redis.Client, store MembershipStore) *WsServer {
	oracle := NewMembershipOracle(store, cfg.WebSocket.MembershipTTL)

	s := &WsServer{
		cfg:            cfg,
		rooms:          NewRoomMap(),
		presence:       NewPresenceTracker(rdb),
		typing:         NewTypingTracker(cfg.Typing.TTL),
		oracle:         oracle,
		enforcer:       NewPolicyEnforcer(oracle),
		registerChan:   make(chan *Client, 1000),
		unregisterChan: make(chan *Client, 1000),
		maxConnNum:     cfg.WebSocket.MaxConnNum,
	}

	s.upgrader = &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}

	s.buildHandlerTable()
	return s
}

// buildHandlerTable wires every inbound event to its requirements and
// handler. The table is immutable after startup.
func (s *WsServer) buildHandlerTable() {
	typingRef := func(data json.RawMessage) (*ConversationRef, error) {
		var req TypingReq
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &ConversationRef{ConversationType: req.ConversationType, ConversationId: req.ConversationId}, nil
	}
	joinRef := func(data json.RawMessage) (*ConversationRef, error) {
		var req RoomReq
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		if req.TargetType != "conversation" {
			// Non-conversation targets are validated in the handler
			return nil, nil
		}
		return &ConversationRef{ConversationType: req.ConversationType, ConversationId: req.TargetId}, nil
	}

	s.handlers = map[string]eventEntry{
		EventPresencePing: {
			requirements: Requirements{RequireAuth: true},
			handle:       s.handlePresencePing,
		},
		EventPresenceIdle: {
			requirements: Requirements{RequireAuth: true, RequireTenant: true},
			handle:       s.handlePresenceIdle,
		},
		EventTypingStart: {
			requirements: Requirements{RequireAuth: true, RequireTenant: true, RequireMembership: true},
			extractRef:   typingRef,
			handle:       s.handleTypingStart,
		},
		EventTypingStop: {
			requirements: Requirements{RequireAuth: true, RequireTenant: true, RequireMembership: true},
			extractRef:   typingRef,
			handle:       s.handleTypingStop,
		},
		EventRoomJoin: {
			requirements: Requirements{RequireAuth: true, RequireTenant: true, RequireAccess: true},
			extractRef:   joinRef,
			handle:       s.handleRoomJoin,
		},
		EventRoomLeave: {
			requirements: Requirements{RequireAuth: true},
			handle:       s.handleRoomLeave,
		},
	}
}

// Run starts the event loop and the background sweeps
func (s *WsServer) Run(ctx context.Context) {
	go s.eventLoop(ctx)
	go s.typingSweepLoop(ctx)
	go s.presenceSweepLoop(ctx)
	go s.oracleSweepLoop(ctx)
	log.Info("realtime server started: max_conns=%d", s.maxConnNum)
}

// eventLoop handles client registration and unregistration
func (s *WsServer) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-s.registerChan:
			s.registerClient(ctx, client)
		case client := <-s.unregisterChan:
			s.unregisterClient(ctx, client)
		}
	}
}

// ========== Connection lifecycle ==========

// HandleConnection handles a new WebSocket connection (net/http handler)
func (s *WsServer) HandleConnection(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if s.onlineConnNum.Load() >= s.maxConnNum {
		http.Error(w, errcode.ErrConnOverLimit.Msg, http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get(QueryToken)
	platformIdStr := r.URL.Query().Get(QueryPlatformId)
	platformId := 0
	if platformIdStr != "" {
		platformId, _ = strconv.Atoi(platformIdStr)
	}

	// A missing token yields an anonymous connection; a bad one is rejected
	userId, tenantId := "", ""
	if token != "" {
		claims, err := jwt.ParseToken(token, s.cfg.JWT.Secret)
		if err != nil {
			log.CtxDebug(ctx, "token validation failed: error=%v", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userId, tenantId = claims.UserId, claims.TenantId
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.CtxWarn(ctx, "websocket upgrade failed: %v", err)
		return
	}

	connId := uuid.New().String()
	wsConn := NewWebSocketClientConn(conn, s.cfg.WebSocket.MaxMessageSize, s.cfg.WebSocket.WriteChannelSize, s.cfg.WebSocket.PongWait, s.cfg.WebSocket.PingPeriod)
	client := NewClient(wsConn, userId, tenantId, platformId, token, connId, s)

	s.registerChan <- client
	client.Start()
}

// registerClient registers a client and brings its presence online
func (s *WsServer) registerClient(ctx context.Context, client *Client) {
	s.onlineConnNum.Add(1)

	if client.IsAuthenticated() {
		s.rooms.Subscribe(UserRoom(client.UserId), client)
		if client.TenantId != "" {
			s.rooms.Subscribe(TenantRoom(client.TenantId), client)

			update, changed := s.presence.MarkConnected(ctx, client.TenantId, client.UserId)
			if changed {
				s.Publish(TenantRoom(client.TenantId), EventPresenceUpdate, update, "")
			}
			s.sendPresenceSnapshot(client)
		}
	}

	log.CtxInfo(ctx, "client registered: user_id=%s, tenant_id=%s, conn_id=%s, online_conns=%d",
		client.UserId, client.TenantId, client.ConnId, s.onlineConnNum.Load())
}

// unregisterClient tears a connection down: typing entries are force-stopped
// first so their deltas still reach the rooms, then the connection leaves
// every room and its cached membership answers are dropped.
func (s *WsServer) unregisterClient(ctx context.Context, client *Client) {
	s.onlineConnNum.Add(-1)

	for _, delta := range s.typing.DisconnectCleanup(client.ConnId) {
		s.Publish(ConversationRoom(delta.ConversationType, delta.ConversationId), EventTypingUpdate, delta, client.ConnId)
	}

	s.rooms.RemoveConn(client)
	s.oracle.InvalidateConn(client.ConnId)

	if client.IsAuthenticated() && client.TenantId != "" {
		update, changed := s.presence.MarkDisconnected(ctx, client.TenantId, client.UserId)
		if changed {
			s.Publish(TenantRoom(client.TenantId), EventPresenceUpdate, update, "")
		}
	}

	log.CtxInfo(ctx, "client unregistered: user_id=%s, conn_id=%s, online_conns=%d",
		client.UserId, client.ConnId, s.onlineConnNum.Load())
}

// UnregisterClient queues client for unregistration
func (s *WsServer) UnregisterClient(client *Client) {
	select {
	case s.unregisterChan <- client:
	default:
		log.Warn("unregister channel full: conn_id=%s", client.ConnId)
	}
}

// ========== Dispatch ==========

// dispatch routes one inbound event through the policy enforcer to its
// handler. Handler panics are recovered; no dispatch outcome terminates the
// connection.
func (s *WsServer) dispatch(ctx context.Context, client *Client, req *Request) (event string, data interface{}, err error) {
	entry, ok := s.handlers[req.Event]
	if !ok {
		return "", nil, errcode.ErrInvalidProtocol
	}

	var ref *ConversationRef
	if entry.extractRef != nil {
		ref, err = entry.extractRef(req.Data)
		if err != nil {
			return "", nil, errcode.ErrMalformedRequest
		}
	}

	ac, err := s.enforcer.Enforce(ctx, client, entry.requirements, ref)
	if err != nil {
		return "", nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			log.CtxError(ctx, "event handler panic: event=%s, conn_id=%s, error=%v", req.Event, client.ConnId, r)
			event, data, err = "", nil, errcode.ErrInternalServer
		}
	}()

	return entry.handle(ctx, client, ac, req.Data)
}

// ========== Event handlers ==========

func (s *WsServer) handlePresencePing(ctx context.Context, client *Client, ac *AuthorizedContext, _ json.RawMessage) (string, interface{}, error) {
	if ac.TenantId != "" {
		update, changed := s.presence.RecordHeartbeat(ctx, ac.TenantId, ac.UserId)
		if changed {
			s.Publish(TenantRoom(ac.TenantId), EventPresenceUpdate, update, "")
		}
	}
	return EventPong, nil, nil
}

func (s *WsServer) handlePresenceIdle(ctx context.Context, client *Client, ac *AuthorizedContext, data json.RawMessage) (string, interface{}, error) {
	var req PresenceIdleReq
	if err := json.Unmarshal(data, &req); err != nil {
		return "", nil, errcode.ErrMalformedRequest
	}

	update, changed := s.presence.SetIdle(ctx, ac.TenantId, ac.UserId, req.IsIdle)
	if changed {
		s.Publish(TenantRoom(ac.TenantId), EventPresenceUpdate, update, "")
	}
	return "", nil, nil
}

func (s *WsServer) handleTypingStart(ctx context.Context, client *Client, ac *AuthorizedContext, data json.RawMessage) (string, interface{}, error) {
	var req TypingReq
	if err := json.Unmarshal(data, &req); err != nil {
		return "", nil, errcode.ErrMalformedRequest
	}

	if s.typing.Start(ac.UserId, req.ConversationType, req.ConversationId, ac.ConnId) {
		delta := TypingUpdateData{
			ConversationType: req.ConversationType,
			ConversationId:   req.ConversationId,
			UserId:           ac.UserId,
			IsTyping:         true,
		}
		s.Publish(ConversationRoom(req.ConversationType, req.ConversationId), EventTypingUpdate, delta, ac.ConnId)
	}
	return "", nil, nil
}

func (s *WsServer) handleTypingStop(ctx context.Context, client *Client, ac *AuthorizedContext, data json.RawMessage) (string, interface{}, error) {
	var req TypingReq
	if err := json.Unmarshal(data, &req); err != nil {
		return "", nil, errcode.ErrMalformedRequest
	}

	if s.typing.Stop(ac.UserId, req.ConversationType, req.ConversationId, ac.ConnId) {
		delta := TypingUpdateData{
			ConversationType: req.ConversationType,
			ConversationId:   req.ConversationId,
			UserId:           ac.UserId,
			IsTyping:         false,
		}
		s.Publish(ConversationRoom(req.ConversationType, req.ConversationId), EventTypingUpdate, delta, ac.ConnId)
	}
	return "", nil, nil
}

func (s *WsServer) handleRoomJoin(ctx context.Context, client *Client, ac *AuthorizedContext, data json.RawMessage) (string, interface{}, error) {
	var req RoomReq
	if err := json.Unmarshal(data, &req); err != nil {
		return "", nil, errcode.ErrMalformedRequest
	}

	switch req.TargetType {
	case "conversation":
		// Access already verified by the policy enforcer
		s.rooms.Subscribe(ConversationRoom(req.ConversationType, req.TargetId), client)
	case "tenant":
		if req.TargetId != ac.TenantId {
			return "", nil, errcode.ErrAccessDenied
		}
		s.rooms.Subscribe(TenantRoom(req.TargetId), client)
		s.sendPresenceSnapshot(client)
	case "user":
		if req.TargetId != ac.UserId {
			return "", nil, errcode.ErrAccessDenied
		}
		s.rooms.Subscribe(UserRoom(req.TargetId), client)
	case "workspace":
		// Workspace rooms carry the caller's tenant in the key, so a
		// foreign workspace id lands in a room its tenant never publishes to
		s.rooms.Subscribe(WorkspaceRoom(ac.TenantId, req.TargetId), client)
	default:
		return "", nil, errcode.ErrMalformedRequest
	}
	return "", nil, nil
}

func (s *WsServer) handleRoomLeave(ctx context.Context, client *Client, ac *AuthorizedContext, data json.RawMessage) (string, interface{}, error) {
	var req RoomReq
	if err := json.Unmarshal(data, &req); err != nil {
		return "", nil, errcode.ErrMalformedRequest
	}

	switch req.TargetType {
	case "conversation":
		s.rooms.Unsubscribe(ConversationRoom(req.ConversationType, req.TargetId), client)
		// Cached membership must not outlive the subscription
		s.oracle.Invalidate(ac.ConnId, req.ConversationType, req.TargetId)
	case "tenant":
		s.rooms.Unsubscribe(TenantRoom(req.TargetId), client)
	case "user":
		s.rooms.Unsubscribe(UserRoom(req.TargetId), client)
	case "workspace":
		s.rooms.Unsubscribe(WorkspaceRoom(ac.TenantId, req.TargetId), client)
	default:
		return "", nil, errcode.ErrMalformedRequest
	}
	return "", nil, nil
}

// ========== Publishing ==========

// Publish marshals one envelope and delivers it to every connection in the
// room. This is the single emit chokepoint: HTTP services re-publish durable
// deltas through it, the trackers publish their transitions through it.
func (s *WsServer) Publish(roomKey, event string, data interface{}, excludeConnId string) {
	payload, err := json.Marshal(Response{Event: event, Data: data})
	if err != nil {
		log.Error("marshal broadcast failed: event=%s, error=%v", event, err)
		return
	}
	s.rooms.Broadcast(roomKey, payload, excludeConnId)
}

// sendPresenceSnapshot pushes the tenant's current presence to one
// connection so newly joined clients start from a consistent picture.
func (s *WsServer) sendPresenceSnapshot(client *Client) {
	updates := s.presence.SnapshotTenant(client.TenantId)
	if len(updates) == 0 {
		return
	}
	if err := client.Push(EventPresenceBulkUpdate, PresenceBulkUpdateData{Updates: updates}); err != nil {
		log.Debug("presence snapshot push failed: conn_id=%s, error=%v", client.ConnId, err)
	}
}

// ========== Background sweeps ==========

func (s *WsServer) typingSweepLoop(ctx context.Context) {
	ticker := newTicker(s.cfg.Typing.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, delta := range s.typing.Sweep() {
				s.Publish(ConversationRoom(delta.ConversationType, delta.ConversationId), EventTypingUpdate, delta, "")
			}
		}
	}
}

func (s *WsServer) presenceSweepLoop(ctx context.Context) {
	ticker := newTicker(s.cfg.Presence.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, update := range s.presence.SweepStale(ctx, s.cfg.Presence.StalenessThreshold) {
				s.Publish(TenantRoom(update.TenantId), EventPresenceUpdate, update, "")
				// Stale users get their connections closed as well
				for _, client := range s.rooms.Members(UserRoom(update.UserId)) {
					client.Close()
				}
			}
		}
	}
}

func (s *WsServer) oracleSweepLoop(ctx context.Context) {
	ticker := newTicker(s.cfg.WebSocket.MembershipTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.oracle.Sweep()
		}
	}
}

// ========== Helpers ==========

func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		d = time.Second
	}
	return time.NewTicker(d)
}

func (s *WsServer) originAllowed(origin string) bool {
	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// GetOnlineConnCount returns online connection count
func (s *WsServer) GetOnlineConnCount() int64 {
	return s.onlineConnNum.Load()
}

// Presence exposes the tracker to the HTTP surface
func (s *WsServer) Presence() *PresenceTracker {
	return s.presence
}
