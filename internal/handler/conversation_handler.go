package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/parlorhq/parlor/internal/middleware"
	"github.com/parlorhq/parlor/internal/service"
	"github.com/parlorhq/parlor/pkg/errcode"
	"github.com/parlorhq/parlor/pkg/response"
)

// ConversationHandler handles channel, DM thread and read pointer requests
type ConversationHandler struct {
	convService *service.ConversationService
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(convService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{convService: convService}
}

// CreateChannel handles channel creation
func (h *ConversationHandler) CreateChannel(ctx context.Context, c *app.RequestContext) {
	userId, tenantId := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req service.CreateChannelRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	info, err := h.convService.CreateChannel(ctx, userId, tenantId, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, info)
}

// GetChannel handles single channel retrieval
func (h *ConversationHandler) GetChannel(ctx context.Context, c *app.RequestContext) {
	userId, tenantId := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	info, err := h.convService.GetChannel(ctx, userId, tenantId, c.Param("id"))
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, info)
}

// ListChannels handles channel listing
func (h *ConversationHandler) ListChannels(ctx context.Context, c *app.RequestContext) {
	userId, tenantId := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	infos, err := h.convService.ListChannels(ctx, userId, tenantId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"channels": infos,
	})
}

// JoinChannelRequest represents a join channel request
type JoinChannelRequest struct {
	InviterUserId string `json:"inviter_user_id,omitempty"`
}

// JoinChannel handles joining a channel
func (h *ConversationHandler) JoinChannel(ctx context.Context, c *app.RequestContext) {
	userId, tenantId := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req JoinChannelRequest
	_ = c.BindAndValidate(&req)

	if err := h.convService.JoinChannel(ctx, userId, tenantId, c.Param("id"), req.InviterUserId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// LeaveChannel handles leaving a channel
func (h *ConversationHandler) LeaveChannel(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	if err := h.convService.LeaveChannel(ctx, userId, c.Param("id")); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// ArchiveChannel handles archiving a channel
func (h *ConversationHandler) ArchiveChannel(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	if err := h.convService.ArchiveChannel(ctx, userId, c.Param("id")); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// CreateDmThreadRequest represents a DM thread resolution request
type CreateDmThreadRequest struct {
	MemberIds []string `json:"member_ids"`
}

// CreateDmThread resolves or creates the DM thread for a member set
func (h *ConversationHandler) CreateDmThread(ctx context.Context, c *app.RequestContext) {
	userId, tenantId := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req CreateDmThreadRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	info, err := h.convService.GetOrCreateDmThread(ctx, userId, tenantId, req.MemberIds)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, info)
}

// ListDmThreads handles listing the caller's DM threads
func (h *ConversationHandler) ListDmThreads(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	infos, err := h.convService.ListDmThreads(ctx, userId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"threads": infos,
	})
}

// ListConversations handles the unified conversation list with unread counts
func (h *ConversationHandler) ListConversations(ctx context.Context, c *app.RequestContext) {
	userId, tenantId := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	items, err := h.convService.ListConversations(ctx, userId, tenantId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"conversations": items,
	})
}

// MarkReadRequest represents a mark-read request
type MarkReadRequest struct {
	ConversationType string `json:"conversation_type"`
	ConversationId   string `json:"conversation_id"`
	MessageId        string `json:"message_id"`
}

// MarkRead moves the caller's read pointer
func (h *ConversationHandler) MarkRead(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req MarkReadRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.convService.MarkRead(ctx, userId, req.ConversationType, req.ConversationId, req.MessageId); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// GetUnreadCount returns the caller's unread count for one conversation
func (h *ConversationHandler) GetUnreadCount(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	convType := c.Query("conversation_type")
	convId := c.Query("conversation_id")
	if convType == "" || convId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	count, err := h.convService.UnreadCount(ctx, userId, convType, convId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"unread_count": count,
	})
}

func identity(c *app.RequestContext) (userId, tenantId string) {
	return middleware.GetUserId(c), middleware.GetTenantId(c)
}
