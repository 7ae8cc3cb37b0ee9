package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/parlorhq/parlor/internal/service"
	"github.com/parlorhq/parlor/pkg/errcode"
	"github.com/parlorhq/parlor/pkg/response"
)

// MessageHandler handles message-related requests
type MessageHandler struct {
	msgService  *service.MessageService
	convService *service.ConversationService
}

// NewMessageHandler creates a new MessageHandler
func NewMessageHandler(msgService *service.MessageService, convService *service.ConversationService) *MessageHandler {
	return &MessageHandler{msgService: msgService, convService: convService}
}

// SendMessage handles send message request
func (h *MessageHandler) SendMessage(ctx context.Context, c *app.RequestContext) {
	userId, tenantId := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req service.SendMessageRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	info, err := h.msgService.SendMessage(ctx, userId, tenantId, &req)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, info)
}

// ListMessages handles paginated message retrieval
func (h *MessageHandler) ListMessages(ctx context.Context, c *app.RequestContext) {
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

	before, _ := strconv.ParseInt(c.Query("before"), 10, 64)
	after, _ := strconv.ParseInt(c.Query("after"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))

	infos, err := h.msgService.ListMessages(ctx, userId, &service.ListMessagesRequest{
		ConversationType: convType,
		ConversationId:   convId,
		Before:           before,
		After:            after,
		Limit:            limit,
	})
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"messages": infos,
	})
}

// ListReplies handles thread reply retrieval
func (h *MessageHandler) ListReplies(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	infos, err := h.msgService.ListReplies(ctx, userId, c.Param("id"), limit)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"replies": infos,
	})
}

// EditMessageRequest represents an edit message request
type EditMessageRequest struct {
	Body string `json:"body"`
}

// EditMessage handles editing a message
func (h *MessageHandler) EditMessage(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req EditMessageRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	info, err := h.msgService.EditMessage(ctx, userId, c.Param("id"), req.Body)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, info)
}

// DeleteMessage handles soft-deleting a message
func (h *MessageHandler) DeleteMessage(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	if err := h.msgService.DeleteMessage(ctx, userId, c.Param("id")); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// ReactionRequest represents an add/remove reaction request
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// AddReaction handles adding a reaction
func (h *MessageHandler) AddReaction(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	var req ReactionRequest
	if err := c.BindAndValidate(&req); err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.msgService.AddReaction(ctx, userId, c.Param("id"), req.Emoji); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// RemoveReaction handles removing a reaction
func (h *MessageHandler) RemoveReaction(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	emoji := c.Query("emoji")
	if emoji == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}

	if err := h.msgService.RemoveReaction(ctx, userId, c.Param("id"), emoji); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// PinMessage handles pinning a message
func (h *MessageHandler) PinMessage(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	if err := h.msgService.PinMessage(ctx, userId, c.Param("id")); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// UnpinMessage handles unpinning a message
func (h *MessageHandler) UnpinMessage(ctx context.Context, c *app.RequestContext) {
	userId, _ := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	if err := h.msgService.UnpinMessage(ctx, userId, c.Param("id")); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, nil)
}

// ListPins handles listing pinned messages
func (h *MessageHandler) ListPins(ctx context.Context, c *app.RequestContext) {
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

	pins, err := h.msgService.ListPins(ctx, userId, convType, convId)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"pins": pins,
	})
}

// Search handles full-text message search scoped to accessible conversations
func (h *MessageHandler) Search(ctx context.Context, c *app.RequestContext) {
	userId, tenantId := identity(c)
	if userId == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrUnauthorized)
		return
	}

	keyword := c.Query("q")
	if keyword == "" {
		response.ErrorWithCode(ctx, c, errcode.ErrInvalidParam)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	accessibleIds, err := h.convService.AccessibleConversationIds(ctx, userId, tenantId)
	if err != nil {
		response.ErrorWithCode(ctx, c, errcode.ErrInternalServer)
		return
	}

	results, total, err := h.msgService.Search(ctx, userId, tenantId, accessibleIds, &service.SearchRequest{
		Keyword: keyword,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"results": results,
		"total":   total,
	})
}
