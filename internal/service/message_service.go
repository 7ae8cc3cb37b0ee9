package service

import (
	"context"

	"github.com/mbeoliero/kit/log"

	"github.com/parlorhq/parlor/internal/entity"
	"github.com/parlorhq/parlor/internal/realtime"
	"github.com/parlorhq/parlor/internal/repository"
	"github.com/parlorhq/parlor/internal/search"
	"github.com/parlorhq/parlor/pkg/constant"
	"github.com/parlorhq/parlor/pkg/errcode"
	"github.com/parlorhq/parlor/pkg/idgen"
)

// MessageService handles message, reaction and pin logic. Every durable
// mutation re-publishes its delta through the broadcast router so connected
// clients converge without polling.
type MessageService struct {
	msgRepo      *repository.MessageRepo
	convRepo     *repository.ConversationRepo
	userRepo     *repository.UserRepo
	reactionRepo *repository.ReactionRepo
	repos        *repository.Repositories
	searcher     *search.Meili
	pub          Publisher
}

// NewMessageService creates a new MessageService
func NewMessageService(repos *repository.Repositories, searcher *search.Meili, pub Publisher) *MessageService {
	return &MessageService{
		msgRepo:      repos.Message,
		convRepo:     repos.Conversation,
		userRepo:     repos.User,
		reactionRepo: repos.Reaction,
		repos:        repos,
		searcher:     searcher,
		pub:          pub,
	}
}

// SendMessageRequest represents send message request
type SendMessageRequest struct {
	ConversationType string  `json:"conversation_type"`
	ConversationId   string  `json:"conversation_id"`
	Body             string  `json:"body"`
	ParentMessageId  *string `json:"parent_message_id,omitempty"`
	Attachments      *string `json:"attachments,omitempty"`
}

// ListMessagesRequest represents paginated message retrieval request
type ListMessagesRequest struct {
	ConversationType string `json:"conversation_type"`
	ConversationId   string `json:"conversation_id"`
	Before           int64  `json:"before,omitempty"` // created_at cursor
	After            int64  `json:"after,omitempty"`  // created_at cursor
	Limit            int    `json:"limit,omitempty"`
}

// SearchRequest represents a full-text message search request
type SearchRequest struct {
	Keyword string `json:"keyword"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// SearchResult is one enriched search hit
type SearchResult struct {
	Message *entity.MessageInfo `json:"message"`
	Snippet string              `json:"snippet"`
}

// PinInfo represents a pin with its message resolved
type PinInfo struct {
	Message   *entity.MessageInfo `json:"message"`
	PinnedBy  string              `json:"pinned_by"`
	CreatedAt int64               `json:"created_at"`
}

// SendMessage validates and persists one message, then broadcasts it
func (s *MessageService) SendMessage(ctx context.Context, userId, tenantId string, req *SendMessageRequest) (*entity.MessageInfo, error) {
	if req.Body == "" || !entity.IsValidConversationType(req.ConversationType) {
		return nil, errcode.ErrInvalidParam
	}

	if err := s.checkMembership(ctx, userId, req.ConversationType, req.ConversationId); err != nil {
		return nil, err
	}

	if req.ConversationType == constant.ConversationTypeChannel {
		ch, err := s.convRepo.GetChannelById(ctx, req.ConversationId)
		if err != nil {
			return nil, errcode.ErrChannelNotFound
		}
		if ch.IsArchived() {
			return nil, errcode.ErrChannelArchived
		}
	}

	// Replies stay one level deep: the parent must be a top-level message
	if req.ParentMessageId != nil && *req.ParentMessageId != "" {
		parent, err := s.msgRepo.GetById(ctx, *req.ParentMessageId)
		if err != nil {
			log.CtxError(ctx, "get parent message failed: %v", err)
			return nil, errcode.ErrInternalServer
		}
		if parent == nil || parent.ConversationId != req.ConversationId || parent.ConversationType != req.ConversationType {
			return nil, errcode.ErrMessageNotFound
		}
		if parent.IsDeleted() {
			return nil, errcode.ErrMessageDeleted
		}
		if parent.IsReply() {
			return nil, errcode.ErrReplyDepth
		}
	}

	id, err := idgen.NextID()
	if err != nil {
		log.CtxError(ctx, "generate message id failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	msg := &entity.Message{
		Id:               id,
		TenantId:         tenantId,
		ConversationType: req.ConversationType,
		ConversationId:   req.ConversationId,
		AuthorId:         userId,
		Body:             req.Body,
		ParentMessageId:  req.ParentMessageId,
		Attachments:      req.Attachments,
	}

	if err := s.msgRepo.Create(ctx, s.repos.DB, msg); err != nil {
		log.CtxError(ctx, "create message failed: %v", err)
		return nil, errcode.ErrSendFailed
	}

	if err := s.convRepo.TouchConversation(ctx, req.ConversationType, req.ConversationId); err != nil {
		log.CtxWarn(ctx, "touch conversation failed: %v", err)
	}

	s.indexAsync(ctx, msg)

	info := msg.ToMessageInfo()
	if author, err := s.userRepo.GetById(ctx, userId); err == nil {
		info.Author = author.ToUserInfo()
	}

	publish(s.pub, realtime.ConversationRoom(msg.ConversationType, msg.ConversationId), realtime.EventMessageNew, info)
	log.CtxInfo(ctx, "message sent: message_id=%s, conversation=%s:%s, author=%s", id, msg.ConversationType, msg.ConversationId, userId)
	return info, nil
}

// EditMessage updates the body of the author's own message
func (s *MessageService) EditMessage(ctx context.Context, userId, messageId, body string) (*entity.MessageInfo, error) {
	if body == "" {
		return nil, errcode.ErrInvalidParam
	}

	msg, err := s.getOwnMessage(ctx, userId, messageId)
	if err != nil {
		return nil, err
	}

	if err := s.msgRepo.Edit(ctx, messageId, body); err != nil {
		log.CtxError(ctx, "edit message failed: message_id=%s, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}

	msg, err = s.msgRepo.GetById(ctx, messageId)
	if err != nil || msg == nil {
		log.CtxError(ctx, "reload edited message failed: message_id=%s, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}

	s.indexAsync(ctx, msg)

	info := msg.ToMessageInfo()
	publish(s.pub, realtime.ConversationRoom(msg.ConversationType, msg.ConversationId), realtime.EventMessageUpdated, info)
	return info, nil
}

// DeleteMessage tombstones the author's own message. The row survives with
// an empty body so replies and reactions keep a stable anchor.
func (s *MessageService) DeleteMessage(ctx context.Context, userId, messageId string) error {
	msg, err := s.getOwnMessage(ctx, userId, messageId)
	if err != nil {
		return err
	}

	if err := s.msgRepo.SoftDelete(ctx, messageId, userId); err != nil {
		log.CtxError(ctx, "delete message failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrInternalServer
	}

	if s.searcher != nil {
		go func() {
			if err := s.searcher.RemoveMessage(messageId); err != nil {
				log.Warn("remove message from index failed: message_id=%s, error=%v", messageId, err)
			}
		}()
	}

	publish(s.pub, realtime.ConversationRoom(msg.ConversationType, msg.ConversationId), realtime.EventMessageDeleted, map[string]interface{}{
		"id":                msg.Id,
		"conversation_type": msg.ConversationType,
		"conversation_id":   msg.ConversationId,
		"deleted_by":        userId,
	})
	log.CtxInfo(ctx, "message deleted: message_id=%s, by=%s", messageId, userId)
	return nil
}

// ListMessages returns a page of top-level messages with authors, reactions
// and thread summaries resolved through batched lookups.
func (s *MessageService) ListMessages(ctx context.Context, userId string, req *ListMessagesRequest) ([]*entity.MessageInfo, error) {
	if err := s.checkMembership(ctx, userId, req.ConversationType, req.ConversationId); err != nil {
		return nil, err
	}

	messages, err := s.msgRepo.ListMessages(ctx, req.ConversationType, req.ConversationId, req.Before, req.After, req.Limit)
	if err != nil {
		log.CtxError(ctx, "list messages failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	return s.enrich(ctx, messages, true)
}

// ListReplies returns the replies of one top-level message
func (s *MessageService) ListReplies(ctx context.Context, userId, parentMessageId string, limit int) ([]*entity.MessageInfo, error) {
	parent, err := s.msgRepo.GetById(ctx, parentMessageId)
	if err != nil {
		log.CtxError(ctx, "get parent message failed: %v", err)
		return nil, errcode.ErrInternalServer
	}
	if parent == nil {
		return nil, errcode.ErrMessageNotFound
	}

	if err := s.checkMembership(ctx, userId, parent.ConversationType, parent.ConversationId); err != nil {
		return nil, err
	}

	replies, err := s.msgRepo.ListReplies(ctx, parentMessageId, limit)
	if err != nil {
		log.CtxError(ctx, "list replies failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	return s.enrich(ctx, replies, false)
}

// AddReaction adds an emoji reaction. Adding twice is a no-op and does not
// re-broadcast.
func (s *MessageService) AddReaction(ctx context.Context, userId, messageId, emoji string) error {
	if emoji == "" {
		return errcode.ErrInvalidParam
	}

	msg, err := s.getAccessibleMessage(ctx, userId, messageId)
	if err != nil {
		return err
	}

	added, err := s.reactionRepo.Add(ctx, &entity.Reaction{
		MessageId: messageId,
		UserId:    userId,
		Emoji:     emoji,
	})
	if err != nil {
		log.CtxError(ctx, "add reaction failed: %v", err)
		return errcode.ErrInternalServer
	}

	if added {
		publish(s.pub, realtime.ConversationRoom(msg.ConversationType, msg.ConversationId), realtime.EventReactionAdded, map[string]interface{}{
			"message_id":        messageId,
			"conversation_type": msg.ConversationType,
			"conversation_id":   msg.ConversationId,
			"user_id":           userId,
			"emoji":             emoji,
		})
	}
	return nil
}

// RemoveReaction removes an emoji reaction. Removing a missing reaction is
// a no-op.
func (s *MessageService) RemoveReaction(ctx context.Context, userId, messageId, emoji string) error {
	msg, err := s.getAccessibleMessage(ctx, userId, messageId)
	if err != nil {
		return err
	}

	removed, err := s.reactionRepo.Remove(ctx, messageId, userId, emoji)
	if err != nil {
		log.CtxError(ctx, "remove reaction failed: %v", err)
		return errcode.ErrInternalServer
	}

	if removed {
		publish(s.pub, realtime.ConversationRoom(msg.ConversationType, msg.ConversationId), realtime.EventReactionRemoved, map[string]interface{}{
			"message_id":        messageId,
			"conversation_type": msg.ConversationType,
			"conversation_id":   msg.ConversationId,
			"user_id":           userId,
			"emoji":             emoji,
		})
	}
	return nil
}

// PinMessage pins a message in its conversation. Pinning twice is a no-op.
func (s *MessageService) PinMessage(ctx context.Context, userId, messageId string) error {
	msg, err := s.getAccessibleMessage(ctx, userId, messageId)
	if err != nil {
		return err
	}
	if msg.IsDeleted() {
		return errcode.ErrMessageDeleted
	}

	pinned, err := s.reactionRepo.AddPin(ctx, &entity.Pin{
		ConversationType: msg.ConversationType,
		ConversationId:   msg.ConversationId,
		MessageId:        messageId,
		PinnedBy:         userId,
	})
	if err != nil {
		log.CtxError(ctx, "pin message failed: %v", err)
		return errcode.ErrInternalServer
	}

	if pinned {
		publish(s.pub, realtime.ConversationRoom(msg.ConversationType, msg.ConversationId), realtime.EventPinAdded, map[string]interface{}{
			"message_id":        messageId,
			"conversation_type": msg.ConversationType,
			"conversation_id":   msg.ConversationId,
			"pinned_by":         userId,
		})
	}
	return nil
}

// UnpinMessage removes a pin
func (s *MessageService) UnpinMessage(ctx context.Context, userId, messageId string) error {
	msg, err := s.getAccessibleMessage(ctx, userId, messageId)
	if err != nil {
		return err
	}

	removed, err := s.reactionRepo.RemovePin(ctx, msg.ConversationType, msg.ConversationId, messageId)
	if err != nil {
		log.CtxError(ctx, "unpin message failed: %v", err)
		return errcode.ErrInternalServer
	}

	if removed {
		publish(s.pub, realtime.ConversationRoom(msg.ConversationType, msg.ConversationId), realtime.EventPinRemoved, map[string]interface{}{
			"message_id":        messageId,
			"conversation_type": msg.ConversationType,
			"conversation_id":   msg.ConversationId,
			"user_id":           userId,
		})
	}
	return nil
}

// ListPins returns the pinned messages of a conversation with enrichment
func (s *MessageService) ListPins(ctx context.Context, userId, convType, convId string) ([]*PinInfo, error) {
	if err := s.checkMembership(ctx, userId, convType, convId); err != nil {
		return nil, err
	}

	pins, err := s.reactionRepo.ListPins(ctx, convType, convId)
	if err != nil {
		log.CtxError(ctx, "list pins failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	messageIds := make([]string, 0, len(pins))
	for _, pin := range pins {
		messageIds = append(messageIds, pin.MessageId)
	}
	messages, err := s.msgRepo.GetByIds(ctx, messageIds)
	if err != nil {
		log.CtxError(ctx, "resolve pinned messages failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	ordered := make([]*entity.Message, 0, len(pins))
	for _, pin := range pins {
		if msg, ok := messages[pin.MessageId]; ok {
			ordered = append(ordered, msg)
		}
	}
	infos, err := s.enrich(ctx, ordered, false)
	if err != nil {
		return nil, err
	}

	infoById := make(map[string]*entity.MessageInfo, len(infos))
	for _, info := range infos {
		infoById[info.Id] = info
	}

	result := make([]*PinInfo, 0, len(pins))
	for _, pin := range pins {
		info, ok := infoById[pin.MessageId]
		if !ok {
			continue
		}
		result = append(result, &PinInfo{
			Message:   info,
			PinnedBy:  pin.PinnedBy,
			CreatedAt: pin.CreatedAt,
		})
	}
	return result, nil
}

// Search runs a full-text query limited to the conversations the user may
// read. accessibleIds comes from the conversation service.
func (s *MessageService) Search(ctx context.Context, userId, tenantId string, accessibleIds []string, req *SearchRequest) ([]*SearchResult, int, error) {
	if s.searcher == nil || !s.searcher.Healthy() {
		return nil, 0, errcode.ErrSearchFailed
	}
	if len(accessibleIds) == 0 {
		return nil, 0, nil
	}

	hits, total, err := s.searcher.Search(search.Query{
		TenantId:        tenantId,
		Keyword:         req.Keyword,
		ConversationIds: accessibleIds,
		Limit:           req.Limit,
		Offset:          req.Offset,
	})
	if err != nil {
		log.CtxError(ctx, "search failed: keyword=%q, error=%v", req.Keyword, err)
		return nil, 0, errcode.ErrSearchFailed
	}

	messageIds := make([]string, 0, len(hits))
	for _, hit := range hits {
		messageIds = append(messageIds, hit.MessageId)
	}
	messages, err := s.msgRepo.GetByIds(ctx, messageIds)
	if err != nil {
		log.CtxError(ctx, "resolve search hits failed: %v", err)
		return nil, 0, errcode.ErrInternalServer
	}

	ordered := make([]*entity.Message, 0, len(hits))
	for _, hit := range hits {
		if msg, ok := messages[hit.MessageId]; ok && !msg.IsDeleted() {
			ordered = append(ordered, msg)
		}
	}
	infos, err := s.enrich(ctx, ordered, false)
	if err != nil {
		return nil, 0, err
	}

	infoById := make(map[string]*entity.MessageInfo, len(infos))
	for _, info := range infos {
		infoById[info.Id] = info
	}

	results := make([]*SearchResult, 0, len(hits))
	for _, hit := range hits {
		info, ok := infoById[hit.MessageId]
		if !ok {
			continue
		}
		results = append(results, &SearchResult{Message: info, Snippet: hit.Snippet})
	}
	return results, total, nil
}

// ========== Internals ==========

// enrich resolves authors, reactions and (optionally) thread summaries for
// a set of messages using one batched lookup per concern.
func (s *MessageService) enrich(ctx context.Context, messages []*entity.Message, withSummaries bool) ([]*entity.MessageInfo, error) {
	if len(messages) == 0 {
		return []*entity.MessageInfo{}, nil
	}

	messageIds := make([]string, 0, len(messages))
	for _, msg := range messages {
		messageIds = append(messageIds, msg.Id)
	}

	reactions, err := s.reactionRepo.ListByMessageIds(ctx, messageIds)
	if err != nil {
		log.CtxError(ctx, "list reactions failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	var summaries map[string]*entity.ThreadSummary
	if withSummaries {
		summaries, err = s.msgRepo.ThreadSummaries(ctx, messageIds)
		if err != nil {
			log.CtxError(ctx, "thread summaries failed: %v", err)
			return nil, errcode.ErrInternalServer
		}
	}

	// One deduplicated id set covers message authors, reaction authors and
	// last-reply authors
	authorIdSet := make(map[string]struct{}, len(messages))
	for _, msg := range messages {
		authorIdSet[msg.AuthorId] = struct{}{}
	}
	for _, rs := range reactions {
		for _, reaction := range rs {
			authorIdSet[reaction.UserId] = struct{}{}
		}
	}
	for _, summary := range summaries {
		if summary.LastReplyAuthorId != "" {
			authorIdSet[summary.LastReplyAuthorId] = struct{}{}
		}
	}
	authorIds := make([]string, 0, len(authorIdSet))
	for id := range authorIdSet {
		authorIds = append(authorIds, id)
	}

	users, err := s.userRepo.GetByIds(ctx, authorIds)
	if err != nil {
		log.CtxError(ctx, "resolve authors failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	infos := make([]*entity.MessageInfo, 0, len(messages))
	for _, msg := range messages {
		info := msg.ToMessageInfo()
		if user, ok := users[msg.AuthorId]; ok {
			info.Author = user.ToUserInfo()
		}
		for _, reaction := range reactions[msg.Id] {
			ri := &entity.ReactionInfo{UserId: reaction.UserId, Emoji: reaction.Emoji}
			if user, ok := users[reaction.UserId]; ok {
				ri.Nickname = user.Nickname
			}
			info.Reactions = append(info.Reactions, ri)
		}
		if summary, ok := summaries[msg.Id]; ok {
			info.ThreadSummary = summary
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// checkMembership maps a failed membership check to a not-found error so
// hidden conversations stay indistinguishable from missing ones
func (s *MessageService) checkMembership(ctx context.Context, userId, convType, convId string) error {
	isMember, err := s.convRepo.IsConversationMember(ctx, convType, convId, userId)
	if err != nil {
		log.CtxError(ctx, "membership check failed: conversation=%s:%s, error=%v", convType, convId, err)
		return errcode.ErrInternalServer
	}
	if !isMember {
		return errcode.ErrConvNotFound
	}
	return nil
}

// getOwnMessage fetches a live message authored by the caller
func (s *MessageService) getOwnMessage(ctx context.Context, userId, messageId string) (*entity.Message, error) {
	msg, err := s.msgRepo.GetById(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "get message failed: message_id=%s, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}
	if msg == nil {
		return nil, errcode.ErrMessageNotFound
	}
	if msg.IsDeleted() {
		return nil, errcode.ErrMessageDeleted
	}
	if msg.AuthorId != userId {
		return nil, errcode.ErrNotAuthor
	}
	return msg, nil
}

// getAccessibleMessage fetches a message the caller's membership covers
func (s *MessageService) getAccessibleMessage(ctx context.Context, userId, messageId string) (*entity.Message, error) {
	msg, err := s.msgRepo.GetById(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "get message failed: message_id=%s, error=%v", messageId, err)
		return nil, errcode.ErrInternalServer
	}
	if msg == nil {
		return nil, errcode.ErrMessageNotFound
	}
	if err := s.checkMembership(ctx, userId, msg.ConversationType, msg.ConversationId); err != nil {
		return nil, err
	}
	return msg, nil
}

// indexAsync pushes a message into the search index without blocking the
// request path
func (s *MessageService) indexAsync(ctx context.Context, msg *entity.Message) {
	if s.searcher == nil {
		return
	}
	go func() {
		if err := s.searcher.IndexMessage(msg); err != nil {
			log.Warn("index message failed: message_id=%s, error=%v", msg.Id, err)
		}
	}()
}
