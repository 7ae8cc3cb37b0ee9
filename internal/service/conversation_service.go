package service

import (
	"context"

	"github.com/mbeoliero/kit/log"

	"github.com/parlorhq/parlor/internal/entity"
	"github.com/parlorhq/parlor/internal/realtime"
	"github.com/parlorhq/parlor/internal/repository"
	"github.com/parlorhq/parlor/pkg/constant"
	"github.com/parlorhq/parlor/pkg/errcode"
	"github.com/parlorhq/parlor/pkg/idgen"
)

// ConversationService manages channels, DM threads and read pointers
type ConversationService struct {
	convRepo *repository.ConversationRepo
	msgRepo  *repository.MessageRepo
	userRepo *repository.UserRepo
	readRepo *repository.ReadRepo
	pub      Publisher
}

// NewConversationService creates a new ConversationService
func NewConversationService(repos *repository.Repositories, pub Publisher) *ConversationService {
	return &ConversationService{
		convRepo: repos.Conversation,
		msgRepo:  repos.Message,
		userRepo: repos.User,
		readRepo: repos.Read,
		pub:      pub,
	}
}

// CreateChannelRequest represents channel creation request
type CreateChannelRequest struct {
	Name      string `json:"name"`
	Topic     string `json:"topic,omitempty"`
	IsPrivate bool   `json:"is_private"`
}

// ConversationListItem is one row of the unified conversation list
type ConversationListItem struct {
	ConversationType string               `json:"conversation_type"`
	Channel          *entity.ChannelInfo  `json:"channel,omitempty"`
	DmThread         *entity.DmThreadInfo `json:"dm_thread,omitempty"`
	UnreadCount      int64                `json:"unread_count"`
}

// CreateChannel creates a channel with the creator as its owner
func (s *ConversationService) CreateChannel(ctx context.Context, userId, tenantId string, req *CreateChannelRequest) (*entity.ChannelInfo, error) {
	if req.Name == "" {
		return nil, errcode.ErrInvalidParam
	}

	id, err := idgen.NextID()
	if err != nil {
		log.CtxError(ctx, "generate channel id failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	ch := &entity.Channel{
		Id:            id,
		TenantId:      tenantId,
		Name:          req.Name,
		Topic:         req.Topic,
		IsPrivate:     req.IsPrivate,
		CreatorUserId: userId,
	}

	if err := s.convRepo.CreateChannel(ctx, ch); err != nil {
		log.CtxError(ctx, "create channel failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	log.CtxInfo(ctx, "channel created: channel_id=%s, tenant_id=%s, creator=%s", id, tenantId, userId)
	return s.channelInfo(ch, 1), nil
}

// GetChannel returns one channel the user may see
func (s *ConversationService) GetChannel(ctx context.Context, userId, tenantId, channelId string) (*entity.ChannelInfo, error) {
	ch, err := s.convRepo.GetChannelById(ctx, channelId)
	if err != nil {
		return nil, errcode.ErrChannelNotFound
	}

	allowed, err := s.convRepo.CanAccessConversation(ctx, constant.ConversationTypeChannel, channelId, userId, tenantId)
	if err != nil {
		log.CtxError(ctx, "access check failed: channel_id=%s, error=%v", channelId, err)
		return nil, errcode.ErrInternalServer
	}
	if !allowed {
		// Inaccessible and nonexistent look identical
		return nil, errcode.ErrChannelNotFound
	}

	count, err := s.convRepo.GetChannelMemberCount(ctx, channelId)
	if err != nil {
		log.CtxError(ctx, "count channel members failed: channel_id=%s, error=%v", channelId, err)
		return nil, errcode.ErrInternalServer
	}
	return s.channelInfo(ch, count), nil
}

// ListChannels lists channels visible to the user with member counts
func (s *ConversationService) ListChannels(ctx context.Context, userId, tenantId string) ([]*entity.ChannelInfo, error) {
	channels, err := s.convRepo.ListTenantChannels(ctx, tenantId, userId)
	if err != nil {
		log.CtxError(ctx, "list channels failed: tenant_id=%s, error=%v", tenantId, err)
		return nil, errcode.ErrInternalServer
	}

	channelIds := make([]string, 0, len(channels))
	for _, ch := range channels {
		channelIds = append(channelIds, ch.Id)
	}
	counts, err := s.convRepo.GetChannelMemberCounts(ctx, channelIds)
	if err != nil {
		log.CtxError(ctx, "count channel members failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	infos := make([]*entity.ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		infos = append(infos, s.channelInfo(ch, counts[ch.Id]))
	}
	return infos, nil
}

// JoinChannel adds the user to a channel. Re-joining after leaving
// re-activates the old membership row. Private channels require an invite
// from an active member; the inviter id is never taken at face value.
func (s *ConversationService) JoinChannel(ctx context.Context, userId, tenantId, channelId, inviterUserId string) error {
	ch, err := s.convRepo.GetChannelById(ctx, channelId)
	if err != nil {
		return errcode.ErrChannelNotFound
	}
	if ch.TenantId != tenantId {
		return errcode.ErrChannelNotFound
	}
	if ch.IsArchived() {
		return errcode.ErrChannelArchived
	}
	if ch.IsPrivate {
		if inviterUserId == "" {
			// Private channels are invite-only; indistinguishable from missing
			return errcode.ErrChannelNotFound
		}
		inviter, err := s.convRepo.GetChannelMember(ctx, channelId, inviterUserId)
		if err != nil {
			log.CtxError(ctx, "get inviter membership failed: channel_id=%s, inviter=%s, error=%v", channelId, inviterUserId, err)
			return errcode.ErrInternalServer
		}
		if inviter == nil || !inviter.IsActive() {
			// A claimed inviter who is not an active member grants nothing
			return errcode.ErrChannelNotFound
		}
	}

	member := &entity.ChannelMember{
		ChannelId:     channelId,
		UserId:        userId,
		RoleLevel:     constant.RoleLevelMember,
		Status:        constant.ChannelMemberStatusActive,
		InviterUserId: inviterUserId,
		JoinedAt:      entity.NowUnixMilli(),
	}
	if err := s.convRepo.AddChannelMember(ctx, member); err != nil {
		log.CtxError(ctx, "add channel member failed: channel_id=%s, user_id=%s, error=%v", channelId, userId, err)
		return errcode.ErrInternalServer
	}

	log.CtxInfo(ctx, "user joined channel: channel_id=%s, user_id=%s", channelId, userId)
	return nil
}

// LeaveChannel marks the membership as left
func (s *ConversationService) LeaveChannel(ctx context.Context, userId, channelId string) error {
	member, err := s.convRepo.GetChannelMember(ctx, channelId, userId)
	if err != nil {
		log.CtxError(ctx, "get channel member failed: %v", err)
		return errcode.ErrInternalServer
	}
	if member == nil || !member.IsActive() {
		return errcode.ErrNotChannelMember
	}

	if err := s.convRepo.UpdateChannelMemberStatus(ctx, channelId, userId, constant.ChannelMemberStatusLeft); err != nil {
		log.CtxError(ctx, "leave channel failed: channel_id=%s, user_id=%s, error=%v", channelId, userId, err)
		return errcode.ErrInternalServer
	}

	log.CtxInfo(ctx, "user left channel: channel_id=%s, user_id=%s", channelId, userId)
	return nil
}

// ArchiveChannel archives a channel. Owner only; idempotent.
func (s *ConversationService) ArchiveChannel(ctx context.Context, userId, channelId string) error {
	member, err := s.convRepo.GetChannelMember(ctx, channelId, userId)
	if err != nil {
		log.CtxError(ctx, "get channel member failed: %v", err)
		return errcode.ErrInternalServer
	}
	if member == nil || !member.IsOwner() {
		return errcode.ErrNotChannelOwner
	}

	if err := s.convRepo.ArchiveChannel(ctx, channelId); err != nil {
		log.CtxError(ctx, "archive channel failed: channel_id=%s, error=%v", channelId, err)
		return errcode.ErrInternalServer
	}

	log.CtxInfo(ctx, "channel archived: channel_id=%s, by=%s", channelId, userId)
	return nil
}

// GetOrCreateDmThread resolves the DM thread for a member set, creating it
// on first use. The member key makes the operation idempotent: concurrent
// creates race on the unique index and the loser re-reads the winner.
func (s *ConversationService) GetOrCreateDmThread(ctx context.Context, creatorId, tenantId string, memberIds []string) (*entity.DmThreadInfo, error) {
	members := entity.DedupeUserIds(append(memberIds, creatorId))
	if len(members) < 2 {
		return nil, errcode.ErrThreadTooFewUsers
	}

	// All members must exist in the tenant
	users, err := s.userRepo.GetByIds(ctx, members)
	if err != nil {
		log.CtxError(ctx, "resolve thread members failed: %v", err)
		return nil, errcode.ErrInternalServer
	}
	for _, userId := range members {
		user, ok := users[userId]
		if !ok || user.TenantId != tenantId {
			return nil, errcode.ErrUserNotFound
		}
	}

	memberKey := entity.DmMemberKey(members)
	thread, err := s.convRepo.GetDmThreadByMemberKey(ctx, tenantId, memberKey)
	if err != nil {
		log.CtxError(ctx, "lookup dm thread failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	if thread == nil {
		id, err := idgen.NextID()
		if err != nil {
			log.CtxError(ctx, "generate thread id failed: %v", err)
			return nil, errcode.ErrInternalServer
		}
		thread = &entity.DmThread{
			Id:        id,
			TenantId:  tenantId,
			MemberKey: memberKey,
		}
		if err := s.convRepo.CreateDmThread(ctx, thread, members); err != nil {
			// Lost the creation race, the winner's row is authoritative
			thread, err = s.convRepo.GetDmThreadByMemberKey(ctx, tenantId, memberKey)
			if err != nil || thread == nil {
				log.CtxError(ctx, "create dm thread failed: %v", err)
				return nil, errcode.ErrInternalServer
			}
		} else {
			log.CtxInfo(ctx, "dm thread created: thread_id=%s, members=%d", thread.Id, len(members))
		}
	}

	return s.dmThreadInfo(ctx, thread, users, members)
}

// ListDmThreads lists the user's DM threads with resolved members
func (s *ConversationService) ListDmThreads(ctx context.Context, userId string) ([]*entity.DmThreadInfo, error) {
	threads, err := s.convRepo.ListUserDmThreads(ctx, userId)
	if err != nil {
		log.CtxError(ctx, "list dm threads failed: user_id=%s, error=%v", userId, err)
		return nil, errcode.ErrInternalServer
	}

	threadIds := make([]string, 0, len(threads))
	for _, thread := range threads {
		threadIds = append(threadIds, thread.Id)
	}
	membersByThread, err := s.convRepo.GetDmThreadMembersByThreadIds(ctx, threadIds)
	if err != nil {
		log.CtxError(ctx, "get thread members failed: user_id=%s, error=%v", userId, err)
		return nil, errcode.ErrInternalServer
	}

	var allMemberIds []string
	for _, memberIds := range membersByThread {
		allMemberIds = append(allMemberIds, memberIds...)
	}
	users, err := s.userRepo.GetByIds(ctx, entity.DedupeUserIds(allMemberIds))
	if err != nil {
		log.CtxError(ctx, "resolve thread members failed: %v", err)
		return nil, errcode.ErrInternalServer
	}

	infos := make([]*entity.DmThreadInfo, 0, len(threads))
	for _, thread := range threads {
		info, err := s.dmThreadInfo(ctx, thread, users, membersByThread[thread.Id])
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ListConversations returns the user's channels and DM threads with unread
// counts resolved in a single grouped query.
func (s *ConversationService) ListConversations(ctx context.Context, userId, tenantId string) ([]*ConversationListItem, error) {
	channels, err := s.ListChannels(ctx, userId, tenantId)
	if err != nil {
		return nil, err
	}
	threads, err := s.ListDmThreads(ctx, userId)
	if err != nil {
		return nil, err
	}

	convIds := make([]string, 0, len(channels)+len(threads))
	for _, ch := range channels {
		convIds = append(convIds, ch.Id)
	}
	for _, th := range threads {
		convIds = append(convIds, th.Id)
	}

	unread, err := s.readRepo.BulkUnreadCounts(ctx, userId, convIds)
	if err != nil {
		log.CtxError(ctx, "bulk unread counts failed: user_id=%s, error=%v", userId, err)
		return nil, errcode.ErrInternalServer
	}

	items := make([]*ConversationListItem, 0, len(convIds))
	for _, ch := range channels {
		item := &ConversationListItem{ConversationType: constant.ConversationTypeChannel, Channel: ch}
		if uc, ok := unread[ch.Id]; ok {
			item.UnreadCount = uc.Count
		}
		items = append(items, item)
	}
	for _, th := range threads {
		item := &ConversationListItem{ConversationType: constant.ConversationTypeDm, DmThread: th}
		if uc, ok := unread[th.Id]; ok {
			item.UnreadCount = uc.Count
		}
		items = append(items, item)
	}
	return items, nil
}

// MarkRead moves the user's read pointer to a message. The pointer only
// moves forward: marking an older message read is a no-op at the store.
func (s *ConversationService) MarkRead(ctx context.Context, userId, convType, convId, messageId string) error {
	isMember, err := s.convRepo.IsConversationMember(ctx, convType, convId, userId)
	if err != nil {
		log.CtxError(ctx, "membership check failed: %v", err)
		return errcode.ErrInternalServer
	}
	if !isMember {
		return errcode.ErrConvNotFound
	}

	msg, err := s.msgRepo.GetById(ctx, messageId)
	if err != nil {
		log.CtxError(ctx, "get message failed: message_id=%s, error=%v", messageId, err)
		return errcode.ErrInternalServer
	}
	if msg == nil || msg.ConversationType != convType || msg.ConversationId != convId {
		return errcode.ErrMessageNotFound
	}

	rp := &entity.ReadPointer{
		UserId:            userId,
		ConversationType:  convType,
		ConversationId:    convId,
		LastReadMessageId: messageId,
		LastReadAt:        msg.CreatedAt,
	}
	if err := s.readRepo.Upsert(ctx, rp); err != nil {
		log.CtxError(ctx, "upsert read pointer failed: %v", err)
		return errcode.ErrInternalServer
	}

	publish(s.pub, realtime.ConversationRoom(convType, convId), realtime.EventReadUpdated, &realtime.ReadUpdatedData{
		ConversationType:  convType,
		ConversationId:    convId,
		UserId:            userId,
		LastReadMessageId: messageId,
		LastReadAt:        msg.CreatedAt,
	})
	return nil
}

// UnreadCount returns the user's unread count for one conversation
func (s *ConversationService) UnreadCount(ctx context.Context, userId, convType, convId string) (int64, error) {
	rp, err := s.readRepo.Get(ctx, userId, convType, convId)
	if err != nil {
		log.CtxError(ctx, "get read pointer failed: %v", err)
		return 0, errcode.ErrInternalServer
	}

	var readCreatedAt int64
	if rp != nil {
		readCreatedAt = rp.LastReadAt
	}
	count, err := s.msgRepo.CountNewerThan(ctx, convType, convId, readCreatedAt)
	if err != nil {
		log.CtxError(ctx, "count unread failed: %v", err)
		return 0, errcode.ErrInternalServer
	}
	return count, nil
}

// AccessibleConversationIds returns every conversation id the user may read,
// used as the search access filter.
func (s *ConversationService) AccessibleConversationIds(ctx context.Context, userId, tenantId string) ([]string, error) {
	channels, err := s.convRepo.ListTenantChannels(ctx, tenantId, userId)
	if err != nil {
		return nil, err
	}
	threads, err := s.convRepo.ListUserDmThreads(ctx, userId)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(channels)+len(threads))
	for _, ch := range channels {
		ids = append(ids, ch.Id)
	}
	for _, th := range threads {
		ids = append(ids, th.Id)
	}
	return ids, nil
}

func (s *ConversationService) channelInfo(ch *entity.Channel, memberCount int64) *entity.ChannelInfo {
	return &entity.ChannelInfo{
		Id:            ch.Id,
		TenantId:      ch.TenantId,
		Name:          ch.Name,
		Topic:         ch.Topic,
		IsPrivate:     ch.IsPrivate,
		CreatorUserId: ch.CreatorUserId,
		ArchivedAt:    ch.ArchivedAt,
		MemberCount:   memberCount,
		CreatedAt:     ch.CreatedAt,
	}
}

func (s *ConversationService) dmThreadInfo(ctx context.Context, thread *entity.DmThread, users map[string]*entity.User, memberIds []string) (*entity.DmThreadInfo, error) {
	members := make([]*entity.UserInfo, 0, len(memberIds))
	for _, userId := range memberIds {
		if user, ok := users[userId]; ok {
			members = append(members, user.ToUserInfo())
		}
	}
	return &entity.DmThreadInfo{
		Id:        thread.Id,
		TenantId:  thread.TenantId,
		Members:   members,
		CreatedAt: thread.CreatedAt,
	}, nil
}
