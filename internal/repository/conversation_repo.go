package repository

import (
	"context"
	"errors"

	"github.com/parlorhq/parlor/internal/entity"
	"github.com/parlorhq/parlor/pkg/constant"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepo is the repository for channel and DM thread operations
type ConversationRepo struct {
	db *gorm.DB
}

// NewConversationRepo creates a new ConversationRepo
func NewConversationRepo(db *gorm.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// ========== Channels ==========

// CreateChannel creates a channel and its owner membership in one transaction
func (r *ConversationRepo) CreateChannel(ctx context.Context, ch *entity.Channel) error {
	now := entity.NowUnixMilli()
	ch.CreatedAt = now
	ch.UpdatedAt = now

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ch).Error; err != nil {
			return err
		}
		owner := &entity.ChannelMember{
			ChannelId: ch.Id,
			UserId:    ch.CreatorUserId,
			RoleLevel: constant.RoleLevelOwner,
			Status:    constant.ChannelMemberStatusActive,
			JoinedAt:  now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Create(owner).Error
	})
}

// GetChannelById gets channel by Id
func (r *ConversationRepo) GetChannelById(ctx context.Context, id string) (*entity.Channel, error) {
	var ch entity.Channel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ch).Error
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListTenantChannels lists channels visible to a user within a tenant:
// every public channel plus private channels the user is an active member of
func (r *ConversationRepo) ListTenantChannels(ctx context.Context, tenantId, userId string) ([]*entity.Channel, error) {
	var channels []*entity.Channel
	err := r.db.WithContext(ctx).
		Table("channels c").
		Where("c.tenant_id = ?", tenantId).
		Where("c.is_private = ? OR EXISTS (SELECT 1 FROM channel_members cm WHERE cm.channel_id = c.id AND cm.user_id = ? AND cm.status = ?)",
			false, userId, constant.ChannelMemberStatusActive).
		Order("c.created_at ASC").
		Find(&channels).Error
	if err != nil {
		return nil, err
	}
	return channels, nil
}

// ArchiveChannel marks a channel as archived
func (r *ConversationRepo) ArchiveChannel(ctx context.Context, id string) error {
	now := entity.NowUnixMilli()
	return r.db.WithContext(ctx).
		Model(&entity.Channel{}).
		Where("id = ? AND archived_at IS NULL", id).
		Updates(map[string]interface{}{
			"archived_at": now,
			"updated_at":  now,
		}).Error
}

// AddChannelMember adds (or re-activates) a channel member
func (r *ConversationRepo) AddChannelMember(ctx context.Context, member *entity.ChannelMember) error {
	now := entity.NowUnixMilli()
	member.CreatedAt = now
	member.UpdatedAt = now

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "channel_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":          constant.ChannelMemberStatusActive,
			"joined_at":       member.JoinedAt,
			"role_level":      member.RoleLevel,
			"inviter_user_id": member.InviterUserId,
			"updated_at":      now,
		}),
	}).Create(member).Error
}

// GetChannelMember gets a channel member row regardless of status
func (r *ConversationRepo) GetChannelMember(ctx context.Context, channelId, userId string) (*entity.ChannelMember, error) {
	var member entity.ChannelMember
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelId, userId).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

// UpdateChannelMemberStatus updates member status (leave)
func (r *ConversationRepo) UpdateChannelMemberStatus(ctx context.Context, channelId, userId string, status int32) error {
	return r.db.WithContext(ctx).
		Model(&entity.ChannelMember{}).
		Where("channel_id = ? AND user_id = ?", channelId, userId).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": entity.NowUnixMilli(),
		}).Error
}

// GetActiveChannelMemberUserIds gets user Ids of all active members
func (r *ConversationRepo) GetActiveChannelMemberUserIds(ctx context.Context, channelId string) ([]string, error) {
	var userIds []string
	err := r.db.WithContext(ctx).
		Model(&entity.ChannelMember{}).
		Where("channel_id = ? AND status = ?", channelId, constant.ChannelMemberStatusActive).
		Pluck("user_id", &userIds).Error
	if err != nil {
		return nil, err
	}
	return userIds, nil
}

// GetChannelMemberCount gets the count of active members
func (r *ConversationRepo) GetChannelMemberCount(ctx context.Context, channelId string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.ChannelMember{}).
		Where("channel_id = ? AND status = ?", channelId, constant.ChannelMemberStatusActive).
		Count(&count).Error
	return count, err
}

// GetChannelMemberCounts gets active member counts for many channels in a
// single grouped query
func (r *ConversationRepo) GetChannelMemberCounts(ctx context.Context, channelIds []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(channelIds))
	if len(channelIds) == 0 {
		return counts, nil
	}

	var rows []struct {
		ChannelId string `gorm:"column:channel_id"`
		Count     int64  `gorm:"column:count"`
	}
	err := r.db.WithContext(ctx).
		Model(&entity.ChannelMember{}).
		Select("channel_id, COUNT(*) AS count").
		Where("channel_id IN ? AND status = ?", channelIds, constant.ChannelMemberStatusActive).
		Group("channel_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		counts[row.ChannelId] = row.Count
	}
	return counts, nil
}

// ========== DM threads ==========

// GetDmThreadByMemberKey looks up a thread by its member-set key
func (r *ConversationRepo) GetDmThreadByMemberKey(ctx context.Context, tenantId, memberKey string) (*entity.DmThread, error) {
	var thread entity.DmThread
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND member_key = ?", tenantId, memberKey).
		First(&thread).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &thread, nil
}

// CreateDmThread creates a thread and its member rows in one transaction.
// The (tenant_id, member_key) unique index makes creation idempotent: a
// racing duplicate insert fails and the caller re-reads the winner.
func (r *ConversationRepo) CreateDmThread(ctx context.Context, thread *entity.DmThread, memberIds []string) error {
	now := entity.NowUnixMilli()
	thread.CreatedAt = now
	thread.UpdatedAt = now
	thread.MemberCount = int32(len(memberIds))

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(thread).Error; err != nil {
			return err
		}
		members := make([]*entity.DmThreadMember, 0, len(memberIds))
		for _, userId := range memberIds {
			members = append(members, &entity.DmThreadMember{
				ThreadId:  thread.Id,
				UserId:    userId,
				CreatedAt: now,
			})
		}
		return tx.Create(&members).Error
	})
}

// GetDmThreadById gets thread by Id
func (r *ConversationRepo) GetDmThreadById(ctx context.Context, id string) (*entity.DmThread, error) {
	var thread entity.DmThread
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&thread).Error
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// ListUserDmThreads lists every thread a user participates in
func (r *ConversationRepo) ListUserDmThreads(ctx context.Context, userId string) ([]*entity.DmThread, error) {
	var threads []*entity.DmThread
	err := r.db.WithContext(ctx).
		Table("dm_threads t").
		Joins("JOIN dm_thread_members tm ON tm.thread_id = t.id").
		Where("tm.user_id = ?", userId).
		Order("t.updated_at DESC").
		Find(&threads).Error
	if err != nil {
		return nil, err
	}
	return threads, nil
}

// GetDmThreadMemberUserIds gets all member user Ids of a thread
func (r *ConversationRepo) GetDmThreadMemberUserIds(ctx context.Context, threadId string) ([]string, error) {
	var userIds []string
	err := r.db.WithContext(ctx).
		Model(&entity.DmThreadMember{}).
		Where("thread_id = ?", threadId).
		Pluck("user_id", &userIds).Error
	if err != nil {
		return nil, err
	}
	return userIds, nil
}

// GetDmThreadMembersByThreadIds gets the member user ids of many threads in
// one query, keyed by thread id
func (r *ConversationRepo) GetDmThreadMembersByThreadIds(ctx context.Context, threadIds []string) (map[string][]string, error) {
	result := make(map[string][]string, len(threadIds))
	if len(threadIds) == 0 {
		return result, nil
	}

	var rows []*entity.DmThreadMember
	err := r.db.WithContext(ctx).
		Where("thread_id IN ?", threadIds).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ThreadId] = append(result[row.ThreadId], row.UserId)
	}
	return result, nil
}

// IsDmThreadMember checks whether a user belongs to a thread
func (r *ConversationRepo) IsDmThreadMember(ctx context.Context, threadId, userId string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.DmThreadMember{}).
		Where("thread_id = ? AND user_id = ?", threadId, userId).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ========== Membership (used by the realtime oracle) ==========

// IsConversationMember answers "is user U an active member of conversation C".
// For channels this means active membership; for DM threads, participation.
func (r *ConversationRepo) IsConversationMember(ctx context.Context, convType, convId, userId string) (bool, error) {
	switch convType {
	case constant.ConversationTypeChannel:
		member, err := r.GetChannelMember(ctx, convId, userId)
		if err != nil {
			return false, err
		}
		return member != nil && member.IsActive(), nil
	case constant.ConversationTypeDm:
		return r.IsDmThreadMember(ctx, convId, userId)
	default:
		return false, nil
	}
}

// CanAccessConversation answers the stricter join-time question: may the user
// enter this conversation at all. Public channels in the user's tenant are
// accessible without prior membership; private channels and DM threads
// require it. Kept separate from IsConversationMember since join-time rules
// may diverge from steady-state membership rules.
func (r *ConversationRepo) CanAccessConversation(ctx context.Context, convType, convId, userId, tenantId string) (bool, error) {
	switch convType {
	case constant.ConversationTypeChannel:
		ch, err := r.GetChannelById(ctx, convId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}
			return false, err
		}
		if ch.TenantId != tenantId {
			return false, nil
		}
		if !ch.IsPrivate {
			return true, nil
		}
		member, err := r.GetChannelMember(ctx, convId, userId)
		if err != nil {
			return false, err
		}
		return member != nil && member.IsActive(), nil
	case constant.ConversationTypeDm:
		thread, err := r.GetDmThreadById(ctx, convId)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return false, nil
			}
			return false, err
		}
		if thread.TenantId != tenantId {
			return false, nil
		}
		return r.IsDmThreadMember(ctx, convId, userId)
	default:
		return false, nil
	}
}

// TouchConversation bumps a conversation's updated_at so lists sort by activity
func (r *ConversationRepo) TouchConversation(ctx context.Context, convType, convId string) error {
	now := entity.NowUnixMilli()
	switch convType {
	case constant.ConversationTypeChannel:
		return r.db.WithContext(ctx).Model(&entity.Channel{}).
			Where("id = ?", convId).Update("updated_at", now).Error
	case constant.ConversationTypeDm:
		return r.db.WithContext(ctx).Model(&entity.DmThread{}).
			Where("id = ?", convId).Update("updated_at", now).Error
	default:
		return nil
	}
}
