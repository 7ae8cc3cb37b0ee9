package repository

import (
	"context"
	"errors"

	"github.com/parlorhq/parlor/internal/entity"
	"gorm.io/gorm"
)

// MessageRepo is the repository for message operations
type MessageRepo struct {
	db *gorm.DB
}

// NewMessageRepo creates a new MessageRepo
func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create creates a new message. CreatedAt is assigned here, at the store,
// and is the canonical ordering key for everything downstream.
func (r *MessageRepo) Create(ctx context.Context, tx *gorm.DB, msg *entity.Message) error {
	now := entity.NowUnixMilli()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	return tx.WithContext(ctx).Create(msg).Error
}

// GetById gets message by Id
func (r *MessageRepo) GetById(ctx context.Context, id string) (*entity.Message, error) {
	var msg entity.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// GetByIds gets messages by Ids in one batched query
func (r *MessageRepo) GetByIds(ctx context.Context, ids []string) (map[string]*entity.Message, error) {
	result := make(map[string]*entity.Message, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var messages []*entity.Message
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		result[m.Id] = m
	}
	return result, nil
}

// ListMessages pulls top-level messages of a conversation ordered by
// created_at descending, then reversed to display order. before/after are
// created_at cursors (0 means unset); limit is capped at 100.
func (r *MessageRepo) ListMessages(ctx context.Context, convType, convId string, before, after int64, limit int) ([]*entity.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	q := r.db.WithContext(ctx).
		Where("conversation_type = ? AND conversation_id = ?", convType, convId).
		Where("parent_message_id IS NULL")
	if before > 0 {
		q = q.Where("created_at < ?", before)
	}
	if after > 0 {
		q = q.Where("created_at > ?", after)
	}

	var messages []*entity.Message
	err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Reverse to ascending display order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// ListReplies pulls the replies of a parent message in ascending order
func (r *MessageRepo) ListReplies(ctx context.Context, parentMessageId string, limit int) ([]*entity.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	var messages []*entity.Message
	err := r.db.WithContext(ctx).
		Where("parent_message_id = ?", parentMessageId).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Edit updates a message body and stamps edited_at
func (r *MessageRepo) Edit(ctx context.Context, id, body string) error {
	now := entity.NowUnixMilli()
	return r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]interface{}{
			"body":       body,
			"edited_at":  now,
			"updated_at": now,
		}).Error
}

// SoftDelete clears the body to a tombstone and records the deleter.
// Rows are never removed.
func (r *MessageRepo) SoftDelete(ctx context.Context, id, deletedBy string) error {
	now := entity.NowUnixMilli()
	return r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]interface{}{
			"body":       "",
			"deleted_at": now,
			"deleted_by": deletedBy,
			"updated_at": now,
		}).Error
}

// ThreadSummaries derives reply summaries for a set of parent messages in two
// batched queries: one aggregate, one lookup of last-reply authors. Never one
// query per parent.
func (r *MessageRepo) ThreadSummaries(ctx context.Context, parentIds []string) (map[string]*entity.ThreadSummary, error) {
	result := make(map[string]*entity.ThreadSummary, len(parentIds))
	if len(parentIds) == 0 {
		return result, nil
	}

	var rows []*entity.ThreadSummary
	err := r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Select("parent_message_id, COUNT(*) as reply_count, MAX(created_at) as last_reply_at").
		Where("parent_message_id IN ?", parentIds).
		Group("parent_message_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return result, nil
	}

	lastReplyAts := make([]int64, 0, len(rows))
	for _, row := range rows {
		result[row.ParentMessageId] = row
		lastReplyAts = append(lastReplyAts, row.LastReplyAt)
	}

	// Resolve last-reply authors for all summaries at once
	var lastReplies []*entity.Message
	err = r.db.WithContext(ctx).
		Select("parent_message_id, author_id, created_at").
		Where("parent_message_id IN ? AND created_at IN ?", parentIds, lastReplyAts).
		Find(&lastReplies).Error
	if err != nil {
		return nil, err
	}
	for _, reply := range lastReplies {
		if reply.ParentMessageId == nil {
			continue
		}
		summary, ok := result[*reply.ParentMessageId]
		if ok && summary.LastReplyAt == reply.CreatedAt {
			summary.LastReplyAuthorId = reply.AuthorId
		}
	}

	return result, nil
}

// CountNewerThan counts messages in a conversation created strictly after the
// given timestamp. This comparison is the single source of truth for "unread".
func (r *MessageRepo) CountNewerThan(ctx context.Context, convType, convId string, createdAt int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Where("conversation_type = ? AND conversation_id = ? AND created_at > ?", convType, convId, createdAt).
		Count(&count).Error
	return count, err
}
