package repository

import (
	"context"
	"errors"

	"github.com/parlorhq/parlor/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReadRepo is the repository for read pointers and unread counts
type ReadRepo struct {
	db *gorm.DB
}

// NewReadRepo creates a new ReadRepo
func NewReadRepo(db *gorm.DB) *ReadRepo {
	return &ReadRepo{db: db}
}

// Upsert creates or advances a read pointer. last_read_at only moves forward,
// so a stale client replaying an old pointer cannot regress read state.
func (r *ReadRepo) Upsert(ctx context.Context, rp *entity.ReadPointer) error {
	rp.UpdatedAt = entity.NowUnixMilli()

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "conversation_type"}, {Name: "conversation_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_read_message_id": gorm.Expr("IF(VALUES(last_read_at) > last_read_at, VALUES(last_read_message_id), last_read_message_id)"),
			"last_read_at":         gorm.Expr("GREATEST(last_read_at, VALUES(last_read_at))"),
			"updated_at":           rp.UpdatedAt,
		}),
	}).Create(rp).Error
}

// Get gets the read pointer for one (user, conversation) pair
func (r *ReadRepo) Get(ctx context.Context, userId, convType, convId string) (*entity.ReadPointer, error) {
	var rp entity.ReadPointer
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND conversation_type = ? AND conversation_id = ?", userId, convType, convId).
		First(&rp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rp, nil
}

// BulkUnreadCounts computes unread counts for a list of conversations in a
// single grouped query. Unread is the count of messages whose created_at is
// greater than the created_at of the message the read pointer names.
// Conversations with no unread messages are absent from the result.
func (r *ReadRepo) BulkUnreadCounts(ctx context.Context, userId string, convIds []string) (map[string]*entity.UnreadCount, error) {
	result := make(map[string]*entity.UnreadCount, len(convIds))
	if len(convIds) == 0 {
		return result, nil
	}

	var rows []*entity.UnreadCount
	err := r.db.WithContext(ctx).
		Table("messages m").
		Select("m.conversation_type, m.conversation_id, COUNT(*) as count").
		Joins(`LEFT JOIN read_pointers rp ON rp.user_id = ?
			AND rp.conversation_type = m.conversation_type
			AND rp.conversation_id = m.conversation_id`, userId).
		Joins("LEFT JOIN messages rm ON rm.id = rp.last_read_message_id").
		Where("m.conversation_id IN ?", convIds).
		Where("m.created_at > COALESCE(rm.created_at, 0)").
		Group("m.conversation_type, m.conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		result[row.ConversationId] = row
	}
	return result, nil
}
