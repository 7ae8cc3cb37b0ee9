package repository

import (
	"context"

	"github.com/parlorhq/parlor/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReactionRepo is the repository for reactions and pins
type ReactionRepo struct {
	db *gorm.DB
}

// NewReactionRepo creates a new ReactionRepo
func NewReactionRepo(db *gorm.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// Add adds a reaction. Adding an existing (message, user, emoji) reaction is
// a no-op, not an error. Returns whether a row was created.
func (r *ReactionRepo) Add(ctx context.Context, reaction *entity.Reaction) (bool, error) {
	reaction.CreatedAt = entity.NowUnixMilli()

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}, {Name: "emoji"}},
		DoNothing: true,
	}).Create(reaction)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Remove removes a reaction. Returns whether a row was removed.
func (r *ReactionRepo) Remove(ctx context.Context, messageId, userId, emoji string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageId, userId, emoji).
		Delete(&entity.Reaction{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListByMessageIds gets all reactions for a set of messages in one query,
// keyed by message id
func (r *ReactionRepo) ListByMessageIds(ctx context.Context, messageIds []string) (map[string][]*entity.Reaction, error) {
	result := make(map[string][]*entity.Reaction, len(messageIds))
	if len(messageIds) == 0 {
		return result, nil
	}

	var reactions []*entity.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIds).
		Order("created_at ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}

	for _, reaction := range reactions {
		result[reaction.MessageId] = append(result[reaction.MessageId], reaction)
	}
	return result, nil
}

// ========== Pins ==========

// AddPin pins a message in a conversation, idempotently
func (r *ReactionRepo) AddPin(ctx context.Context, pin *entity.Pin) (bool, error) {
	pin.CreatedAt = entity.NowUnixMilli()

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_type"}, {Name: "conversation_id"}, {Name: "message_id"}},
		DoNothing: true,
	}).Create(pin)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RemovePin unpins a message
func (r *ReactionRepo) RemovePin(ctx context.Context, convType, convId, messageId string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("conversation_type = ? AND conversation_id = ? AND message_id = ?", convType, convId, messageId).
		Delete(&entity.Pin{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListPins lists pins of a conversation, newest first
func (r *ReactionRepo) ListPins(ctx context.Context, convType, convId string) ([]*entity.Pin, error) {
	var pins []*entity.Pin
	err := r.db.WithContext(ctx).
		Where("conversation_type = ? AND conversation_id = ?", convType, convId).
		Order("created_at DESC").
		Find(&pins).Error
	if err != nil {
		return nil, err
	}
	return pins, nil
}
