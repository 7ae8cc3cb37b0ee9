package repository

import (
	"context"

	"github.com/parlorhq/parlor/internal/entity"
	"gorm.io/gorm"
)

// UserRepo is the repository for user operations
type UserRepo struct {
	db *gorm.DB
}

// NewUserRepo creates a new UserRepo
func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create creates a new user
func (r *UserRepo) Create(ctx context.Context, user *entity.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetById gets user by Id
func (r *UserRepo) GetById(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByIds gets users by Ids in one batched query. Callers enrich responses
// from this map instead of querying per row.
func (r *UserRepo) GetByIds(ctx context.Context, ids []string) (map[string]*entity.User, error) {
	result := make(map[string]*entity.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var users []*entity.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	if err != nil {
		return nil, err
	}

	for _, u := range users {
		result[u.Id] = u
	}
	return result, nil
}

// Update updates user info
func (r *UserRepo) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&entity.User{}).Where("id = ?", id).Updates(updates).Error
}

// Exists checks if user exists
func (r *UserRepo) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.User{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByTenant lists users of a tenant
func (r *UserRepo) ListByTenant(ctx context.Context, tenantId string) ([]*entity.User, error) {
	var users []*entity.User
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantId).Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
