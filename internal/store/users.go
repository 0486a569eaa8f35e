package store

import (
	"context"

	"tasktracker/internal/model"

	"gorm.io/gorm"
)

// UserStore 凭据存储。
type UserStore struct {
	db *gorm.DB
}

// NewUserStore 创建用户存储。
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// CreateUser 插入用户，成功后 user.ID 被回填。用户名冲突返回 ErrDuplicate。
func (s *UserStore) CreateUser(ctx context.Context, user *model.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return translate("create user", err)
	}
	return nil
}

// UserByUsername 按用户名查询，不存在返回 ErrNotFound。
func (s *UserStore) UserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate("get user", err)
	}
	return &user, nil
}
