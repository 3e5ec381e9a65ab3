package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
	"github.com/lcalzada-xor/ztcore/internal/core/ports"
)

// Ensure interface compliance
var _ ports.UserRepository = (*SQLiteAdapter)(nil)

// SaveUser creates or updates a user.
func (a *SQLiteAdapter) SaveUser(ctx context.Context, user *domain.User) error {
	return domain.WrapStorage(a.db.WithContext(ctx).Save(user).Error)
}

// GetUserByUsername retrieves a user by their username.
func (a *SQLiteAdapter) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	if err := a.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("user", username)
		}
		return nil, domain.WrapStorage(err)
	}
	return &user, nil
}

// CountUsers returns the number of stored users.
func (a *SQLiteAdapter) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.WithContext(ctx).Model(&domain.User{}).Count(&n).Error; err != nil {
		return 0, domain.WrapStorage(err)
	}
	return n, nil
}
