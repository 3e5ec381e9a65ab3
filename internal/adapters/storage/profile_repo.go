package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// PutBaseline inserts or replaces a device's behavioral baseline.
func (a *SQLiteAdapter) PutBaseline(ctx context.Context, baseline *domain.Baseline) error {
	model := toBaselineModel(baseline)
	err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
	return domain.WrapStorage(err)
}

// GetBaseline retrieves a device's baseline.
func (a *SQLiteAdapter) GetBaseline(ctx context.Context, deviceID string) (*domain.Baseline, error) {
	var model BaselineModel
	if err := a.db.WithContext(ctx).First(&model, "device_id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("baseline", deviceID)
		}
		return nil, domain.WrapStorage(err)
	}
	return toBaselineDomain(model), nil
}

// DeleteBaseline removes a device's baseline. Deleting a missing
// baseline is not an error.
func (a *SQLiteAdapter) DeleteBaseline(ctx context.Context, deviceID string) error {
	err := a.db.WithContext(ctx).Delete(&BaselineModel{}, "device_id = ?", deviceID).Error
	return domain.WrapStorage(err)
}

// PutPolicy inserts or replaces a device's policy.
func (a *SQLiteAdapter) PutPolicy(ctx context.Context, policy *domain.Policy) error {
	model := toPolicyModel(policy)
	err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
	return domain.WrapStorage(err)
}

// GetPolicy retrieves a device's policy.
func (a *SQLiteAdapter) GetPolicy(ctx context.Context, deviceID string) (*domain.Policy, error) {
	var model PolicyModel
	if err := a.db.WithContext(ctx).First(&model, "device_id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("policy", deviceID)
		}
		return nil, domain.WrapStorage(err)
	}
	return toPolicyDomain(model), nil
}

// DeletePolicy removes a device's policy.
func (a *SQLiteAdapter) DeletePolicy(ctx context.Context, deviceID string) error {
	err := a.db.WithContext(ctx).Delete(&PolicyModel{}, "device_id = ?", deviceID).Error
	return domain.WrapStorage(err)
}
