package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// UpsertThreat inserts or replaces a threat keyed by source IP.
func (a *SQLiteAdapter) UpsertThreat(ctx context.Context, threat *domain.Threat) error {
	model := toThreatModel(threat)
	err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
	return domain.WrapStorage(err)
}

// GetThreat retrieves a threat by source IP.
func (a *SQLiteAdapter) GetThreat(ctx context.Context, sourceIP string) (*domain.Threat, error) {
	var model ThreatModel
	if err := a.db.WithContext(ctx).First(&model, "source_ip = ?", sourceIP).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("threat", sourceIP)
		}
		return nil, domain.WrapStorage(err)
	}
	return toThreatDomain(model), nil
}

// ListThreats returns all active threats, most recently seen first.
func (a *SQLiteAdapter) ListThreats(ctx context.Context) ([]domain.Threat, error) {
	var models []ThreatModel
	if err := a.db.WithContext(ctx).Order("last_seen desc").Find(&models).Error; err != nil {
		return nil, domain.WrapStorage(err)
	}
	threats := make([]domain.Threat, len(models))
	for i, m := range models {
		threats[i] = *toThreatDomain(m)
	}
	return threats, nil
}

// DeleteThreatsBefore removes threats idle since before the cutoff and
// returns their source IPs so dependent mitigations can expire with them.
func (a *SQLiteAdapter) DeleteThreatsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ips []string
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ThreatModel{}).
			Where("last_seen < ?", cutoff).
			Pluck("source_ip", &ips).Error; err != nil {
			return err
		}
		if len(ips) == 0 {
			return nil
		}
		return tx.Where("last_seen < ?", cutoff).Delete(&ThreatModel{}).Error
	})
	if err != nil {
		return nil, domain.WrapStorage(err)
	}
	return ips, nil
}

// DeleteThreat removes a single threat row. Deleting an unknown source
// is not an error.
func (a *SQLiteAdapter) DeleteThreat(ctx context.Context, sourceIP string) error {
	err := a.db.WithContext(ctx).Delete(&ThreatModel{}, "source_ip = ?", sourceIP).Error
	return domain.WrapStorage(err)
}

// SaveMitigation inserts or replaces a mitigation rule.
func (a *SQLiteAdapter) SaveMitigation(ctx context.Context, rule *domain.MitigationRule) error {
	model := toMitigationModel(rule)
	err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
	return domain.WrapStorage(err)
}

// GetMitigationBySource retrieves the mitigation covering a source IP.
func (a *SQLiteAdapter) GetMitigationBySource(ctx context.Context, sourceIP string) (*domain.MitigationRule, error) {
	var model MitigationModel
	if err := a.db.WithContext(ctx).First(&model, "source_ip = ?", sourceIP).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFound("mitigation", sourceIP)
		}
		return nil, domain.WrapStorage(err)
	}
	return toMitigationDomain(model), nil
}

// ListMitigations returns all mitigation rules, newest first.
func (a *SQLiteAdapter) ListMitigations(ctx context.Context) ([]domain.MitigationRule, error) {
	var models []MitigationModel
	if err := a.db.WithContext(ctx).Order("created_at desc").Find(&models).Error; err != nil {
		return nil, domain.WrapStorage(err)
	}
	rules := make([]domain.MitigationRule, len(models))
	for i, m := range models {
		rules[i] = *toMitigationDomain(m)
	}
	return rules, nil
}

// DeleteMitigation removes a mitigation rule by ID.
func (a *SQLiteAdapter) DeleteMitigation(ctx context.Context, id string) error {
	err := a.db.WithContext(ctx).Delete(&MitigationModel{}, "id = ?", id).Error
	return domain.WrapStorage(err)
}
