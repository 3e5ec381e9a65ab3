package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// AppendTrustEvent adds one row to a device's trust history. History is
// append-only; no update or delete path exists.
func (a *SQLiteAdapter) AppendTrustEvent(ctx context.Context, event domain.TrustEvent) error {
	model := TrustEventModel{
		DeviceID:   event.DeviceID,
		ScoreAfter: event.ScoreAfter,
		Delta:      event.Delta,
		Reason:     event.Reason,
		Timestamp:  event.Timestamp,
	}
	return domain.WrapStorage(a.db.WithContext(ctx).Create(&model).Error)
}

// CurrentTrust returns the device's latest score.
func (a *SQLiteAdapter) CurrentTrust(ctx context.Context, deviceID string) (int, error) {
	var model TrustEventModel
	err := a.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("id desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, domain.NotFound("trust score", deviceID)
		}
		return 0, domain.WrapStorage(err)
	}
	return model.ScoreAfter, nil
}

// TrustHistory returns a device's trust events, newest first.
func (a *SQLiteAdapter) TrustHistory(ctx context.Context, deviceID string, limit int) ([]domain.TrustEvent, error) {
	q := a.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []TrustEventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, domain.WrapStorage(err)
	}
	events := make([]domain.TrustEvent, len(models))
	for i, m := range models {
		events[i] = domain.TrustEvent{
			DeviceID:   m.DeviceID,
			ScoreAfter: m.ScoreAfter,
			Delta:      m.Delta,
			Reason:     m.Reason,
			Timestamp:  m.Timestamp,
		}
	}
	return events, nil
}

// AllTrustScores returns the latest score of every device with history.
func (a *SQLiteAdapter) AllTrustScores(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		DeviceID   string
		ScoreAfter int
	}
	err := a.db.WithContext(ctx).
		Raw(`SELECT device_id, score_after FROM trust_event_models
		     WHERE id IN (SELECT MAX(id) FROM trust_event_models GROUP BY device_id)`).
		Scan(&rows).Error
	if err != nil {
		return nil, domain.WrapStorage(err)
	}
	scores := make(map[string]int, len(rows))
	for _, r := range rows {
		scores[r.DeviceID] = r.ScoreAfter
	}
	return scores, nil
}
