package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"garita/internal/models"
	"garita/internal/store"
)

type CommandStore struct{ db *gorm.DB }

func NewCommandStore(db *gorm.DB) *CommandStore { return &CommandStore{db: db} }

func (s *CommandStore) Enqueue(ctx context.Context, cmd *models.AccessCommand) (bool, error) {
	err := s.db.WithContext(ctx).Create(cmd).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) || cmd.RequestID == nil {
		return false, err
	}
	// same (device_id, request_id) already queued: return the existing row
	var existing models.AccessCommand
	ferr := s.db.WithContext(ctx).
		Where("device_id = ? AND request_id = ?", cmd.DeviceID, *cmd.RequestID).
		First(&existing).Error
	if ferr != nil {
		return false, ferr
	}
	*cmd = existing
	return true, nil
}

func (s *CommandStore) GetByID(ctx context.Context, id uint) (*models.AccessCommand, error) {
	var c models.AccessCommand
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Claim selects up to limit claimable rows with FOR UPDATE SKIP LOCKED and
// flips them to claimed inside one transaction. Locked rows belong to a
// concurrent poller and are skipped, so no command is delivered twice.
// Expiry gates claimability in both branches; claiming pushes expires_at to
// now+2*lease so a crashed claimer's command stays requeueable for exactly
// one lease after its lease runs out, and never past that.
func (s *CommandStore) Claim(ctx context.Context, deviceID uint, limit int, now time.Time, lease time.Duration) ([]models.AccessCommand, error) {
	var claimed []models.AccessCommand
	leaseCutoff := now.Add(-lease)
	expiry := now.Add(2 * lease)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.AccessCommand
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("device_id = ?", deviceID).
			Where("expires_at > ?", now).
			Where(
				tx.Where("status = ? ", models.CommandStatusPending).
					Or("status = ? AND claimed_at <= ?", models.CommandStatusClaimed, leaseCutoff),
			).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uint, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		if err := tx.Model(&models.AccessCommand{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     models.CommandStatusClaimed,
				"claimed_at": now,
				"expires_at": expiry,
			}).Error; err != nil {
			return err
		}
		for i := range rows {
			t := now
			rows[i].Status = models.CommandStatusClaimed
			rows[i].ClaimedAt = &t
			rows[i].ExpiresAt = expiry
		}
		claimed = rows
		return nil
	})
	return claimed, err
}

func (s *CommandStore) Ack(ctx context.Context, deviceID, id uint, result datatypes.JSON, at time.Time) (bool, error) {
	already := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.AccessCommand
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND device_id = ?", id, deviceID).
			First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		switch c.Status {
		case models.CommandStatusAcked:
			already = true
			return nil
		case models.CommandStatusClaimed:
			return tx.Model(&c).Updates(map[string]any{
				"status":   models.CommandStatusAcked,
				"result":   result,
				"acked_at": at,
			}).Error
		}
		return store.ErrConflict
	})
	return already, err
}

func (s *CommandStore) Cancel(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AccessCommand{}).
			Where("id = ? AND status = ?", id, models.CommandStatusPending).
			Updates(map[string]any{
				"status":     models.CommandStatusCanceled,
				"expires_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&models.AccessCommand{}).Where("id = ?", id).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return store.ErrNotFound
			}
			return store.ErrConflict
		}
		return nil
	})
}

func (s *CommandStore) ListByDevice(ctx context.Context, deviceID uint, limit int) ([]models.AccessCommand, error) {
	q := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.AccessCommand
	err := q.Find(&out).Error
	return out, err
}
