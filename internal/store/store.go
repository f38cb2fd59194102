// Package store defines the persistence interfaces of the gateway. Two
// implementations exist: gorm-backed stores in internal/repo and
// mutex-guarded in-memory stores in internal/store/memory (used both by
// tests and by the DB-less mode).
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"

	"garita/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type DeviceStore interface {
	Create(ctx context.Context, d *models.Device) error
	GetByID(ctx context.Context, id uint) (*models.Device, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.Device, error)
	// Update persists the whole row (auth secrets, binding, flags).
	Update(ctx context.Context, d *models.Device) error
	List(ctx context.Context) ([]models.Device, error)
	// PatchConfigKey rewrites a single top-level key of the config blob,
	// leaving sibling keys untouched. A nil value removes the key.
	PatchConfigKey(ctx context.Context, id uint, key string, value any) error
	// Touch updates last_seen_at only.
	Touch(ctx context.Context, id uint, at time.Time) error
}

type CredentialStore interface {
	// Create fails with ErrConflict when an active row with the same hash
	// exists.
	Create(ctx context.Context, c *models.Credential) error
	GetByID(ctx context.Context, id uint) (*models.Credential, error)
	// FindActiveByHash only ever returns active rows.
	FindActiveByHash(ctx context.Context, hash string) (*models.Credential, error)
	Deactivate(ctx context.Context, id uint) error
	// DeactivateByUserType soft-deletes every active credential of the
	// given type owned by the user (enrollment overwrite).
	DeactivateByUserType(ctx context.Context, userID uint, credType string) error
	ListByUser(ctx context.Context, userID uint) ([]models.Credential, error)
}

// EventFilter narrows the operator event listing.
type EventFilter struct {
	LocationID *uint
	DeviceID   *uint
	Page       int
	PageSize   int
}

type EventStore interface {
	// Insert appends one row; rows are never updated afterwards.
	Insert(ctx context.Context, e *models.AccessEvent) error
	FindByNonce(ctx context.Context, deviceID uint, nonceHash string) (*models.AccessEvent, error)
	// CountSince counts rows for a device at or after the cutoff,
	// regardless of decision.
	CountSince(ctx context.Context, deviceID uint, cutoff time.Time) (int64, error)
	// LastAllowUnlock returns the most recent allow+unlock row for the user
	// at the location at or after the cutoff, or ErrNotFound.
	LastAllowUnlock(ctx context.Context, userID uint, locationID *uint, cutoff time.Time) (*models.AccessEvent, error)
	// List returns a page ordered by (created_at, id) descending plus the
	// total row count for the filter.
	List(ctx context.Context, f EventFilter) ([]models.AccessEvent, int64, error)
}

type CommandStore interface {
	// Enqueue inserts cmd, or — when a row with the same
	// (device_id, request_id) already exists — loads that row into cmd and
	// reports existing=true without writing anything.
	Enqueue(ctx context.Context, cmd *models.AccessCommand) (existing bool, err error)
	GetByID(ctx context.Context, id uint) (*models.AccessCommand, error)
	// Claim atomically selects up to limit claimable rows for the device in
	// ascending id order and marks them claimed. Claimable means pending
	// and unexpired, or claimed with a lease that ran out before now.
	// Concurrent claimers never receive the same row.
	Claim(ctx context.Context, deviceID uint, limit int, now time.Time, lease time.Duration) ([]models.AccessCommand, error)
	// Ack completes a claimed command. Acking an acked command reports
	// already=true and changes nothing. Canceled or expired rows return
	// ErrConflict.
	Ack(ctx context.Context, deviceID, id uint, result datatypes.JSON, at time.Time) (already bool, err error)
	// Cancel terminates a pending command and forces its expiry so it can
	// never be claimed or acked. Non-pending rows return ErrConflict.
	Cancel(ctx context.Context, id uint, at time.Time) error
	ListByDevice(ctx context.Context, deviceID uint, limit int) ([]models.AccessCommand, error)
}

type APITokenStore interface {
	Create(ctx context.Context, t *models.APIToken) error
	List(ctx context.Context) ([]models.APIToken, error)
	Count(ctx context.Context) (int64, error)
}
