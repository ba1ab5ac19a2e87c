// Package mirror holds the realtime status mirror: a best-effort cache of each user's
// current attendance status derived from the primary store.
package mirror

import (
	"context"

	"attendance.service/internal/core/model"
)

// Store is the mirror port. Snapshots are keyed by user.
type Store interface {
	// Publish writes snap unless the stored snapshot is newer (later day or higher
	// source version). applied reports whether the write took effect.
	Publish(ctx context.Context, snap model.MirrorSnapshot) (applied bool, err error)
	// Replace overwrites the user's snapshot unconditionally.
	Replace(ctx context.Context, snap model.MirrorSnapshot) error
	// Get returns model.ErrSnapshotNotFound when the user has no snapshot.
	Get(ctx context.Context, userID string) (*model.MirrorSnapshot, error)
	List(ctx context.Context) ([]model.MirrorSnapshot, error)
	Summary(ctx context.Context, dateKey string) (model.StatusSummary, error)
}
