package permission

import (
	"context"

	id "gridgrant/pkg/domain"
)

// Store persists permission request snapshots. Save enforces optimistic
// concurrency on the snapshot's version: the store is the serialization
// point that keeps two transitions on the same permission from interleaving.
type Store interface {
	Create(ctx context.Context, s Snapshot) error
	// Save persists s, whose Version is the new version produced by the
	// transition. Fails with CodeConflict when the stored version is not
	// s.Version-1, and CodeNotFound when the permission does not exist.
	Save(ctx context.Context, s Snapshot) error
	// Find returns the current snapshot, CodeNotFound when absent.
	Find(ctx context.Context, pid id.PermissionID) (Snapshot, error)
}
