package ixnports

import (
	"context"
	"time"

	"github.com/voxhollow/interactions-go/ixn/model"
)

// SnapshotCache holds terminal Interaction snapshots so repeat reads of a
// finished turn never leave the process. Implementations must return
// copies; callers may mutate what they get back.
type SnapshotCache interface {
	Get(ctx context.Context, id string) (*model.Interaction, bool)
	Set(ctx context.Context, snap *model.Interaction, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}
