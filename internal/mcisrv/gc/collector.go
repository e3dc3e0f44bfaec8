// Package gc reclaims stored objects that no definition references.
// Reclamation is gated by a grace period: an object is only deleted
// when its key is absent from the referenced set and the object itself
// is older than the grace period. The age gate covers blobs written by
// ingestions that have not committed yet, and the referenced set
// includes keys superseded within the grace period, so a reader holding
// a recently replaced key can still fetch its bytes.
package gc

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcistack/mci/internal/common/apperrors"
	"github.com/mcistack/mci/internal/mcisrv/blob"
	"github.com/mcistack/mci/internal/mcisrv/db"
)

type Collector struct {
	md       db.MetadataManager
	store    blob.Store
	grace    time.Duration
	interval time.Duration
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Scanned       int
	Deleted       int
	HistoryPruned int64
}

func New(md db.MetadataManager, store blob.Store, grace, interval time.Duration) *Collector {
	return &Collector{md: md, store: store, grace: grace, interval: interval}
}

// Sweep runs one collection pass. It takes no locks shared with
// ingestion; a delete failure on one object is logged and does not stop
// the sweep.
func (c *Collector) Sweep(ctx context.Context) (SweepStats, apperrors.Error) {
	var stats SweepStats
	cutoff := time.Now().Add(-c.grace)

	keys, aerr := c.md.ListReferencedKeys(ctx, cutoff)
	if aerr != nil {
		return stats, aerr
	}
	referenced := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		referenced[key] = struct{}{}
	}

	for _, ns := range blob.Namespaces {
		objs, aerr := c.store.List(ctx, ns)
		if aerr != nil {
			return stats, aerr
		}
		for _, obj := range objs {
			stats.Scanned++
			if _, ok := referenced[obj.Key]; ok {
				continue
			}
			if obj.ModTime.After(cutoff) {
				// too young: possibly written by an ingestion that has
				// not committed yet
				continue
			}
			if aerr := c.store.Delete(ctx, obj.Key); aerr != nil {
				log.Ctx(ctx).Warn().Err(aerr).Str("key", obj.Key).Msg("gc delete failed")
				continue
			}
			stats.Deleted++
		}
	}

	pruned, aerr := c.md.PruneBlobHistory(ctx, cutoff)
	if aerr != nil {
		return stats, aerr
	}
	stats.HistoryPruned = pruned

	log.Ctx(ctx).Info().
		Int("scanned", stats.Scanned).
		Int("deleted", stats.Deleted).
		Int64("history_pruned", stats.HistoryPruned).
		Msg("gc sweep complete")
	return stats, nil
}

// Run sweeps on the configured interval until ctx is canceled.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("gc sweep failed")
			}
		}
	}
}
