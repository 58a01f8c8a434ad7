package jobs

import (
	"context"
	"errors"
	"log"

	"github.com/eaglenode/vpsd/vps"
)

// RegistryReader provides the snapshot the reconcile job walks.
type RegistryReader interface {
	Snapshot() map[string]vps.Record
}

// ReconcileJob walks the registry and reports records whose runtime
// container has disappeared out-of-band. It never deletes anything:
// the registry does not self-heal, and an orphan is resolved only by
// an explicit delete from its owner or an admin.
type ReconcileJob struct {
	registry RegistryReader
	runtime  vps.Runtime

	// onOrphans, when set, receives the orphan names found by each
	// run (consumed by tests and the metrics collector).
	onOrphans func(names []string)
}

// NewReconcileJob creates a new reconcile job
func NewReconcileJob(registry RegistryReader, runtime vps.Runtime) *ReconcileJob {
	if registry == nil {
		panic("ReconcileJob requires a non-nil registry")
	}
	return &ReconcileJob{registry: registry, runtime: runtime}
}

// SetOrphanCallback registers a callback receiving orphan names.
func (j *ReconcileJob) SetOrphanCallback(fn func(names []string)) {
	j.onOrphans = fn
}

func (j *ReconcileJob) Name() string {
	return "orphan-reconcile"
}

func (j *ReconcileJob) Run(ctx context.Context) error {
	if j.runtime == nil {
		return vps.ErrRuntimeUnavailable
	}

	var orphans []string
	for name, rec := range j.registry.Snapshot() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := j.runtime.Inspect(ctx, rec.Container)
		switch {
		case err == nil:
			continue
		case errors.Is(err, vps.ErrRuntimeObjectMissing):
			orphans = append(orphans, name)
		default:
			// Transient runtime trouble for this record; the next run
			// will see it again.
			log.Printf("[orphan-reconcile] Could not inspect %s: %v", name, err)
		}
	}

	if len(orphans) > 0 {
		log.Printf("[orphan-reconcile] %d orphaned instance(s): %v (delete to clean up)", len(orphans), orphans)
	}
	if j.onOrphans != nil {
		j.onOrphans(orphans)
	}
	return nil
}
