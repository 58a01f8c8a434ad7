// Package vps implements the VPS lifecycle manager: the registry of
// managed instances, the policies governing lifecycle transitions, and
// the orchestration of runtime calls against a container engine.
package vps

import (
	"context"
	"time"
)

// ContainerRef identifies the runtime container backing an instance.
type ContainerRef struct {
	ID      string `json:"container_id"`
	ShortID string `json:"short_id"`
}

// Record is one managed VPS instance. Name is the primary key of the
// registry. OwnerID, Image, CreatedAt and Container are set once at
// creation and never change afterwards.
type Record struct {
	Name      string                 `json:"name"`
	OwnerID   string                 `json:"owner_id"`
	Image     string                 `json:"image"`
	CreatedAt time.Time              `json:"created_at"`
	Container ContainerRef           `json:"container"`
	Metadata  map[string]interface{} `json:"meta,omitempty"`
}

// Caller identifies who issued a command. ID is opaque (for the chat
// gateway it is the platform user ID); Roles carries role names the
// gateway resolved for the caller.
type Caller struct {
	ID    string
	Roles []string
}

// ResourceLimits are the optional ceilings applied at creation.
// Memory uses Docker-style size strings ("512m", "1g"); CPUs is a
// fractional core count.
type ResourceLimits struct {
	Memory string
	CPUs   float64
}

// Instance status values reported by List and Status. Values other
// than these come straight from the runtime ("running", "exited", ...).
const (
	// StatusUnknown means the runtime could not be reached for this
	// record; the listing as a whole still succeeds.
	StatusUnknown = "unknown"
	// StatusMissing means the record exists but the runtime container
	// is gone (orphan). Only an explicit delete resolves this.
	StatusMissing = "missing"
)

// InstanceStatus is a record annotated with best-effort live status.
type InstanceStatus struct {
	Record
	Status string `json:"status"`
}

// CreateSpec carries everything the runtime needs to instantiate a
// container for a new instance.
type CreateSpec struct {
	Image   string
	Name    string
	OwnerID string
	Env     map[string]string
	Limits  ResourceLimits
}

// RuntimeStatus is the read-only snapshot returned by Inspect.
type RuntimeStatus struct {
	Status    string
	Image     string
	CreatedAt time.Time
}

// ExecResult holds the captured output of a command run inside a
// container. Output longer than the display budget is truncated with a
// visible marker before it gets here.
type ExecResult struct {
	Stdout    string
	Stderr    string
	Truncated bool
}

// Runtime is the container engine contract the manager consumes.
// Implementations must return ErrRuntimeObjectMissing-kinded errors
// when the referenced container no longer exists, so the manager can
// tell an orphan apart from a transient failure.
type Runtime interface {
	Create(ctx context.Context, spec CreateSpec) (ContainerRef, error)
	Start(ctx context.Context, ref ContainerRef) error
	Stop(ctx context.Context, ref ContainerRef) error
	Restart(ctx context.Context, ref ContainerRef) error
	Remove(ctx context.Context, ref ContainerRef, force bool) error
	Exec(ctx context.Context, ref ContainerRef, command string) (ExecResult, error)
	Inspect(ctx context.Context, ref ContainerRef) (RuntimeStatus, error)
}

// Store persists the registry across restarts. Save overwrites the
// whole serialized registry; Load returns the last saved snapshot, or
// an empty map when nothing was saved yet.
type Store interface {
	Save(records map[string]Record) error
	Load() (map[string]Record, error)
}

// AdminChecker reports whether a caller holds the admin capability.
// The guard is agnostic to how admin status is determined.
type AdminChecker interface {
	IsAdmin(caller Caller) bool
}
