package vps

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ManagerConfig carries the policy knobs and branding the manager
// injects into every created container.
type ManagerConfig struct {
	Quota          Quota
	DeniedPatterns []string
	DefaultImage   string
	Watermark      string
	WelcomeMessage string
	// MaxRuntimeCalls bounds how many runtime operations may be in
	// flight at once; zero falls back to a small default.
	MaxRuntimeCalls int64
}

const defaultMaxRuntimeCalls = 8

// Manager orchestrates sanitization, policy, quota and authorization
// checks around runtime calls, and keeps the registry persisted after
// every mutation.
//
// Locking discipline: mu serializes create and delete end-to-end so
// the quota check, the runtime call and the insert commit atomically
// with respect to other creates. Per-name locks serialize start/stop/
// restart/exec against each other and against delete on the same
// instance. The semaphore bounds total in-flight runtime calls so a
// slow image pull cannot soak up every worker.
type Manager struct {
	mu        sync.Mutex
	nameLocks map[string]*sync.Mutex

	registry *Registry
	runtime  Runtime
	guard    *Guard
	policy   *ImagePolicy
	cfg      ManagerConfig
	sem      *semaphore.Weighted
}

// NewManager wires the lifecycle manager. runtime may be nil when the
// container engine was unreachable at startup; every operation then
// fails with a runtime-unavailable error instead of attempting calls.
func NewManager(registry *Registry, runtime Runtime, admins AdminChecker, cfg ManagerConfig) *Manager {
	slots := cfg.MaxRuntimeCalls
	if slots <= 0 {
		slots = defaultMaxRuntimeCalls
	}
	return &Manager{
		nameLocks: make(map[string]*sync.Mutex),
		registry:  registry,
		runtime:   runtime,
		guard:     NewGuard(admins),
		policy:    NewImagePolicy(cfg.DeniedPatterns),
		cfg:       cfg,
		sem:       semaphore.NewWeighted(slots),
	}
}

// Registry exposes the registry for read-only collaborators (metrics,
// reconcile job).
func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) nameLock(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.nameLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.nameLocks[name] = lock
	}
	return lock
}

// callRuntime runs fn under a bounded worker slot.
func (m *Manager) callRuntime(ctx context.Context, fn func() error) error {
	if m.runtime == nil {
		return ErrRuntimeUnavailable
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return Wrap(KindRuntimeOperationFailed, err, "waiting for runtime worker slot")
	}
	defer m.sem.Release(1)
	return fn()
}

// Create provisions a new instance. Check order is fixed: duplicate
// name, image policy, quota, then the runtime call. The registry is
// only mutated after the runtime reports success, so a failed create
// leaves no partial state.
func (m *Manager) Create(ctx context.Context, label, image string, caller Caller, limits ResourceLimits) (Record, error) {
	if image == "" {
		image = m.cfg.DefaultImage
	}
	name := Canonicalize(label, caller.ID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.registry.Get(name); exists {
		return Record{}, E(KindDuplicateName, "VPS name %q already exists", name)
	}
	if m.policy.IsDenied(image) {
		return Record{}, E(KindPolicyViolation, "image %q blocked (denied pattern matched)", image)
	}
	if err := m.cfg.Quota.MayCreate(m.registry.Snapshot(), caller.ID); err != nil {
		return Record{}, err
	}

	spec := CreateSpec{
		Image:   image,
		Name:    name,
		OwnerID: caller.ID,
		Env: map[string]string{
			"WELCOME_MESSAGE": m.cfg.WelcomeMessage,
			"WATERMARK":       m.cfg.Watermark,
		},
		Limits: limits,
	}

	var ref ContainerRef
	err := m.callRuntime(ctx, func() error {
		var err error
		ref, err = m.runtime.Create(ctx, spec)
		return err
	})
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Name:      name,
		OwnerID:   caller.ID,
		Image:     image,
		CreatedAt: time.Now().UTC(),
		Container: ref,
	}
	m.registry.Insert(rec)
	m.persist("create")
	log.Printf("Instance created: name=%s owner=%s image=%s container=%s", name, caller.ID, image, ref.ShortID)
	return rec, nil
}

// List returns the caller's own instances annotated with best-effort
// live status. A runtime failure for one record yields "unknown" for
// that record only.
func (m *Manager) List(ctx context.Context, caller Caller) []InstanceStatus {
	owned := m.registry.OwnedBy(caller.ID)
	sort.Slice(owned, func(i, j int) bool { return owned[i].Name < owned[j].Name })

	statuses := make([]InstanceStatus, 0, len(owned))
	for _, rec := range owned {
		statuses = append(statuses, InstanceStatus{Record: rec, Status: m.liveStatus(ctx, rec)})
	}
	return statuses
}

func (m *Manager) liveStatus(ctx context.Context, rec Record) string {
	var status RuntimeStatus
	err := m.callRuntime(ctx, func() error {
		var err error
		status, err = m.runtime.Inspect(ctx, rec.Container)
		return err
	})
	switch {
	case err == nil:
		return status.Status
	case errors.Is(err, ErrRuntimeObjectMissing):
		return StatusMissing
	default:
		return StatusUnknown
	}
}

// Status returns the inspected status of one instance. It tells a
// name that was never managed apart from a managed name whose runtime
// container has disappeared (orphan, reported as StatusMissing).
// Visibility is scoped like List: owners see their own records, admins
// see everything.
func (m *Manager) Status(ctx context.Context, name string, caller Caller) (InstanceStatus, error) {
	rec, ok := m.registry.Get(name)
	if !ok {
		return InstanceStatus{}, E(KindNotManaged, "no VPS named %q", name)
	}
	if rec.OwnerID != caller.ID && !m.guard.IsAdmin(caller) {
		return InstanceStatus{}, E(KindNotManaged, "no VPS named %q", name)
	}

	var status RuntimeStatus
	err := m.callRuntime(ctx, func() error {
		var err error
		status, err = m.runtime.Inspect(ctx, rec.Container)
		return err
	})
	switch {
	case err == nil:
		return InstanceStatus{Record: rec, Status: status.Status}, nil
	case errors.Is(err, ErrRuntimeObjectMissing):
		return InstanceStatus{Record: rec, Status: StatusMissing}, nil
	default:
		return InstanceStatus{}, err
	}
}

// Start starts a stopped instance. The stored record does not change;
// a runtime-side not-found is surfaced as an orphan condition and the
// record is kept until an explicit delete.
func (m *Manager) Start(ctx context.Context, name string, caller Caller) error {
	return m.transition(ctx, name, caller, "start", func(ref ContainerRef) error {
		return m.runtime.Start(ctx, ref)
	})
}

// Stop stops a running instance.
func (m *Manager) Stop(ctx context.Context, name string, caller Caller) error {
	return m.transition(ctx, name, caller, "stop", func(ref ContainerRef) error {
		return m.runtime.Stop(ctx, ref)
	})
}

// Restart restarts an instance.
func (m *Manager) Restart(ctx context.Context, name string, caller Caller) error {
	return m.transition(ctx, name, caller, "restart", func(ref ContainerRef) error {
		return m.runtime.Restart(ctx, ref)
	})
}

func (m *Manager) transition(ctx context.Context, name string, caller Caller, verb string, op func(ContainerRef) error) error {
	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	rec, ok := m.registry.Get(name)
	if !ok {
		return E(KindNotManaged, "no VPS named %q", name)
	}
	if err := m.guard.MayMutate(rec, caller); err != nil {
		return err
	}
	err := m.callRuntime(ctx, func() error { return op(rec.Container) })
	if err != nil {
		if errors.Is(err, ErrRuntimeObjectMissing) {
			return Wrap(KindRuntimeObjectMissing, err, "container for %q is gone; delete the instance to clean up", name)
		}
		return err
	}
	log.Printf("Instance %s: name=%s caller=%s", verb, name, caller.ID)
	return nil
}

// Delete removes an instance. The runtime container is removed best
// effort; a container that is already gone counts as success so the
// registry never leaks a record once an authorized delete is issued.
func (m *Manager) Delete(ctx context.Context, name string, caller Caller, force bool) error {
	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	rec, ok := m.registry.Get(name)
	if !ok {
		return E(KindNotManaged, "no VPS named %q", name)
	}
	if err := m.guard.MayMutate(rec, caller); err != nil {
		return err
	}

	err := m.callRuntime(ctx, func() error {
		return m.runtime.Remove(ctx, rec.Container, force)
	})
	if err != nil && !errors.Is(err, ErrRuntimeObjectMissing) {
		return err
	}
	if errors.Is(err, ErrRuntimeObjectMissing) {
		log.Printf("Instance delete: container for %s already gone, cleaning up record", name)
	}

	m.mu.Lock()
	m.registry.Remove(name)
	delete(m.nameLocks, name)
	m.mu.Unlock()
	m.persist("delete")
	log.Printf("Instance deleted: name=%s caller=%s force=%v", name, caller.ID, force)
	return nil
}

// Exec runs a command inside the instance's container and returns the
// captured, display-budget-truncated output.
func (m *Manager) Exec(ctx context.Context, name string, caller Caller, command string) (ExecResult, error) {
	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	rec, ok := m.registry.Get(name)
	if !ok {
		return ExecResult{}, E(KindNotManaged, "no VPS named %q", name)
	}
	if err := m.guard.MayMutate(rec, caller); err != nil {
		return ExecResult{}, err
	}

	var result ExecResult
	err := m.callRuntime(ctx, func() error {
		var err error
		result, err = m.runtime.Exec(ctx, rec.Container, command)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrRuntimeObjectMissing) {
			return ExecResult{}, Wrap(KindRuntimeObjectMissing, err, "container for %q is gone; delete the instance to clean up", name)
		}
		return ExecResult{}, err
	}
	return result, nil
}

// Save persists the registry on demand. Admin-only: automatic
// persist-after-mutation covers normal operation.
func (m *Manager) Save(caller Caller) error {
	if !m.guard.IsAdmin(caller) {
		return E(KindPermissionDenied, "backup requires admin")
	}
	return m.registry.Save()
}

// Restore reloads the registry from durable storage, discarding the
// in-memory state. Admin-only.
func (m *Manager) Restore(caller Caller) error {
	if !m.guard.IsAdmin(caller) {
		return E(KindPermissionDenied, "restore requires admin")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Load()
}

// persist writes the registry after a mutation. A failed write keeps
// the in-memory state authoritative and is logged as a warning;
// durability catches up on the next successful save.
func (m *Manager) persist(op string) {
	if err := m.registry.Save(); err != nil {
		log.Printf("Warning: persisting registry after %s failed: %v", op, err)
	}
}
