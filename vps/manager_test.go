package vps

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

// fakeStore records saves so tests can assert persistence happened.
type fakeStore struct {
	mu      sync.Mutex
	saved   map[string]Record
	saveErr error
	loadErr error
	saveCnt int
}

func (s *fakeStore) Save(records map[string]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCnt++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = records
	return nil
}

func (s *fakeStore) Load() (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.saved, nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCnt
}

// fakeRuntime implements Runtime in memory. Containers added to the
// missing set answer every call with ErrRuntimeObjectMissing.
type fakeRuntime struct {
	mu        sync.Mutex
	createErr error
	missing   map[string]bool
	status    string
	creates   int32
	removes   int32
	starts    int32
	stops     int32
	restarts  int32
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{missing: make(map[string]bool), status: "running"}
}

func (f *fakeRuntime) markMissing(id string) {
	f.mu.Lock()
	f.missing[id] = true
	f.mu.Unlock()
}

func (f *fakeRuntime) checkMissing(ref ContainerRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[ref.ID] {
		return Wrap(KindRuntimeObjectMissing, nil, "no such container: %s", ref.ID)
	}
	return nil
}

func (f *fakeRuntime) Create(ctx context.Context, spec CreateSpec) (ContainerRef, error) {
	if f.createErr != nil {
		return ContainerRef{}, f.createErr
	}
	n := atomic.AddInt32(&f.creates, 1)
	id := fmt.Sprintf("%064d", n)
	return ContainerRef{ID: id, ShortID: id[:12]}, nil
}

func (f *fakeRuntime) Start(ctx context.Context, ref ContainerRef) error {
	if err := f.checkMissing(ref); err != nil {
		return err
	}
	atomic.AddInt32(&f.starts, 1)
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, ref ContainerRef) error {
	if err := f.checkMissing(ref); err != nil {
		return err
	}
	atomic.AddInt32(&f.stops, 1)
	return nil
}

func (f *fakeRuntime) Restart(ctx context.Context, ref ContainerRef) error {
	if err := f.checkMissing(ref); err != nil {
		return err
	}
	atomic.AddInt32(&f.restarts, 1)
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, ref ContainerRef, force bool) error {
	if err := f.checkMissing(ref); err != nil {
		return err
	}
	atomic.AddInt32(&f.removes, 1)
	return nil
}

func (f *fakeRuntime) Exec(ctx context.Context, ref ContainerRef, command string) (ExecResult, error) {
	if err := f.checkMissing(ref); err != nil {
		return ExecResult{}, err
	}
	return ExecResult{Stdout: "ran: " + command}, nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, ref ContainerRef) (RuntimeStatus, error) {
	if err := f.checkMissing(ref); err != nil {
		return RuntimeStatus{}, err
	}
	return RuntimeStatus{Status: f.status}, nil
}

func newTestManager(runtime Runtime, store Store, cfg ManagerConfig) *Manager {
	if cfg.DefaultImage == "" {
		cfg.DefaultImage = "ubuntu:22.04"
	}
	return NewManager(NewRegistry(store), runtime, NewStaticAdmins([]string{"admin"}, ""), cfg)
}

func TestManagerCreateInsertsAndPersists(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(newFakeRuntime(), store, ManagerConfig{})

	rec, err := m.Create(context.Background(), "box", "", Caller{ID: "1"}, ResourceLimits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Name != "eaglenode-box-1" {
		t.Errorf("name = %q", rec.Name)
	}
	if rec.Image != "ubuntu:22.04" {
		t.Errorf("empty image should fall back to default, got %q", rec.Image)
	}
	if rec.Container.ID == "" || rec.Container.ShortID == "" {
		t.Errorf("container ref not captured: %+v", rec.Container)
	}
	if store.saveCount() != 1 {
		t.Errorf("saveCount = %d, want 1", store.saveCount())
	}
	if _, ok := m.Registry().Get(rec.Name); !ok {
		t.Error("record missing from registry")
	}
}

func TestManagerCreateDuplicateName(t *testing.T) {
	m := newTestManager(newFakeRuntime(), nil, ManagerConfig{})
	ctx := context.Background()

	if _, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{})
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected duplicate-name error, got %v", err)
	}
	// Different owner, same label: distinct canonical name, no clash.
	if _, err := m.Create(ctx, "box", "", Caller{ID: "2"}, ResourceLimits{}); err != nil {
		t.Errorf("same label for other owner should pass: %v", err)
	}
}

func TestManagerCreateDeniedImage(t *testing.T) {
	runtime := newFakeRuntime()
	m := newTestManager(runtime, nil, ManagerConfig{})

	_, err := m.Create(context.Background(), "box", "cryptonight-miner:latest", Caller{ID: "1"}, ResourceLimits{})
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if runtime.creates != 0 {
		t.Error("denied image must never reach the runtime")
	}
	if m.Registry().Len() != 0 {
		t.Error("denied create must not touch the registry")
	}
}

func TestManagerCreateQuota(t *testing.T) {
	m := newTestManager(newFakeRuntime(), nil, ManagerConfig{Quota: Quota{MaxPerOwner: 3}})
	ctx := context.Background()
	caller := Caller{ID: "1"}

	for _, label := range []string{"a", "b", "c"} {
		if _, err := m.Create(ctx, label, "", caller, ResourceLimits{}); err != nil {
			t.Fatalf("create %q: %v", label, err)
		}
	}
	_, err := m.Create(ctx, "d", "", caller, ResourceLimits{})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("fourth create should hit quota, got %v", err)
	}
	if m.Registry().Len() != 3 {
		t.Errorf("registry holds %d records, want 3", m.Registry().Len())
	}
}

func TestManagerCreateRuntimeFailureLeavesNoRecord(t *testing.T) {
	runtime := newFakeRuntime()
	runtime.createErr = E(KindRuntimeOperationFailed, "image pull failed")
	store := &fakeStore{}
	m := newTestManager(runtime, store, ManagerConfig{})

	_, err := m.Create(context.Background(), "box", "", Caller{ID: "1"}, ResourceLimits{})
	if err == nil {
		t.Fatal("expected create to fail")
	}
	if m.Registry().Len() != 0 {
		t.Error("failed create must leave no record")
	}
	if store.saveCount() != 0 {
		t.Error("failed create must not persist")
	}
}

func TestManagerConcurrentCreatesRespectQuota(t *testing.T) {
	m := newTestManager(newFakeRuntime(), nil, ManagerConfig{Quota: Quota{MaxPerOwner: 3}})
	ctx := context.Background()

	var wg sync.WaitGroup
	var created int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			label := fmt.Sprintf("box-%d", i)
			if _, err := m.Create(ctx, label, "", Caller{ID: "1"}, ResourceLimits{}); err == nil {
				atomic.AddInt32(&created, 1)
			}
		}(i)
	}
	wg.Wait()

	if created != 3 {
		t.Errorf("%d creates succeeded, want exactly 3", created)
	}
	if m.Registry().Len() != 3 {
		t.Errorf("registry holds %d records, want 3", m.Registry().Len())
	}
}

func TestManagerStartNonOwnerDenied(t *testing.T) {
	runtime := newFakeRuntime()
	m := newTestManager(runtime, nil, ManagerConfig{})
	ctx := context.Background()

	rec, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Start(ctx, rec.Name, Caller{ID: "2"}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected permission denied, got %v", err)
	}
	if runtime.starts != 0 {
		t.Error("denied start must not reach the runtime")
	}

	// Admin may mutate foreign instances.
	if err := m.Start(ctx, rec.Name, Caller{ID: "admin"}); err != nil {
		t.Errorf("admin start: %v", err)
	}
}

func TestManagerTransitionOrphanKeepsRecord(t *testing.T) {
	runtime := newFakeRuntime()
	m := newTestManager(runtime, nil, ManagerConfig{})
	ctx := context.Background()

	rec, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	runtime.markMissing(rec.Container.ID)

	err = m.Start(ctx, rec.Name, Caller{ID: "1"})
	if !errors.Is(err, ErrRuntimeObjectMissing) {
		t.Fatalf("expected orphan error, got %v", err)
	}
	if _, ok := m.Registry().Get(rec.Name); !ok {
		t.Error("orphaned record must survive until an explicit delete")
	}
}

func TestManagerDeleteRemovesRecord(t *testing.T) {
	runtime := newFakeRuntime()
	store := &fakeStore{}
	m := newTestManager(runtime, store, ManagerConfig{})
	ctx := context.Background()

	rec, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Delete(ctx, rec.Name, Caller{ID: "1"}, true); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := m.Registry().Get(rec.Name); ok {
		t.Error("record still present after delete")
	}
	if runtime.removes != 1 {
		t.Errorf("removes = %d, want 1", runtime.removes)
	}
	if store.saveCount() != 2 {
		t.Errorf("saveCount = %d, want 2 (create + delete)", store.saveCount())
	}
	// After delete the name is free again.
	if _, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{}); err != nil {
		t.Errorf("recreate after delete: %v", err)
	}
}

func TestManagerDeleteGhostContainer(t *testing.T) {
	runtime := newFakeRuntime()
	m := newTestManager(runtime, nil, ManagerConfig{})
	ctx := context.Background()

	rec, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	runtime.markMissing(rec.Container.ID)

	// The container being gone already is still a successful delete.
	if err := m.Delete(ctx, rec.Name, Caller{ID: "1"}, false); err != nil {
		t.Fatalf("ghost delete should succeed: %v", err)
	}
	if _, ok := m.Registry().Get(rec.Name); ok {
		t.Error("ghost delete must remove the record")
	}
}

func TestManagerDeleteNonOwnerKeepsRecord(t *testing.T) {
	runtime := newFakeRuntime()
	m := newTestManager(runtime, nil, ManagerConfig{})
	ctx := context.Background()

	rec, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.Delete(ctx, rec.Name, Caller{ID: "2"}, true); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, ok := m.Registry().Get(rec.Name); !ok {
		t.Error("denied delete must not remove the record")
	}
	if runtime.removes != 0 {
		t.Error("denied delete must not reach the runtime")
	}
}

func TestManagerStatus(t *testing.T) {
	runtime := newFakeRuntime()
	m := newTestManager(runtime, nil, ManagerConfig{})
	ctx := context.Background()

	rec, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	st, err := m.Status(ctx, rec.Name, Caller{ID: "1"})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != "running" {
		t.Errorf("status = %q, want running", st.Status)
	}

	// Unknown name and foreign name are indistinguishable to a caller.
	if _, err := m.Status(ctx, "eaglenode-nope-1", Caller{ID: "1"}); !errors.Is(err, ErrNotManaged) {
		t.Errorf("unknown name: got %v", err)
	}
	if _, err := m.Status(ctx, rec.Name, Caller{ID: "2"}); !errors.Is(err, ErrNotManaged) {
		t.Errorf("foreign name should read as not managed, got %v", err)
	}
	// Admins see everything.
	if _, err := m.Status(ctx, rec.Name, Caller{ID: "admin"}); err != nil {
		t.Errorf("admin status: %v", err)
	}

	runtime.markMissing(rec.Container.ID)
	st, err = m.Status(ctx, rec.Name, Caller{ID: "1"})
	if err != nil {
		t.Fatalf("Status of orphan: %v", err)
	}
	if st.Status != StatusMissing {
		t.Errorf("orphan status = %q, want %q", st.Status, StatusMissing)
	}
}

func TestManagerListScopedAndSorted(t *testing.T) {
	m := newTestManager(newFakeRuntime(), nil, ManagerConfig{})
	ctx := context.Background()

	for _, label := range []string{"charlie", "alpha", "bravo"} {
		if _, err := m.Create(ctx, label, "", Caller{ID: "1"}, ResourceLimits{}); err != nil {
			t.Fatalf("create %q: %v", label, err)
		}
	}
	if _, err := m.Create(ctx, "other", "", Caller{ID: "2"}, ResourceLimits{}); err != nil {
		t.Fatalf("create for owner 2: %v", err)
	}

	list := m.List(ctx, Caller{ID: "1"})
	if len(list) != 3 {
		t.Fatalf("List = %d entries, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Name > list[i].Name {
			t.Errorf("list not sorted: %q before %q", list[i-1].Name, list[i].Name)
		}
	}
	for _, st := range list {
		if st.Status != "running" {
			t.Errorf("status = %q, want running", st.Status)
		}
	}

	if got := m.List(ctx, Caller{ID: "99"}); len(got) != 0 {
		t.Errorf("empty owner should get an empty list, got %d", len(got))
	}
}

func TestManagerExec(t *testing.T) {
	m := newTestManager(newFakeRuntime(), nil, ManagerConfig{})
	ctx := context.Background()

	rec, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := m.Exec(ctx, rec.Name, Caller{ID: "1"}, "uname -a")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Stdout != "ran: uname -a" {
		t.Errorf("stdout = %q", res.Stdout)
	}

	if _, err := m.Exec(ctx, rec.Name, Caller{ID: "2"}, "id"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("expected permission denied, got %v", err)
	}
}

func TestManagerNilRuntime(t *testing.T) {
	m := newTestManager(nil, nil, ManagerConfig{})
	ctx := context.Background()

	if _, err := m.Create(ctx, "box", "", Caller{ID: "1"}, ResourceLimits{}); !errors.Is(err, ErrRuntimeUnavailable) {
		t.Errorf("Create: got %v", err)
	}
	if m.Registry().Len() != 0 {
		t.Error("no record may exist without a runtime container")
	}
}

func TestManagerSaveRestoreAdminOnly(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(newFakeRuntime(), store, ManagerConfig{})

	if err := m.Save(Caller{ID: "1"}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("non-admin save: got %v", err)
	}
	if err := m.Save(Caller{ID: "admin"}); err != nil {
		t.Errorf("admin save: %v", err)
	}
	if err := m.Restore(Caller{ID: "1"}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("non-admin restore: got %v", err)
	}
	if err := m.Restore(Caller{ID: "admin"}); err != nil {
		t.Errorf("admin restore: %v", err)
	}
}

func TestManagerPersistFailureKeepsMemoryState(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("disk full")}
	m := newTestManager(newFakeRuntime(), store, ManagerConfig{})

	rec, err := m.Create(context.Background(), "box", "", Caller{ID: "1"}, ResourceLimits{})
	if err != nil {
		t.Fatalf("Create must succeed despite persist failure: %v", err)
	}
	if _, ok := m.Registry().Get(rec.Name); !ok {
		t.Error("in-memory state is authoritative after a failed persist")
	}
}
