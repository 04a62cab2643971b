package order

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/tableon/barctl/pkg/models"
)

type fakeSched struct {
	mu        sync.Mutex
	added     [][]*models.Task
	cancelled []string
	stops     int
	resets    int
}

func (f *fakeSched) AddTasks(tasks []*models.Task) {
	f.mu.Lock()
	f.added = append(f.added, tasks)
	f.mu.Unlock()
}

func (f *fakeSched) CancelTasks(uuid string) {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, uuid)
	f.mu.Unlock()
}

func (f *fakeSched) StopAll(context.Context) {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeSched) ResetRotateCounter() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeSched) addCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

type fakePlanner struct {
	recipes map[int]models.Recipe
	fail    map[int]bool
}

func (p *fakePlanner) Plan(order models.Order, orderUUID string) ([]*models.Task, error) {
	if p.fail[order.MenuCode] {
		return nil, os.ErrInvalid
	}
	return []*models.Task{{ID: "T-" + orderUUID, Cmd: 110, Status: models.TaskPending, OrderUUID: orderUUID}}, nil
}

func (p *fakePlanner) Recipe(menuCode int) (models.Recipe, bool) {
	r, ok := p.recipes[menuCode]
	return r, ok
}

type fakeRobot struct {
	mu     sync.Mutex
	starts []int
	stops  int
}

func (r *fakeRobot) ReadRegister(context.Context, int) (int, error)        { return 0, nil }
func (r *fakeRobot) WriteRegister(context.Context, int, int) error         { return nil }
func (r *fakeRobot) SendCommand(context.Context, int) error                { return nil }
func (r *fakeRobot) WaitInit(context.Context, int, time.Duration) error    { return nil }
func (r *fakeRobot) StopProgram(context.Context) error                     { r.mu.Lock(); r.stops++; r.mu.Unlock(); return nil }
func (r *fakeRobot) StartProgram(_ context.Context, idx int) error {
	r.mu.Lock()
	r.starts = append(r.starts, idx)
	r.mu.Unlock()
	return nil
}

type fakePickup struct {
	mu     sync.Mutex
	resets int
}

func (p *fakePickup) NotifySlot(context.Context, int, int, int, int) error { return nil }
func (p *fakePickup) Occupancy(context.Context, int) ([]int, error)        { return []int{0, 0, 0, 0}, nil }
func (p *fakePickup) ResetAll(context.Context) error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	return nil
}

type rig struct {
	mgr    *Manager
	sched  *fakeSched
	robot  *fakeRobot
	pickup *fakePickup
	mode   *models.ModeCell
	perf   *PerfLog
	dir    string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	dir := t.TempDir()
	perf, err := NewPerfLog(dir)
	if err != nil {
		t.Fatal(err)
	}
	r := &rig{
		sched:  &fakeSched{},
		robot:  &fakeRobot{},
		pickup: &fakePickup{},
		mode:   models.NewModeCell(),
		perf:   perf,
		dir:    dir,
	}
	pl := &fakePlanner{
		recipes: map[int]models.Recipe{
			101: {MenuCode: 101, MenuName: "americano", CupNum: 1, CoffeeSeconds: 30, CoffeeProductID: 1},
			200: {MenuCode: 200, MenuName: "ice water", CupNum: 2, WaterSeconds: 4},
		},
		fail: map[int]bool{},
	}
	r.mgr = New(r.mode, r.sched, pl, r.robot, r.pickup, nil, perf)
	r.mgr.sleep = func(time.Duration) { time.Sleep(time.Millisecond) }
	return r
}

func TestAddRejectsUnknownMenu(t *testing.T) {
	r := newRig(t)
	if _, err := r.mgr.Add(1, 999, ""); err == nil {
		t.Fatal("expected error for unknown menu")
	}
}

func TestAddFillsMenuName(t *testing.T) {
	r := newRig(t)
	o, err := r.mgr.Add(1, 101, "")
	if err != nil {
		t.Fatal(err)
	}
	if o.MenuName != "americano" {
		t.Errorf("menu name = %q, want americano", o.MenuName)
	}
	if o.Status != models.OrderWaiting {
		t.Errorf("status = %s, want WAITING", o.Status)
	}
}

func TestUUIDsAreMonotonic(t *testing.T) {
	r := newRig(t)
	var prev int64
	for i := 0; i < 5; i++ {
		o, err := r.mgr.Add(i, 101, "")
		if err != nil {
			t.Fatal(err)
		}
		n, err := strconv.ParseInt(o.UUID, 10, 64)
		if err != nil {
			t.Fatalf("uuid %q not numeric: %v", o.UUID, err)
		}
		if n <= prev {
			t.Fatalf("uuid %d not greater than previous %d", n, prev)
		}
		prev = n
	}
}

func TestCancel(t *testing.T) {
	r := newRig(t)
	o, _ := r.mgr.Add(1, 101, "")

	if !r.mgr.Cancel(o.UUID) {
		t.Fatal("cancel of live order returned false")
	}
	if _, ok := r.mgr.Snapshot(o.UUID); ok {
		t.Error("cancelled order still in active set")
	}
	if len(r.sched.cancelled) != 1 || r.sched.cancelled[0] != o.UUID {
		t.Errorf("scheduler cancels = %v", r.sched.cancelled)
	}
	if r.mgr.Cancel("nope") {
		t.Error("cancel of unknown order returned true")
	}
}

func TestCompletionWritesPerfLog(t *testing.T) {
	r := newRig(t)
	o, _ := r.mgr.Add(42, 101, "")

	r.mgr.UpdateStatus(o.UUID, models.OrderProcessing)
	if got, _ := r.mgr.Snapshot(o.UUID); got.Status != models.OrderProcessing {
		t.Fatalf("status = %s, want PROCESSING", got.Status)
	}

	r.mgr.UpdateStatus(o.UUID, models.OrderCompleted)
	if _, ok := r.mgr.Snapshot(o.UUID); ok {
		t.Error("completed order still in active set")
	}

	path := filepath.Join(r.dir, "orders-"+time.Now().Format("2006-01-02")+".csv")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("perf log missing: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("perf log rows = %d, want header + 1", len(rows))
	}
	if rows[1][3] != "42" || rows[1][6] != "COMPLETED" {
		t.Errorf("perf row = %v", rows[1])
	}
}

func TestPlanLoopQueuesTasks(t *testing.T) {
	r := newRig(t)
	r.mode.Set(models.ModeAuto)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.mgr.Start(ctx)
	defer r.mgr.Stop()

	if _, err := r.mgr.Add(1, 200, ""); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.sched.addCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("planning loop never queued tasks")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPlanLoopIdlesInManual(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.mgr.Start(ctx)
	defer r.mgr.Stop()

	if _, err := r.mgr.Add(1, 200, ""); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if r.sched.addCount() != 0 {
		t.Fatal("tasks planned while in MANUAL")
	}
	if o, _ := r.mgr.Snapshot(r.mgr.Orders()[0].UUID); o.Status != models.OrderWaiting {
		t.Fatalf("status = %s, want WAITING", o.Status)
	}
}

func TestParallelClaimCycle(t *testing.T) {
	r := newRig(t)
	coffee, _ := r.mgr.Add(1, 101, "")
	water, _ := r.mgr.Add(2, 200, "")

	isCoffee := func(code int) bool { return code == 101 }

	got, ok := r.mgr.ClaimParallelCandidate(coffee.UUID, isCoffee)
	if !ok || got.UUID != water.UUID {
		t.Fatalf("claimed %v, want water order", got.UUID)
	}
	if snap, _ := r.mgr.Snapshot(water.UUID); snap.Status != models.OrderProcessing {
		t.Errorf("claimed order status = %s, want PROCESSING", snap.Status)
	}

	r.mgr.ReleaseParallelFailure(water.UUID)
	if snap, _ := r.mgr.Snapshot(water.UUID); snap.Status != models.OrderWaiting || !snap.ParallelSkip {
		t.Errorf("released order = %+v, want WAITING with skip mark", snap)
	}
	if _, ok := r.mgr.ClaimParallelCandidate(coffee.UUID, isCoffee); ok {
		t.Error("skip-marked order claimed again within the session")
	}

	r.mgr.ClearParallelSkips()
	if _, ok := r.mgr.ClaimParallelCandidate(coffee.UUID, isCoffee); !ok {
		t.Error("order not claimable after skips cleared")
	}
}

func TestSetModeTransitions(t *testing.T) {
	r := newRig(t)

	if err := r.mgr.SetMode(context.Background(), models.ModeAuto); err != nil {
		t.Fatal(err)
	}
	if !r.mode.Auto() {
		t.Fatal("mode not AUTO")
	}
	if len(r.robot.starts) != 1 || r.robot.starts[0] != 1 {
		t.Errorf("program starts = %v, want [1]", r.robot.starts)
	}
	if r.sched.resets != 1 {
		t.Errorf("rotate resets = %d, want 1", r.sched.resets)
	}

	o, _ := r.mgr.Add(1, 101, "")
	r.mgr.UpdateStatus(o.UUID, models.OrderProcessing)

	if err := r.mgr.SetMode(context.Background(), models.ModeManual); err != nil {
		t.Fatal(err)
	}
	if r.mode.Auto() {
		t.Fatal("mode still AUTO")
	}
	if r.sched.stops != 1 {
		t.Errorf("scheduler stops = %d, want 1", r.sched.stops)
	}
	if r.pickup.resets != 1 {
		t.Errorf("pickup resets = %d, want 1", r.pickup.resets)
	}
	if _, ok := r.mgr.Snapshot(o.UUID); ok {
		t.Error("interrupted order still active after leaving AUTO")
	}

	// Same-mode switch is a no-op.
	if err := r.mgr.SetMode(context.Background(), models.ModeManual); err != nil {
		t.Fatal(err)
	}
	if r.sched.stops != 1 {
		t.Errorf("no-op switch ran side effects: stops = %d", r.sched.stops)
	}
}

func TestEmergencyStopIsIdempotent(t *testing.T) {
	r := newRig(t)
	r.mode.Set(models.ModeAuto)

	r.mgr.EmergencyStop(context.Background())
	r.mgr.EmergencyStop(context.Background())

	if r.mode.Auto() {
		t.Fatal("mode still AUTO after emergency stop")
	}
	if r.sched.stops != 2 {
		t.Errorf("scheduler stops = %d", r.sched.stops)
	}
}
