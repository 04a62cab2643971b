package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tableon/barctl/pkg/models"
)

// eventLog interleaves robot commands, init waits, and device calls so
// tests can assert cross-gateway ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(s string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, s)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// index returns the position of the first matching event, or -1.
func (l *eventLog) index(want string) int {
	for i, e := range l.all() {
		if e == want {
			return i
		}
	}
	return -1
}

// fakeRobot records register traffic and serves scripted reads.
type fakeRobot struct {
	mu       sync.Mutex
	regs     map[int]int
	script   map[int][]int // addr → successive read values
	commands []int
	waits    []int
	waitErr  error
	stops    int
	starts   []int
	events   *eventLog
}

func newFakeRobot() *fakeRobot {
	return &fakeRobot{
		regs:   make(map[int]int),
		script: make(map[int][]int),
	}
}

func (r *fakeRobot) ReadRegister(_ context.Context, addr int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if vals := r.script[addr]; len(vals) > 0 {
		v := vals[0]
		r.script[addr] = vals[1:]
		return v, nil
	}
	return r.regs[addr], nil
}

func (r *fakeRobot) WriteRegister(_ context.Context, addr, value int) error {
	r.mu.Lock()
	r.regs[addr] = value
	isCmd := addr == models.RegCmd
	if isCmd {
		r.commands = append(r.commands, value)
	}
	r.mu.Unlock()
	if isCmd {
		r.events.add(fmt.Sprintf("cmd %d", value))
	}
	return nil
}

func (r *fakeRobot) SendCommand(ctx context.Context, cmd int) error {
	return r.WriteRegister(ctx, models.RegCmd, cmd)
}

func (r *fakeRobot) WaitInit(_ context.Context, target int, _ time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, target)
	err := r.waitErr
	r.mu.Unlock()
	r.events.add(fmt.Sprintf("init %d", target))
	return err
}

func (r *fakeRobot) StopProgram(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRobot) StartProgram(_ context.Context, idx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, idx)
	return nil
}

func (r *fakeRobot) sentCommands() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.commands...)
}

// fakeDevice records device calls as strings.
type fakeDevice struct {
	mu     sync.Mutex
	calls  []string
	events *eventLog
}

func (d *fakeDevice) record(s string) {
	d.mu.Lock()
	d.calls = append(d.calls, s)
	d.mu.Unlock()
	d.events.add("dev " + s)
}

func (d *fakeDevice) MakeCoffee(productID int, seconds float64) {
	d.record(fmt.Sprintf("coffee %d %.1f", productID, seconds))
}
func (d *fakeDevice) ExecuteRinse() { d.record("rinse") }
func (d *fakeDevice) DispenseIceWater(_ context.Context, ice, water float64) error {
	d.record(fmt.Sprintf("icewater %.1f %.1f", ice, water))
	return nil
}
func (d *fakeDevice) DispenseSparkling(_ context.Context, seconds float64) error {
	d.record(fmt.Sprintf("sparkling %.1f", seconds))
	return nil
}
func (d *fakeDevice) DispenseHotWater(_ context.Context, seconds float64) error {
	d.record(fmt.Sprintf("hotwater %.1f", seconds))
	return nil
}
func (d *fakeDevice) DispenseSyrup(_ context.Context, id int, seconds float64) error {
	d.record(fmt.Sprintf("syrup %d %.1f", id, seconds))
	return nil
}
func (d *fakeDevice) StopAll(context.Context) error {
	d.record("stopAll")
	return nil
}

func (d *fakeDevice) recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// fakeIo records coil writes and serves scripted coil reads.
type fakeIo struct {
	mu     sync.Mutex
	writes []string
	reads  [][]int
	clears []string
}

func (f *fakeIo) WriteCoil(_ context.Context, unit, addr, value int) error {
	f.mu.Lock()
	f.writes = append(f.writes, fmt.Sprintf("%d/%d=%d", unit, addr, value))
	f.mu.Unlock()
	return nil
}

func (f *fakeIo) Pulse(ctx context.Context, unit, addr int, _ time.Duration) error {
	if err := f.WriteCoil(ctx, unit, addr, 1); err != nil {
		return err
	}
	return f.WriteCoil(ctx, unit, addr, 0)
}

func (f *fakeIo) ReadCoils(_ context.Context, _, _, _ int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reads) == 0 {
		return []int{0}, nil
	}
	out := f.reads[0]
	f.reads = f.reads[1:]
	return out, nil
}

func (f *fakeIo) ClearPickupSim(_ context.Context, zone, slot int) error {
	f.mu.Lock()
	f.clears = append(f.clears, fmt.Sprintf("%d/%d", zone, slot))
	f.mu.Unlock()
	return nil
}

// fakePickup records notifications and serves scripted occupancy.
type fakePickup struct {
	mu        sync.Mutex
	notified  []string
	occupancy [][]int
	resets    int
}

func (p *fakePickup) NotifySlot(_ context.Context, zone, slot, orderNo, menuCode int) error {
	p.mu.Lock()
	p.notified = append(p.notified, fmt.Sprintf("%d/%d/%d/%d", zone, slot, orderNo, menuCode))
	p.mu.Unlock()
	return nil
}

func (p *fakePickup) Occupancy(_ context.Context, _ int) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.occupancy) == 0 {
		return []int{0, 0, 0, 0}, nil
	}
	out := p.occupancy[0]
	if len(p.occupancy) > 1 {
		p.occupancy = p.occupancy[1:]
	}
	return out, nil
}

func (p *fakePickup) ResetAll(context.Context) error {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
	return nil
}

// fakeDirectory hands out queued parallel candidates.
type fakeDirectory struct {
	mu         sync.Mutex
	candidates []models.Order
	released   []string
	cleared    int
}

func (d *fakeDirectory) ClaimParallelCandidate(excludeUUID string, isCoffee func(int) bool) (models.Order, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, o := range d.candidates {
		if o.UUID == excludeUUID || isCoffee(o.MenuCode) {
			continue
		}
		d.candidates = append(d.candidates[:i], d.candidates[i+1:]...)
		return o, true
	}
	return models.Order{}, false
}

func (d *fakeDirectory) ReleaseParallelFailure(orderUUID string) {
	d.mu.Lock()
	d.released = append(d.released, orderUUID)
	d.mu.Unlock()
}

func (d *fakeDirectory) ClearParallelSkips() {
	d.mu.Lock()
	d.cleared++
	d.mu.Unlock()
}

// fakePlanner serves canned plans per order UUID.
type fakePlanner struct {
	plans   map[string][]*models.Task
	coffee  map[int]bool
	recipes map[int]models.Recipe
}

func (p *fakePlanner) Plan(order models.Order, orderUUID string) ([]*models.Task, error) {
	tasks, ok := p.plans[orderUUID]
	if !ok {
		return nil, fmt.Errorf("no plan for %s", orderUUID)
	}
	return tasks, nil
}

func (p *fakePlanner) IsCoffeeMenu(menuCode int) bool { return p.coffee[menuCode] }

func (p *fakePlanner) Recipe(menuCode int) (models.Recipe, bool) {
	r, ok := p.recipes[menuCode]
	return r, ok
}

// testRig bundles a scheduler with its fakes and time capture.
type testRig struct {
	sched  *Scheduler
	robot  *fakeRobot
	device *fakeDevice
	io     *fakeIo
	pickup *fakePickup
	mode   *models.ModeCell
	events *eventLog

	mu       sync.Mutex
	sleeps   []time.Duration
	statuses []string
	failed   int
}

func newTestRig(cfg Config) *testRig {
	events := &eventLog{}
	rig := &testRig{
		robot:  newFakeRobot(),
		device: &fakeDevice{events: events},
		io:     &fakeIo{},
		pickup: &fakePickup{},
		mode:   models.NewModeCell(),
		events: events,
	}
	rig.robot.events = events
	rig.mode.Set(models.ModeAuto)

	s := New(rig.robot, rig.device, rig.io, rig.pickup, rig.mode, cfg)
	s.sleep = func(d time.Duration) {
		rig.mu.Lock()
		rig.sleeps = append(rig.sleeps, d)
		rig.mu.Unlock()
	}
	s.SetStatusCallback(func(uuid string, status models.OrderStatus) {
		rig.mu.Lock()
		rig.statuses = append(rig.statuses, uuid+":"+string(status))
		rig.mu.Unlock()
	})
	s.SetFailSafe(func() {
		rig.mu.Lock()
		rig.failed++
		rig.mu.Unlock()
	})
	rig.sched = s
	return rig
}

func (r *testRig) failSafeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func (r *testRig) statusLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

// step runs the dispatcher selection once and executes the picked task
// synchronously. Returns false when nothing was eligible.
func (r *testRig) step() bool {
	task := r.sched.pickNext()
	if task == nil {
		return false
	}
	r.sched.runTask(context.Background(), task)
	return true
}

// drain steps until the queue settles.
func (r *testRig) drain() {
	for i := 0; i < 100; i++ {
		if !r.step() {
			return
		}
	}
}
