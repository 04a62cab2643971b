// Package order owns the order queue and lifecycle. Orders enter
// WAITING, a planning loop turns the queue head into tasks while the
// system is in AUTO, and the scheduler reports transitions back through
// the status callback.
package order

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tableon/barctl/internal/gateway"
	"github.com/tableon/barctl/pkg/models"
)

const (
	idlePollPeriod   = 200 * time.Millisecond
	manualPollPeriod = 500 * time.Millisecond
	planRetryDelay   = time.Second

	// Robot program slot started on the MANUAL→AUTO transition.
	mainProgramIdx = 1
)

// Scheduler is the slice of the task scheduler the manager drives.
type Scheduler interface {
	AddTasks(tasks []*models.Task)
	CancelTasks(orderUUID string)
	StopAll(ctx context.Context)
	ResetRotateCounter()
}

// Planner plans orders and answers recipe questions during admission.
type Planner interface {
	Plan(order models.Order, orderUUID string) ([]*models.Task, error)
	Recipe(menuCode int) (models.Recipe, bool)
}

// Manager holds the active order set and the FIFO planning queue.
type Manager struct {
	mode    *models.ModeCell
	sched   Scheduler
	planner Planner
	robot   gateway.Robot
	pickup  gateway.Pickup
	events  func(name string)
	perf    *PerfLog

	mu       sync.Mutex
	queue    []string
	orders   map[string]*models.Order
	lastUUID int64

	stopCh  chan struct{}
	stopped sync.Once

	sleep func(time.Duration)
}

// New creates a manager. The event sink and perf log may be nil.
func New(mode *models.ModeCell, sched Scheduler, planner Planner,
	robot gateway.Robot, pickup gateway.Pickup, events func(string), perf *PerfLog) *Manager {
	if events == nil {
		events = func(string) {}
	}
	return &Manager{
		mode:    mode,
		sched:   sched,
		planner: planner,
		robot:   robot,
		pickup:  pickup,
		events:  events,
		perf:    perf,
		orders:  make(map[string]*models.Order),
		stopCh:  make(chan struct{}),
		sleep:   time.Sleep,
	}
}

// Start launches the planning loop.
func (m *Manager) Start(ctx context.Context) {
	go m.planLoop(ctx)
	log.Info().Msg("order manager started")
}

// Stop terminates the planning loop.
func (m *Manager) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
}

// newUUID issues a millisecond-timestamp id, bumped past the previous
// one so two orders in the same millisecond stay distinct and ordered.
// Callers hold m.mu.
func (m *Manager) newUUID() string {
	ms := time.Now().UnixMilli()
	if ms <= m.lastUUID {
		ms = m.lastUUID + 1
	}
	m.lastUUID = ms
	return strconv.FormatInt(ms, 10)
}

// Add admits an order and queues it for planning. The menu must exist;
// an empty menu name is filled from the recipe.
func (m *Manager) Add(orderNo, menuCode int, menuName string) (models.Order, error) {
	r, ok := m.planner.Recipe(menuCode)
	if !ok {
		return models.Order{}, fmt.Errorf("unknown menu code %d", menuCode)
	}
	if menuName == "" {
		menuName = r.MenuName
	}

	m.mu.Lock()
	o := &models.Order{
		UUID:      m.newUUID(),
		OrderNo:   orderNo,
		MenuCode:  menuCode,
		MenuName:  menuName,
		Status:    models.OrderWaiting,
		CreatedAt: time.Now(),
	}
	m.orders[o.UUID] = o
	m.queue = append(m.queue, o.UUID)
	out := *o
	m.mu.Unlock()

	log.Info().Str("uuid", out.UUID).Int("order_no", orderNo).Int("menu_code", menuCode).Msg("order added")
	m.events("order_updated")
	return out, nil
}

// Cancel removes an order and its queued tasks. A task already on the
// robot finishes its motion; only pending work is withdrawn. Returns
// false when the id is unknown.
func (m *Manager) Cancel(orderUUID string) bool {
	m.mu.Lock()
	o, ok := m.orders[orderUUID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	o.Status = models.OrderCancelled
	delete(m.orders, orderUUID)
	m.dropFromQueueLocked(orderUUID)
	m.mu.Unlock()

	m.sched.CancelTasks(orderUUID)
	log.Info().Str("uuid", orderUUID).Msg("order cancelled")
	m.events("order_updated")
	return true
}

// UpdateStatus is the scheduler's status sink. Terminal states retire
// the order; completions are stamped and written to the perf log.
func (m *Manager) UpdateStatus(orderUUID string, status models.OrderStatus) {
	m.mu.Lock()
	o, ok := m.orders[orderUUID]
	if !ok {
		m.mu.Unlock()
		return
	}

	switch status {
	case models.OrderProcessing:
		o.Status = models.OrderProcessing
		m.mu.Unlock()

	case models.OrderCompleted:
		now := time.Now()
		o.Status = models.OrderCompleted
		o.CompletedAt = &now
		done := *o
		delete(m.orders, orderUUID)
		m.dropFromQueueLocked(orderUUID)
		m.mu.Unlock()

		log.Info().
			Str("uuid", orderUUID).
			Int("order_no", done.OrderNo).
			Dur("elapsed", now.Sub(done.CreatedAt)).
			Msg("order completed")
		if m.perf != nil {
			if err := m.perf.Record(done); err != nil {
				log.Error().Err(err).Msg("perf log write failed")
			}
		}

	case models.OrderCancelled, models.OrderFailed:
		o.Status = status
		delete(m.orders, orderUUID)
		m.dropFromQueueLocked(orderUUID)
		m.mu.Unlock()
		log.Warn().Str("uuid", orderUUID).Str("status", string(status)).Msg("order retired")

	default:
		o.Status = status
		m.mu.Unlock()
	}

	m.events("order_updated")
}

// Orders returns the active set ordered by creation time.
func (m *Manager) Orders() []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Snapshot returns a copy of one order.
func (m *Manager) Snapshot(orderUUID string) (models.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderUUID]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

// HasWaiting reports whether any order is still WAITING; the scheduler
// uses it as the skip predicate for the homing task.
func (m *Manager) HasWaiting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Status == models.OrderWaiting {
			return true
		}
	}
	return false
}

// ── Parallel directory (scheduler.OrderDirectory) ───────────

// ClaimParallelCandidate picks the earliest WAITING non-coffee order
// for the interleave window and flips it to PROCESSING.
func (m *Manager) ClaimParallelCandidate(excludeUUID string, isCoffee func(menuCode int) bool) (models.Order, bool) {
	m.mu.Lock()
	var cands []*models.Order
	for _, o := range m.orders {
		if o.UUID == excludeUUID || o.Status != models.OrderWaiting || o.ParallelSkip {
			continue
		}
		if isCoffee(o.MenuCode) {
			continue
		}
		cands = append(cands, o)
	}
	if len(cands) == 0 {
		m.mu.Unlock()
		return models.Order{}, false
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].CreatedAt.Before(cands[j].CreatedAt) })
	pick := cands[0]
	pick.Status = models.OrderProcessing
	out := *pick
	m.mu.Unlock()

	m.events("order_updated")
	return out, true
}

// ReleaseParallelFailure puts a failed interleaved order back in the
// queue, marked so this session's opportunity pass skips it.
func (m *Manager) ReleaseParallelFailure(orderUUID string) {
	m.mu.Lock()
	if o, ok := m.orders[orderUUID]; ok {
		o.Status = models.OrderWaiting
		o.ParallelSkip = true
		m.queue = append(m.queue, orderUUID)
	}
	m.mu.Unlock()
	m.events("order_updated")
}

// ClearParallelSkips drops every skip mark at session end.
func (m *Manager) ClearParallelSkips() {
	m.mu.Lock()
	for _, o := range m.orders {
		o.ParallelSkip = false
	}
	m.mu.Unlock()
}

// ── Mode control ────────────────────────────────────────────

// SetMode switches the operating mode and runs the transition side
// effects: entering AUTO resets slot rotation and starts the robot
// program, leaving AUTO stops everything and clears the pickup rack.
func (m *Manager) SetMode(ctx context.Context, target models.SystemMode) error {
	if m.mode.Get() == target {
		return nil
	}
	log.Info().Str("mode", target.String()).Msg("switching system mode")

	switch target {
	case models.ModeAuto:
		m.sched.ResetRotateCounter()
		if err := m.robot.StartProgram(ctx, mainProgramIdx); err != nil {
			return fmt.Errorf("start robot program: %w", err)
		}
		m.mode.Set(models.ModeAuto)

	case models.ModeManual:
		m.mode.Set(models.ModeManual)
		m.sched.StopAll(ctx)
		if err := m.pickup.ResetAll(ctx); err != nil {
			log.Error().Err(err).Msg("pickup reset failed")
		}
		m.failActive()
	}

	m.events("system_mode_changed")
	return nil
}

// EmergencyStop drops to MANUAL and halts the robot, devices, and task
// queue. Interrupted orders are retired as FAILED. Safe to call twice.
func (m *Manager) EmergencyStop(ctx context.Context) {
	m.mode.Set(models.ModeManual)
	m.sched.StopAll(ctx)
	m.failActive()
	m.events("system_mode_changed")
}

// FailSafe is the scheduler's recovery hook.
func (m *Manager) FailSafe() {
	m.EmergencyStop(context.Background())
}

// failActive retires every in-flight order; its tasks are gone.
func (m *Manager) failActive() {
	m.mu.Lock()
	var failed []string
	for _, o := range m.orders {
		if o.Status == models.OrderProcessing {
			failed = append(failed, o.UUID)
		}
	}
	m.mu.Unlock()
	for _, uuid := range failed {
		m.UpdateStatus(uuid, models.OrderFailed)
	}
}

// ── Planning loop ───────────────────────────────────────────

func (m *Manager) planLoop(ctx context.Context) {
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !m.mode.Auto() {
			m.sleep(manualPollPeriod)
			continue
		}

		uuid, ok := m.popQueue()
		if !ok {
			m.sleep(idlePollPeriod)
			continue
		}

		m.mu.Lock()
		o, live := m.orders[uuid]
		var snap models.Order
		if live {
			snap = *o
		}
		m.mu.Unlock()
		if !live || snap.Status != models.OrderWaiting {
			continue
		}

		tasks, err := m.planner.Plan(snap, uuid)
		if err != nil {
			// The order stays WAITING and returns to the back of the line.
			log.Error().Err(err).Str("uuid", uuid).Msg("planning failed")
			m.mu.Lock()
			m.queue = append(m.queue, uuid)
			m.mu.Unlock()
			m.sleep(planRetryDelay)
			continue
		}
		m.sched.AddTasks(tasks)
	}
}

func (m *Manager) popQueue() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return "", false
	}
	uuid := m.queue[0]
	m.queue = m.queue[1:]
	return uuid, true
}

func (m *Manager) dropFromQueueLocked(orderUUID string) {
	kept := m.queue[:0]
	for _, id := range m.queue {
		if id != orderUUID {
			kept = append(kept, id)
		}
	}
	m.queue = kept
}
