// Package scheduler owns the single robot and executes order task
// chains against it.
//
// One dispatcher goroutine scans the task list and hands eligible tasks
// to a short-lived executor goroutine; the robot-busy flag guarantees at
// most one executor is alive. Atomic pairs are enforced by the bound
// chain: while a chain is bound only the named successor is eligible.
// The coffee wait is the one place two orders deliberately share the
// robot (see parallel.go).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tableon/barctl/internal/gateway"
	"github.com/tableon/barctl/pkg/models"
)

const (
	dispatchInterval = 100 * time.Millisecond
	registerSettle   = 500 * time.Millisecond
	paramWriteGap    = 50 * time.Millisecond
	motionTimeout    = 600 * time.Second

	// Thermoplan's boiler cools when idle; extractions after a long gap
	// get a fixed extension on the wait.
	boilerIdleThreshold = 5 * time.Minute
	boilerExtraSeconds  = 20
	boilerBrand         = "thermoplan"
)

// ErrCupSensor reports a failed cup-presence check. The order is
// already closed when this surfaces; the executor's error path handles
// the fail-safe.
var ErrCupSensor = errors.New("cup sensor failed")

// StatusFunc receives order status transitions from the scheduler.
type StatusFunc func(orderUUID string, status models.OrderStatus)

// OrderDirectory is the scheduler's window into the order manager,
// used only by the parallel interleave sub-protocol.
type OrderDirectory interface {
	// ClaimParallelCandidate returns a copy of the earliest-created
	// WAITING non-coffee order without a parallel-skip mark, flipping
	// its status to PROCESSING. ok is false when there is none.
	ClaimParallelCandidate(excludeUUID string, isCoffee func(menuCode int) bool) (models.Order, bool)

	// ReleaseParallelFailure restores a failed parallel order to
	// WAITING and marks it skipped for the rest of this session.
	ReleaseParallelFailure(orderUUID string)

	// ClearParallelSkips drops every parallel-skip mark.
	ClearParallelSkips()
}

// Planner is the slice of the planner the scheduler needs to re-plan
// parallel orders.
type Planner interface {
	Plan(order models.Order, orderUUID string) ([]*models.Task, error)
	IsCoffeeMenu(menuCode int) bool
	Recipe(menuCode int) (models.Recipe, bool)
}

// Config carries the boot options the scheduler cares about.
type Config struct {
	PickupMode  string // "rotate" or "sensor"
	CoffeeBrand string
	Simulation  bool
}

// Status is a point-in-time snapshot for the API.
type Status struct {
	PendingTasks int  `json:"pending_tasks"`
	RunningTasks int  `json:"running_tasks"`
	RobotBusy    bool `json:"robot_busy"`
	ParallelMode bool `json:"parallel_mode"`
}

// Scheduler executes tasks on the single robot resource.
type Scheduler struct {
	robot   gateway.Robot
	devices gateway.Device
	io      gateway.Io
	pickup  gateway.Pickup
	mode    *models.ModeCell
	cfg     Config

	mu        sync.Mutex
	tasks     []*models.Task
	chained   string // bound chained task id, "" when unbound
	robotBusy bool
	nextSlot  int

	// Parallel interleave state; valid only while an executor runs the
	// place/pick path.
	parallelMode      bool
	parallelCompleted bool
	pausedOrder       *models.Order // coffee order copy taken at swap time

	coffeeUsed bool
	lastCoffee time.Time

	stopCh  chan struct{}
	stopped sync.Once

	// Injected at wiring time (see pkg/server).
	status   StatusFunc
	skip     func() bool
	failSafe func()
	onEvent  func(name string)
	orders   OrderDirectory
	planner  Planner

	// Time hooks, swapped by tests.
	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a scheduler over the four gateways.
func New(robot gateway.Robot, devices gateway.Device, io gateway.Io, pickup gateway.Pickup,
	mode *models.ModeCell, cfg Config) *Scheduler {
	return &Scheduler{
		robot:    robot,
		devices:  devices,
		io:       io,
		pickup:   pickup,
		mode:     mode,
		cfg:      cfg,
		nextSlot: 1,
		stopCh:   make(chan struct{}),
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// SetStatusCallback injects the order status sink.
func (s *Scheduler) SetStatusCallback(fn StatusFunc) { s.status = fn }

// SetSkipCondition injects the explicit skip predicate for skippable tasks.
func (s *Scheduler) SetSkipCondition(fn func() bool) { s.skip = fn }

// SetFailSafe injects the uniform recovery action.
func (s *Scheduler) SetFailSafe(fn func()) { s.failSafe = fn }

// SetEventSink injects the out-of-band UI event sink.
func (s *Scheduler) SetEventSink(fn func(name string)) { s.onEvent = fn }

// SetOrderDirectory injects the order manager view used by the parallel path.
func (s *Scheduler) SetOrderDirectory(d OrderDirectory) { s.orders = d }

// SetPlanner injects the planner used to re-plan parallel orders.
func (s *Scheduler) SetPlanner(p Planner) { s.planner = p }

// Start launches the dispatcher loop.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
	log.Info().Msg("scheduler started")
}

// Stop terminates the dispatcher loop.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
}

// AddTasks appends a planned chain to the task list.
func (s *Scheduler) AddTasks(tasks []*models.Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, tasks...)
	total := len(s.tasks)
	s.mu.Unlock()
	log.Info().Int("added", len(tasks)).Int("total", total).Msg("tasks queued")
}

// CancelTasks removes every non-RUNNING task belonging to the order. A
// RUNNING task cannot be interrupted mid-command; cancellation applies
// after it finishes.
func (s *Scheduler) CancelTasks(orderUUID string) {
	s.mu.Lock()
	kept := s.tasks[:0]
	removed := 0
	for _, t := range s.tasks {
		if t.OrderUUID == orderUUID && t.Status != models.TaskRunning {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
	s.mu.Unlock()
	log.Info().Str("uuid", orderUUID).Int("removed", removed).Msg("tasks cancelled")
}

// Snapshot returns the current scheduler status for the API.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{RobotBusy: s.robotBusy, ParallelMode: s.parallelMode}
	for _, t := range s.tasks {
		switch t.Status {
		case models.TaskPending:
			st.PendingTasks++
		case models.TaskRunning:
			st.RunningTasks++
		}
	}
	return st
}

// ResetRotateCounter restarts round-robin slot assignment at 1; called
// on the MANUAL→AUTO transition.
func (s *Scheduler) ResetRotateCounter() {
	s.mu.Lock()
	s.nextSlot = 1
	s.mu.Unlock()
}

// StopAll is the emergency stop: halt the robot program and motion,
// clear the task list, stop every device, and reset all transient
// state. It is idempotent.
func (s *Scheduler) StopAll(ctx context.Context) {
	log.Warn().Msg("emergency stop triggered")

	if err := s.robot.StopProgram(ctx); err != nil {
		log.Error().Err(err).Msg("robot program stop failed")
	}
	// Secondary safety: halt the current motion directly.
	if err := s.robot.WriteRegister(ctx, models.RegCmd, models.CmdStopMotion); err != nil {
		log.Error().Err(err).Msg("robot motion stop failed")
	}

	if err := s.devices.StopAll(ctx); err != nil {
		log.Error().Err(err).Msg("device stop failed")
	}

	s.mu.Lock()
	s.tasks = nil
	s.robotBusy = false
	s.chained = ""
	s.parallelMode = false
	s.parallelCompleted = false
	s.pausedOrder = nil
	s.mu.Unlock()
}

// ── Dispatcher ──────────────────────────────────────────────

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchOnce(ctx)
		}
	}
}

// dispatchOnce picks at most one eligible task and hands it off. The
// robot-busy flag is set here (the only setter) and cleared by the
// executor on return.
func (s *Scheduler) dispatchOnce(ctx context.Context) {
	if !s.mode.Auto() {
		return
	}
	if pick := s.pickNext(); pick != nil {
		go s.runTask(ctx, pick)
	}
}

// pickNext selects the next eligible task and claims the robot for it,
// or returns nil when nothing can run.
func (s *Scheduler) pickNext() *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.robotBusy {
		return nil
	}
	for _, t := range s.tasks {
		if t.Status != models.TaskPending {
			continue
		}
		if s.chained != "" && t.ID != s.chained {
			continue
		}
		if !s.depsMetLocked(t) {
			continue
		}
		s.robotBusy = true
		return t
	}
	return nil
}

func (s *Scheduler) depsMetLocked(task *models.Task) bool {
	for _, dep := range task.Dependencies {
		met := false
		for _, t := range s.tasks {
			if t.ID == dep {
				met = t.Status == models.TaskCompleted
				break
			}
		}
		if !met {
			return false
		}
	}
	return true
}

// ── Executor ────────────────────────────────────────────────

func (s *Scheduler) runTask(ctx context.Context, task *models.Task) {
	defer func() {
		s.mu.Lock()
		s.robotBusy = false
		s.mu.Unlock()
		s.emit("robot_updated")
	}()
	s.emit("robot_updated")

	s.mu.Lock()
	task.Status = models.TaskRunning
	s.mu.Unlock()

	if task.OrderUUID != "" && s.status != nil {
		s.status(task.OrderUUID, models.OrderProcessing)
	}

	if task.Skippable && s.shouldSkip() {
		log.Info().Str("task", task.ID).Msg("skipping task")
		s.mu.Lock()
		s.chained = ""
		task.Status = models.TaskCompleted
		s.mu.Unlock()
		s.finishOrderIfDone(task.OrderUUID)
		return
	}

	if err := s.executeTask(ctx, task, false); err != nil {
		log.Error().Err(err).Str("task", task.ID).Int("cmd", task.Cmd).Msg("task failed")
		s.mu.Lock()
		task.Status = models.TaskFailed
		s.chained = ""
		s.mu.Unlock()

		// An intentional mode change aborts the wait without recovery;
		// everything else converges on the fail-safe.
		if !errors.Is(err, gateway.ErrModeLeftAuto) && s.failSafe != nil {
			s.failSafe()
		}
		return
	}

	s.mu.Lock()
	switch {
	case s.parallelCompleted:
		// The parallel session already consumed the chained coffee-done.
		s.chained = ""
		s.parallelCompleted = false
	case task.ChainedNext != "":
		s.chained = task.ChainedNext
	default:
		s.chained = ""
	}
	task.Status = models.TaskCompleted
	s.mu.Unlock()

	s.finishOrderIfDone(task.OrderUUID)
}

// shouldSkip decides whether a skippable HOME is elided: either the
// injected predicate fires, or any other task is already queued.
func (s *Scheduler) shouldSkip() bool {
	if s.skip != nil && s.skip() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Status == models.TaskPending {
			return true
		}
	}
	return false
}

func (s *Scheduler) finishOrderIfDone(orderUUID string) {
	if orderUUID == "" || s.status == nil {
		return
	}
	s.mu.Lock()
	done := true
	for _, t := range s.tasks {
		if t.OrderUUID == orderUUID && t.Status != models.TaskCompleted {
			done = false
			break
		}
	}
	s.mu.Unlock()
	if done {
		s.status(orderUUID, models.OrderCompleted)
	}
}

// executeTask drives one robot motion with its surrounding device
// actions and handshakes. inParallel marks executions nested inside the
// parallel interleave sub-protocol.
func (s *Scheduler) executeTask(ctx context.Context, task *models.Task, inParallel bool) error {
	actualCmd := task.Cmd
	var parallelOrder *models.Order

	// The parallel check point swaps the coffee move for a place whenever
	// a candidate is waiting; the window threshold only gates further
	// claims inside the session.
	if task.ParallelCheckPoint && !inParallel && s.orders != nil && s.planner != nil {
		if cand, ok := s.orders.ClaimParallelCandidate(task.OrderUUID, s.planner.IsCoffeeMenu); ok {
			actualCmd = models.CmdCoffeePlace
			parallelOrder = &cand
			s.CancelTasks(cand.UUID) // the parallel executor re-plans it

			if snap, ok := s.orderSnapshot(task.OrderUUID); ok {
				s.mu.Lock()
				s.pausedOrder = &snap
				s.mu.Unlock()
			}
			log.Info().
				Str("coffee_uuid", task.OrderUUID).
				Str("parallel_uuid", cand.UUID).
				Msg("parallel opportunity: coffee move swapped to place")
		}
	}

	if task.PreAction != nil {
		action := *task.PreAction
		if task.IsCoffeeWait {
			action.Seconds += s.boilerCompensation()
		}
		if err := s.runDeviceAction(ctx, &action); err != nil {
			return err
		}
	}

	if task.Cmd == models.CmdPickupPlace {
		slot, err := s.acquirePickupSlot(ctx)
		if err != nil {
			return err
		}
		task.AssignedSlot = slot
		task.Params[models.RegPickupIdx] = slot
		log.Info().Int("slot", slot).Str("mode", s.cfg.PickupMode).Msg("pickup slot assigned")
	}

	if cur, err := s.robot.ReadRegister(ctx, models.RegInit); err == nil && cur != 0 {
		if err := s.robot.WriteRegister(ctx, models.RegInit, 0); err != nil {
			return err
		}
		s.sleep(registerSettle)
	}

	for addr, val := range task.Params {
		if err := s.robot.WriteRegister(ctx, addr, val); err != nil {
			return err
		}
		s.sleep(paramWriteGap)
	}

	log.Info().
		Str("task", task.ID).
		Int("cmd", actualCmd).
		Str("name", models.CmdName[actualCmd]).
		Int("order_no", task.OrderNo).
		Str("menu", task.MenuName).
		Msg("sending robot command")

	if err := s.robot.SendCommand(ctx, actualCmd); err != nil {
		return err
	}
	s.sleep(registerSettle)

	expected := actualCmd + models.AckOffset

	if task.Cmd == models.CmdCupMove {
		// The cup dispense handshake subsumes the generic init wait.
		if err := s.runCupProtocol(ctx, task, expected); err != nil {
			return err
		}
	} else {
		if err := s.robot.WaitInit(ctx, expected, motionTimeout); err != nil {
			return fmt.Errorf("cmd %d: %w", actualCmd, err)
		}
		if err := s.robot.WriteRegister(ctx, models.RegInit, 0); err != nil {
			return err
		}
	}

	// Parallel path: the place ack hands the robot to the interleave
	// sub-protocol, which replaces the post actions entirely.
	if actualCmd == models.CmdCoffeePlace {
		return s.runParallel(ctx, task, parallelOrder)
	}

	if task.PostAction != nil {
		if err := s.runDeviceAction(ctx, task.PostAction); err != nil {
			return err
		}
	}

	if task.NotifyPickup != nil {
		s.notifyPickup(ctx, task)
	}

	log.Info().Str("task", task.ID).Msg("task done")
	return nil
}

func (s *Scheduler) notifyPickup(ctx context.Context, task *models.Task) {
	n := task.NotifyPickup
	if task.AssignedSlot == 0 {
		log.Warn().Str("task", task.ID).Msg("no slot assigned for pickup notification")
		return
	}
	if err := s.pickup.NotifySlot(ctx, n.Zone, task.AssignedSlot, n.OrderNo, n.MenuCode); err != nil {
		log.Error().Err(err).Int("slot", task.AssignedSlot).Msg("pickup notification failed")
	}
	if s.cfg.Simulation {
		// Pretend the customer collects the cup shortly after serving.
		zone, slot := n.Zone, task.AssignedSlot
		go func() {
			time.Sleep(2 * time.Second)
			if err := s.io.ClearPickupSim(context.Background(), zone, slot); err != nil {
				log.Debug().Err(err).Msg("sim pickup clear failed")
			}
		}()
	}
}

// boilerCompensation returns the extra seconds added to a coffee wait
// after a long idle gap on boiler-cooling vendors.
func (s *Scheduler) boilerCompensation() float64 {
	if s.cfg.CoffeeBrand != boilerBrand {
		return 0
	}
	s.mu.Lock()
	last := s.lastCoffee
	s.mu.Unlock()
	if last.IsZero() {
		return 0
	}
	idle := s.now().Sub(last)
	if idle <= boilerIdleThreshold {
		return 0
	}
	log.Info().Dur("idle", idle).Int("extra_s", boilerExtraSeconds).Msg("boiler idle compensation applied")
	return boilerExtraSeconds
}

// runDeviceAction executes one tagged device action synchronously with
// respect to the robot worker (the coffee and rinse variants fan out).
func (s *Scheduler) runDeviceAction(ctx context.Context, a *models.DeviceAction) error {
	log.Info().Str("action", string(a.Type)).Msg("device action")

	switch a.Type {
	case models.ActionCoffee:
		s.devices.MakeCoffee(a.ProductID, a.Precharge)
		s.mu.Lock()
		s.coffeeUsed = true
		// lastCoffee moves only when the extraction finishes (rinse);
		// stamping it here would defeat the idle compensation.
		s.mu.Unlock()
		return nil

	case models.ActionIceWater:
		return s.devices.DispenseIceWater(ctx, a.Ice, a.Water)

	case models.ActionIceWaterSparkling:
		if err := s.devices.DispenseIceWater(ctx, a.Ice, a.Water); err != nil {
			return err
		}
		if a.Sparkling > 0 {
			return s.devices.DispenseSparkling(ctx, a.Sparkling)
		}
		return nil

	case models.ActionHotWater:
		return s.devices.DispenseHotWater(ctx, a.Seconds)

	case models.ActionSyrup:
		return s.devices.DispenseSyrup(ctx, a.SyrupID, a.Seconds)

	case models.ActionSparkling:
		return s.devices.DispenseSparkling(ctx, a.Seconds)

	case models.ActionSleep:
		s.sleep(time.Duration(a.Seconds * float64(time.Second)))
		return nil

	case models.ActionRinse:
		s.devices.ExecuteRinse()
		s.mu.Lock()
		s.coffeeUsed = false
		s.lastCoffee = s.now()
		s.mu.Unlock()
		return nil

	default:
		return fmt.Errorf("unknown device action %q", a.Type)
	}
}

func (s *Scheduler) orderSnapshot(orderUUID string) (models.Order, bool) {
	if snap, ok := s.orders.(interface {
		Snapshot(string) (models.Order, bool)
	}); ok {
		return snap.Snapshot(orderUUID)
	}
	return models.Order{}, false
}

func (s *Scheduler) emit(name string) {
	if s.onEvent != nil {
		s.onEvent(name)
	}
}
