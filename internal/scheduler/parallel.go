package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tableon/barctl/pkg/models"
)

// parallelThreshold is the minimum extraction time left for pulling
// another order into the idle window.
const parallelThreshold = 20 * time.Second

// defaultExtraction covers the degenerate case of a coffee order whose
// recipe vanished mid-flight.
const defaultExtraction = 30.0

// runParallel is the interleave sub-protocol. The coffee cup is parked
// inside the machine (place already acked when we get here); while the
// extraction runs the robot serves non-coffee orders, then returns for
// the pick once the window closes.
//
// The coffee order's chained done task is consumed here, not by the
// dispatcher.
func (s *Scheduler) runParallel(ctx context.Context, coffeeTask *models.Task, first *models.Order) error {
	s.mu.Lock()
	s.parallelMode = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.parallelMode = false
		s.pausedOrder = nil
		s.mu.Unlock()
		if s.orders != nil {
			s.orders.ClearParallelSkips()
		}
	}()

	// Milk-based products start extraction only after the cup is parked.
	if coffeeTask.PostAction != nil && coffeeTask.PostAction.Type == models.ActionCoffee {
		if err := s.runDeviceAction(ctx, coffeeTask.PostAction); err != nil {
			return err
		}
	}

	window := s.extractionWindow(coffeeTask)
	start := s.now()
	log.Info().Dur("window", window).Msg("parallel session opened")

	order := first
	for order != nil {
		s.serveParallelOrder(ctx, *order)

		remaining := window - s.now().Sub(start)
		if remaining < parallelThreshold {
			break
		}
		cand, ok := s.orders.ClaimParallelCandidate(coffeeTask.OrderUUID, s.planner.IsCoffeeMenu)
		if !ok {
			break
		}
		s.CancelTasks(cand.UUID)
		order = &cand
	}

	if remaining := window - s.now().Sub(start); remaining > 0 {
		log.Info().Dur("remaining", remaining).Msg("waiting out extraction")
		s.sleep(remaining)
	}

	// Retrieve the cup: init reset, pick command, ack, rinse.
	if err := s.robot.WriteRegister(ctx, models.RegInit, 0); err != nil {
		return err
	}
	s.sleep(300 * time.Millisecond)
	if err := s.robot.SendCommand(ctx, models.CmdCoffeePick); err != nil {
		return err
	}
	s.sleep(registerSettle)
	if err := s.robot.WaitInit(ctx, models.CmdCoffeePick+models.AckOffset, motionTimeout); err != nil {
		return fmt.Errorf("coffee pick: %w", err)
	}
	if err := s.robot.WriteRegister(ctx, models.RegInit, 0); err != nil {
		return err
	}
	if err := s.runDeviceAction(ctx, &models.DeviceAction{Type: models.ActionRinse}); err != nil {
		return err
	}

	// The paired coffee-done already happened implicitly; retire it so
	// the dispatcher moves on past the chain.
	s.mu.Lock()
	for _, t := range s.tasks {
		if t.ID == coffeeTask.ChainedNext {
			t.Status = models.TaskCompleted
			break
		}
	}
	s.parallelCompleted = true
	s.mu.Unlock()

	log.Info().Msg("parallel session closed")
	return nil
}

// serveParallelOrder plans and runs one interleaved order start to
// finish on the robot we already hold. A failure releases the order
// back to the queue with a skip mark instead of failing the coffee.
func (s *Scheduler) serveParallelOrder(ctx context.Context, order models.Order) {
	log.Info().Int("order_no", order.OrderNo).Str("uuid", order.UUID).Msg("interleaving order")

	tasks, err := s.planner.Plan(order, order.UUID)
	if err != nil {
		log.Error().Err(err).Str("uuid", order.UUID).Msg("parallel plan failed")
		s.orders.ReleaseParallelFailure(order.UUID)
		return
	}

	for _, t := range tasks {
		// The robot never needs to park between interleaved orders.
		if t.Skippable {
			t.Status = models.TaskCompleted
			continue
		}
		t.Status = models.TaskRunning
		if err := s.executeTask(ctx, t, true); err != nil {
			log.Error().Err(err).Str("task", t.ID).Msg("parallel task failed")
			t.Status = models.TaskFailed
			s.orders.ReleaseParallelFailure(order.UUID)
			return
		}
		t.Status = models.TaskCompleted
	}

	if s.status != nil {
		s.status(order.UUID, models.OrderCompleted)
	}
}

// extractionWindow derives the idle window from the paired done task's
// wait, including any boiler compensation.
func (s *Scheduler) extractionWindow(coffeeTask *models.Task) time.Duration {
	secs := defaultExtraction
	found := false
	s.mu.Lock()
	for _, t := range s.tasks {
		if t.ID == coffeeTask.ChainedNext && t.PreAction != nil {
			secs = t.PreAction.Seconds
			found = true
			break
		}
	}
	paused := s.pausedOrder
	s.mu.Unlock()
	if !found && paused != nil {
		if r, ok := s.planner.Recipe(paused.MenuCode); ok && r.CoffeeSeconds > 0 {
			secs = r.CoffeeSeconds
		}
	}
	secs += s.boilerCompensation()
	return time.Duration(secs * float64(time.Second))
}
