package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tableon/barctl/internal/gateway"
	"github.com/tableon/barctl/pkg/models"
)

const (
	cupPollTimeout  = 60 * time.Second
	cupPollInterval = 100 * time.Millisecond
	cupCoilHold     = 1 * time.Second

	cupSensorPresent = 1
	cupSensorAbsent  = 2

	// The cup-ready index written back to the robot is the cup kind
	// shifted past the request range.
	cupReadyOffset = 2
)

// runCupProtocol runs the cup dispense handshake that follows the cup
// move command. The robot raises CUP_ON at the dispenser, the
// controller drops a cup and confirms via CUP_IDX, the robot grabs it
// and raises CUP_MOVE, and the presence sensor verdict goes back in
// CUP_SENSOR. The closing init wait doubles as the motion ack.
//
// A failed presence check closes the order and returns ErrCupSensor;
// the caller's error path trips the fail-safe.
func (s *Scheduler) runCupProtocol(ctx context.Context, task *models.Task, expected int) error {
	cupNum := task.Params[models.RegCupIdx]

	if err := s.pollRegister(ctx, models.RegCupOn, 1, cupPollTimeout); err != nil {
		return fmt.Errorf("wait cup request: %w", err)
	}
	if err := s.robot.WriteRegister(ctx, models.RegCupOn, 0); err != nil {
		return err
	}

	coil := models.CoilCupHot
	if cupNum == 2 {
		coil = models.CoilCupIced
	}
	if err := s.io.Pulse(ctx, models.IoUnitStations, coil, cupCoilHold); err != nil {
		return fmt.Errorf("cup dispense pulse: %w", err)
	}

	if err := s.robot.WriteRegister(ctx, models.RegCupIdx, cupNum+cupReadyOffset); err != nil {
		return err
	}

	if err := s.pollRegister(ctx, models.RegCupMove, 1, cupPollTimeout); err != nil {
		return fmt.Errorf("wait cup grab: %w", err)
	}
	if err := s.robot.WriteRegister(ctx, models.RegCupMove, 0); err != nil {
		return err
	}

	bits, err := s.io.ReadCoils(ctx, models.IoUnitSensors, models.CoilCupPresence, 1)
	if err != nil {
		return fmt.Errorf("read cup sensor: %w", err)
	}
	present := len(bits) > 0 && bits[0] != 0

	verdict := cupSensorAbsent
	if present {
		verdict = cupSensorPresent
	}
	if err := s.robot.WriteRegister(ctx, models.RegCupSensor, verdict); err != nil {
		return err
	}

	if !present {
		log.Error().Int("cup", cupNum).Msg("cup missing from gripper")
		// Let the robot finish its recovery motion before stopping.
		if err := s.robot.WaitInit(ctx, expected, motionTimeout); err != nil {
			log.Error().Err(err).Msg("cup recovery wait failed")
		}
		// The customer is refunded rather than retried: close the order
		// here, then surface the error so the caller trips the fail-safe.
		if task.OrderUUID != "" && s.status != nil {
			s.status(task.OrderUUID, models.OrderCompleted)
		}
		return ErrCupSensor
	}

	if err := s.robot.WaitInit(ctx, expected, motionTimeout); err != nil {
		return fmt.Errorf("cup motion ack: %w", err)
	}
	return s.robot.WriteRegister(ctx, models.RegInit, 0)
}

// pollRegister waits for a register to hit target, sampling every 100ms.
// Leaving AUTO aborts the wait with ErrModeLeftAuto.
func (s *Scheduler) pollRegister(ctx context.Context, addr, target int, timeout time.Duration) error {
	deadline := s.now().Add(timeout)
	for {
		if !s.mode.Auto() {
			return gateway.ErrModeLeftAuto
		}
		v, err := s.robot.ReadRegister(ctx, addr)
		if err != nil {
			return err
		}
		if v == target {
			return nil
		}
		if s.now().After(deadline) {
			return fmt.Errorf("register %d != %d after %s: %w", addr, target, timeout, gateway.ErrTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.sleep(cupPollInterval)
	}
}
