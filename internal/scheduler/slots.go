package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tableon/barctl/internal/gateway"
)

const (
	pickupSlots      = 4
	pickupZone       = 1
	sensorPollPeriod = 2 * time.Second
)

// acquirePickupSlot picks the slot a finished drink is placed on.
//
// Rotate mode round-robins 1..4 without checking occupancy; sensor mode
// takes the first empty slot and blocks polling every two seconds while
// the rack is full.
func (s *Scheduler) acquirePickupSlot(ctx context.Context) (int, error) {
	if s.cfg.PickupMode != "sensor" {
		s.mu.Lock()
		slot := s.nextSlot
		s.nextSlot = s.nextSlot%pickupSlots + 1
		s.mu.Unlock()
		return slot, nil
	}

	for {
		occ, err := s.pickup.Occupancy(ctx, pickupZone)
		if err != nil {
			return 0, fmt.Errorf("pickup occupancy: %w", err)
		}
		for i, v := range occ {
			if v == 0 {
				return i + 1, nil
			}
		}
		log.Info().Msg("pickup rack full, waiting for a free slot")

		if !s.mode.Auto() {
			return 0, gateway.ErrModeLeftAuto
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.stopCh:
			return 0, fmt.Errorf("scheduler stopped while waiting for pickup slot")
		default:
		}
		s.sleep(sensorPollPeriod)
	}
}
