// Package planner converts orders into dependency-ordered task chains.
//
// A plan is a linear chain of robot motions; stages are added only when
// the recipe calls for them. Station visits are emitted as atomic pairs
// (move + done) linked by ChainedNext so no other order can interleave
// between them on the robot.
package planner

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/tableon/barctl/internal/recipe"
	"github.com/tableon/barctl/pkg/models"
)

// coffeePrecharge is the short duration sent with the extraction start;
// the real wait lives in the paired done task's sleep action.
const coffeePrecharge = 0.5

// pickupZone is the single customer rack.
const pickupZone = 1

// ErrUnknownMenu is returned when no recipe exists for the order's code.
var ErrUnknownMenu = errors.New("unknown menu code")

// ErrInvalidCup is returned when the recipe's cup kind is out of range.
var ErrInvalidCup = errors.New("invalid cup number")

// Planner builds task chains from recipes.
type Planner struct {
	recipes *recipe.Store
	counter atomic.Int64
}

// New creates a planner over the given recipe store.
func New(recipes *recipe.Store) *Planner {
	return &Planner{recipes: recipes}
}

// IsCoffeeMenu reports whether the menu includes a coffee extraction.
// Unknown menus count as non-coffee; planning rejects them anyway.
func (p *Planner) IsCoffeeMenu(menuCode int) bool {
	r, ok := p.recipes.Get(menuCode)
	return ok && r.HasCoffee()
}

// Recipe exposes recipe lookup to the scheduler's parallel path.
func (p *Planner) Recipe(menuCode int) (models.Recipe, bool) {
	return p.recipes.Get(menuCode)
}

func (p *Planner) newID() string {
	return fmt.Sprintf("T%d", p.counter.Add(1))
}

// Plan converts an order into its task chain. A failed plan returns an
// empty list and an error; the order stays WAITING.
//
// Stage order: cup → ice/water/sparkling → hot water → coffee → syrups
// → serve (pickup move, place, skippable home).
func (p *Planner) Plan(order models.Order, orderUUID string) ([]*models.Task, error) {
	r, ok := p.recipes.Get(order.MenuCode)
	if !ok {
		log.Warn().Int("menu_code", order.MenuCode).Msg("plan rejected: recipe not found")
		return nil, fmt.Errorf("%w: %d", ErrUnknownMenu, order.MenuCode)
	}
	if r.CupNum != 1 && r.CupNum != 2 {
		log.Warn().Int("menu_code", order.MenuCode).Int("cup_num", r.CupNum).Msg("plan rejected: bad cup number")
		return nil, fmt.Errorf("%w: %d", ErrInvalidCup, r.CupNum)
	}

	log.Info().
		Int("order_no", order.OrderNo).
		Int("menu_code", order.MenuCode).
		Str("uuid", orderUUID).
		Msg("planning order")

	var tasks []*models.Task

	// Cup dispense, always first. Not chained: the cup sub-protocol is
	// self-contained inside the task's execution.
	cup := &models.Task{
		ID:        p.newID(),
		Cmd:       models.CmdCupMove,
		Params:    map[int]int{models.RegCupIdx: r.CupNum},
		Status:    models.TaskPending,
		OrderUUID: orderUUID,
	}
	tasks = append(tasks, cup)
	last := cup.ID

	// Ice-water station covers ice, cold water, and sparkling.
	if r.IceSeconds > 0 || r.WaterSeconds > 0 || r.SparklingSecs > 0 {
		move := &models.Task{
			ID:           p.newID(),
			Cmd:          models.CmdWiMove,
			Params:       map[int]int{},
			Dependencies: []string{last},
			Status:       models.TaskPending,
			OrderUUID:    orderUUID,
			PostAction: &models.DeviceAction{
				Type:      models.ActionIceWaterSparkling,
				Ice:       r.IceSeconds,
				Water:     r.WaterSeconds,
				Sparkling: r.SparklingSecs,
			},
		}
		done := &models.Task{
			ID:           p.newID(),
			Cmd:          models.CmdWiDone,
			Params:       map[int]int{},
			Dependencies: []string{move.ID},
			Status:       models.TaskPending,
			OrderUUID:    orderUUID,
			PreAction: &models.DeviceAction{
				Type:    models.ActionSleep,
				Seconds: max3(r.IceSeconds, r.WaterSeconds, r.SparklingSecs),
			},
		}
		move.ChainedNext = done.ID
		tasks = append(tasks, move, done)
		last = done.ID
	}

	// Hot water: the move pulses the tap open, the done waits it out.
	if r.HotWaterSecs > 0 {
		move := &models.Task{
			ID:           p.newID(),
			Cmd:          models.CmdHotMove,
			Params:       map[int]int{},
			Dependencies: []string{last},
			Status:       models.TaskPending,
			OrderUUID:    orderUUID,
			PostAction: &models.DeviceAction{
				Type:    models.ActionHotWater,
				Seconds: r.HotWaterSecs,
			},
		}
		done := &models.Task{
			ID:           p.newID(),
			Cmd:          models.CmdHotDone,
			Params:       map[int]int{},
			Dependencies: []string{move.ID},
			Status:       models.TaskPending,
			OrderUUID:    orderUUID,
			PreAction: &models.DeviceAction{
				Type:    models.ActionSleep,
				Seconds: r.HotWaterSecs,
			},
		}
		move.ChainedNext = done.ID
		tasks = append(tasks, move, done)
		last = done.ID
	}

	// Coffee machine. The move carries the parallel check point; black
	// coffee (product 1) grinds ahead of the robot's arrival, milk-based
	// products start once the cup is placed.
	if r.HasCoffee() {
		move := &models.Task{
			ID:                 p.newID(),
			Cmd:                models.CmdCoffeeMove,
			Params:             map[int]int{},
			Dependencies:       []string{last},
			Status:             models.TaskPending,
			OrderUUID:          orderUUID,
			ParallelCheckPoint: true,
		}
		coffee := &models.DeviceAction{
			Type:      models.ActionCoffee,
			ProductID: r.CoffeeProductID,
			Precharge: coffeePrecharge,
		}
		if r.CoffeeProductID == 1 {
			move.PreAction = coffee
		} else {
			move.PostAction = coffee
		}
		done := &models.Task{
			ID:           p.newID(),
			Cmd:          models.CmdCoffeeDone,
			Params:       map[int]int{},
			Dependencies: []string{move.ID},
			Status:       models.TaskPending,
			OrderUUID:    orderUUID,
			IsCoffeeWait: true,
			PreAction: &models.DeviceAction{
				Type:    models.ActionSleep,
				Seconds: r.CoffeeSeconds,
			},
			PostAction: &models.DeviceAction{Type: models.ActionRinse},
		}
		move.ChainedNext = done.ID
		tasks = append(tasks, move, done)
		last = done.ID
	}

	// Syrups are serial, each its own atomic pair.
	for _, s := range r.Syrups {
		move := &models.Task{
			ID:           p.newID(),
			Cmd:          models.CmdSyrupMove,
			Params:       map[int]int{models.RegSyrupIdx: s.ID},
			Dependencies: []string{last},
			Status:       models.TaskPending,
			OrderUUID:    orderUUID,
			PostAction: &models.DeviceAction{
				Type:    models.ActionSyrup,
				SyrupID: s.ID,
				Seconds: s.Seconds,
			},
		}
		done := &models.Task{
			ID:           p.newID(),
			Cmd:          models.CmdSyrupDone,
			Params:       map[int]int{},
			Dependencies: []string{move.ID},
			Status:       models.TaskPending,
			OrderUUID:    orderUUID,
		}
		move.ChainedNext = done.ID
		tasks = append(tasks, move, done)
		last = done.ID
	}

	// Serve: approach, place (with DID notification), skippable home.
	move := &models.Task{
		ID:           p.newID(),
		Cmd:          models.CmdPickupMove,
		Params:       map[int]int{},
		Dependencies: []string{last},
		Status:       models.TaskPending,
		OrderUUID:    orderUUID,
	}
	place := &models.Task{
		ID:           p.newID(),
		Cmd:          models.CmdPickupPlace,
		Params:       map[int]int{},
		Dependencies: []string{move.ID},
		Status:       models.TaskPending,
		OrderUUID:    orderUUID,
		NotifyPickup: &models.PickupNotice{
			Zone:     pickupZone,
			OrderNo:  order.OrderNo,
			MenuCode: r.MenuCode,
		},
	}
	move.ChainedNext = place.ID
	home := &models.Task{
		ID:           p.newID(),
		Cmd:          models.CmdHome,
		Params:       map[int]int{},
		Dependencies: []string{place.ID},
		Status:       models.TaskPending,
		OrderUUID:    orderUUID,
		Skippable:    true,
	}
	tasks = append(tasks, move, place, home)

	for _, t := range tasks {
		t.MenuName = order.MenuName
		t.OrderNo = order.OrderNo
	}
	return tasks, nil
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
