// Package models defines the shared data model for the bar controller:
// recipes, orders, tasks, device actions, and the system mode cell.
package models

import (
	"sync/atomic"
	"time"
)

// ── Recipe ──────────────────────────────────────────────────

// Syrup is one entry of a recipe's ordered syrup list.
type Syrup struct {
	ID      int     `json:"id"`   // 1..8, selects the dispenser line
	Seconds float64 `json:"time"` // pump duration
}

// Recipe is a menu definition keyed by MenuCode. A duration of 0 means
// the station is skipped entirely during planning.
type Recipe struct {
	MenuCode        int     `json:"menu_code"`
	MenuName        string  `json:"menu_name"`
	CupNum          int     `json:"cup_num"` // 1 = hot, 2 = iced
	IceSeconds      float64 `json:"ice_ext_time"`
	WaterSeconds    float64 `json:"water_ext_time"`
	SparklingSecs   float64 `json:"sparkling_ext_time"`
	HotWaterSecs    float64 `json:"hotwater_ext_time"`
	CoffeeSeconds   float64 `json:"coffee_ext_time"`
	CoffeeProductID int     `json:"coffee_product_id"` // 1 = black (grind ahead), else milk-based
	Syrups          []Syrup `json:"syrups,omitempty"`
}

// HasCoffee reports whether the recipe includes a coffee extraction.
func (r *Recipe) HasCoffee() bool {
	return r.CoffeeSeconds > 0
}

// ── Order ───────────────────────────────────────────────────

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderWaiting    OrderStatus = "WAITING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderFailed     OrderStatus = "FAILED"
)

// Order is a runtime work item. Orders are value-copyable: the parallel
// sub-protocol captures a snapshot at swap time, so no reference fields.
type Order struct {
	UUID     string      `json:"uuid"`
	OrderNo  int         `json:"order_no"`
	MenuCode int         `json:"menu_code"`
	MenuName string      `json:"menu_name"`
	Status   OrderStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ParallelSkip marks an order that failed during the current parallel
	// interleave session so the opportunity pass will not retry it.
	ParallelSkip bool `json:"-"`
}

// ── Device actions ──────────────────────────────────────────

// ActionType tags a DeviceAction variant.
type ActionType string

const (
	ActionCoffee            ActionType = "coffee"
	ActionIceWater          ActionType = "ice_water"
	ActionIceWaterSparkling ActionType = "ice_water_sparkling"
	ActionHotWater          ActionType = "hot_water"
	ActionSyrup             ActionType = "syrup"
	ActionSparkling         ActionType = "sparkling"
	ActionSleep             ActionType = "sleep"
	ActionRinse             ActionType = "rinse"
)

// DeviceAction is a tagged union describing a side effect the executor
// runs before or after a robot motion. Only the fields belonging to the
// Type variant are meaningful; the executor switches on Type.
type DeviceAction struct {
	Type ActionType

	// coffee
	ProductID int
	Precharge float64

	// ice_water / ice_water_sparkling
	Ice       float64
	Water     float64
	Sparkling float64

	// hot_water / syrup / sparkling / sleep
	Seconds float64

	// syrup
	SyrupID int
}

// ── Task ────────────────────────────────────────────────────

// TaskStatus is the lifecycle state of a scheduled task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// PickupNotice describes the pickup-rack notification carried by the
// serve task. The slot itself is assigned at dispatch time.
type PickupNotice struct {
	Zone     int
	OrderNo  int
	MenuCode int
}

// Task is one node of an order's execution graph. Dependencies form a
// DAG (in practice a chain with the syrup stages fanned in serially).
type Task struct {
	ID           string
	Cmd          int         // motion verb, see registers.go
	Params       map[int]int // robot register address → value
	Dependencies []string
	Status       TaskStatus
	OrderUUID    string
	Skippable    bool

	// ChainedNext names the only task allowed to run after this one
	// completes, expressing an atomic pair on the robot.
	ChainedNext string

	PreAction  *DeviceAction
	PostAction *DeviceAction

	NotifyPickup *PickupNotice
	AssignedSlot int

	// ParallelCheckPoint marks the coffee-move task that may be swapped
	// to place/pick mode; IsCoffeeWait marks its paired done task.
	ParallelCheckPoint bool
	IsCoffeeWait       bool

	// Propagated for logging only.
	MenuName string
	OrderNo  int
}

// ── System mode ─────────────────────────────────────────────

// SystemMode is the process-wide operating mode.
type SystemMode int32

const (
	ModeManual SystemMode = 0
	ModeAuto   SystemMode = 1
)

func (m SystemMode) String() string {
	if m == ModeAuto {
		return "AUTO"
	}
	return "MANUAL"
}

// ModeCell is the shared mode state handed to the order manager and the
// scheduler at construction. Mutation goes through the order manager's
// SetMode (which runs the robot program side effects) and the fail-safe
// path; everything else only reads.
type ModeCell struct {
	v atomic.Int32
}

// NewModeCell returns a cell initialized to MANUAL.
func NewModeCell() *ModeCell {
	return &ModeCell{}
}

// Get returns the current mode.
func (c *ModeCell) Get() SystemMode {
	return SystemMode(c.v.Load())
}

// Set stores a new mode.
func (c *ModeCell) Set(m SystemMode) {
	c.v.Store(int32(m))
}

// Auto reports whether the system is in AUTO mode.
func (c *ModeCell) Auto() bool {
	return c.Get() == ModeAuto
}
