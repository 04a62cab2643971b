package models

// Robot register plane. The address space is opaque integers on the
// robot side; the scheduler imposes meaning.
const (
	RegCmd  = 600 // motion verb to execute (core → robot)
	RegInit = 700 // ack: Cmd+AckOffset on completion, 0 when idle (robot → core)
	RegStat = 900 // 0 idle, 1 moving, informational (robot → core)

	RegCupIdx    = 100 // 1 = hot, 2 = iced; rewritten to 3/4 at the dispenser
	RegPickupIdx = 101 // target pickup slot 1..4
	RegCupRes    = 102 // 1 = dispense ok, 2 = fail (legacy, unused on the dispense path)
	RegCupMove   = 104 // 1 when the robot has arrived at the cup sensor
	RegCupSensor = 105 // 1 = cup present, 2 = missing (core → robot)
	RegCupOn     = 106 // 1 when the robot is in position for dispense
	RegSyrupIdx  = 107 // 1..8 syrup selector
)

// AckOffset is the register handshake convention: RegInit returns
// cmd+AckOffset when the robot has completed the requested motion.
const AckOffset = 500

// Motion verbs.
const (
	CmdCupMove = 110 // home → cup dispenser, triggers the cup sub-protocol

	CmdWiMove = 111 // approach ice-water station
	CmdWiDone = 112 // leave ice-water station

	CmdCoffeeMove  = 113 // approach coffee machine (normal path)
	CmdCoffeeDone  = 114 // leave coffee machine (normal path)
	CmdCoffeePlace = 115 // place cup in the machine (parallel path)
	CmdCoffeePick  = 116 // pick cup from the machine (parallel path)

	CmdHotMove = 117 // approach hot-water tap
	CmdHotDone = 118 // leave hot-water tap

	CmdPickupMove  = 119 // approach pickup rack
	CmdPickupPlace = 120 // place cup in slot RegPickupIdx

	CmdSyrupMove = 121 // approach syrup station RegSyrupIdx
	CmdSyrupDone = 122 // leave syrup station

	CmdHome = 123 // return to home pose

	CmdStopMotion = 6 // vendor stop-motion verb, used by the emergency stop only
)

// CmdName maps motion verbs to short names for log lines.
var CmdName = map[int]string{
	CmdCupMove:     "CUP_MOVE",
	CmdWiMove:      "WI_MOVE",
	CmdWiDone:      "WI_DONE",
	CmdCoffeeMove:  "COFFEE_MOVE",
	CmdCoffeeDone:  "COFFEE_DONE",
	CmdCoffeePlace: "COFFEE_PLACE",
	CmdCoffeePick:  "COFFEE_PICK",
	CmdHotMove:     "HOT_MOVE",
	CmdHotDone:     "HOT_DONE",
	CmdPickupMove:  "PICKUP_MOVE",
	CmdPickupPlace: "PICKUP_PLACE",
	CmdSyrupMove:   "SYRUP_MOVE",
	CmdSyrupDone:   "SYRUP_DONE",
	CmdHome:        "HOME",
}

// Device IO coil map (unit, address).
const (
	IoUnitStations = 5 // DO card: station triggers
	IoUnitSyrup    = 6 // DO card: syrup pumps
	IoUnitSensors  = 3 // DI card: presence sensors

	CoilIceMachineBtn = 3200 // pulse 0.5 s
	CoilHotWaterTap   = 3201 // pulse 0.5 s to open
	CoilCupHot        = 3202 // cup dispense signal, hot; pulse 1 s
	CoilCupIced       = 3203 // cup dispense signal, iced; pulse 1 s
	CoilSparkling     = 3204

	CoilSyrupBase1 = 3200 // syrups 1..4 → 3200..3203
	CoilSyrupBase2 = 3204 // syrups 5..8 → 3204..3207

	CoilCupPresence = 6 // DI bit on IoUnitSensors
)

// SyrupCoil returns the DO address for a syrup line 1..8.
func SyrupCoil(id int) int {
	if id <= 4 {
		return CoilSyrupBase1 + (id - 1)
	}
	return CoilSyrupBase2 + (id - 5)
}
