// Package gateway provides the typed adapters the core uses to talk to
// the hardware-side HTTP daemons (robot, IO, devices, pickup rack).
//
// The gateways are stateless: they hide the transport and expose typed
// operations. The scheduler imposes all meaning on register values; the
// daemons own the serial/Modbus wire protocols.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrModeLeftAuto is returned by waits that were aborted because the
// system left AUTO mode. The abort is intentional, not a fault.
var ErrModeLeftAuto = errors.New("system mode left AUTO")

// ErrTimeout is returned when a register wait exceeded its deadline.
var ErrTimeout = errors.New("wait timed out")

// Robot is the register-plane interface to the robot daemon.
type Robot interface {
	ReadRegister(ctx context.Context, addr int) (int, error)
	WriteRegister(ctx context.Context, addr, value int) error

	// SendCommand writes a motion verb to RegCmd.
	SendCommand(ctx context.Context, cmd int) error

	// WaitInit polls RegInit until it equals target. It returns
	// ErrModeLeftAuto if the system leaves AUTO during the wait and
	// ErrTimeout when the deadline passes.
	WaitInit(ctx context.Context, target int, timeout time.Duration) error

	StopProgram(ctx context.Context) error
	StartProgram(ctx context.Context, idx int) error
}

// Device drives the coffee machine, ice machine, hot-water tap,
// sparkling valve, and syrup pumps through the device daemon.
type Device interface {
	// MakeCoffee starts an extraction asynchronously (fire and forget).
	MakeCoffee(productID int, seconds float64)

	// ExecuteRinse enqueues a cleaning cycle asynchronously.
	ExecuteRinse()

	DispenseIceWater(ctx context.Context, ice, water float64) error
	DispenseSparkling(ctx context.Context, seconds float64) error
	DispenseHotWater(ctx context.Context, seconds float64) error
	DispenseSyrup(ctx context.Context, id int, seconds float64) error

	// StopAll is the emergency stop for every device.
	StopAll(ctx context.Context) error
}

// Io exposes the Modbus coil plane used for cup-dispense toggles and
// the cup-presence sensor.
type Io interface {
	WriteCoil(ctx context.Context, unit, addr, value int) error

	// Pulse writes 1, holds for d, then writes 0.
	Pulse(ctx context.Context, unit, addr int, d time.Duration) error

	ReadCoils(ctx context.Context, unit, addr, count int) ([]int, error)

	// ClearPickupSim clears a pickup slot in simulation mode.
	ClearPickupSim(ctx context.Context, zone, slot int) error
}

// Pickup is the customer pickup-rack interface.
type Pickup interface {
	// NotifySlot lights up a slot on the DID screen with the order.
	NotifySlot(ctx context.Context, zone, slot, orderNo, menuCode int) error

	// Occupancy returns one entry per slot; nonzero means occupied.
	Occupancy(ctx context.Context, zone int) ([]int, error)

	ResetAll(ctx context.Context) error
}

// httpGet issues a GET and treats any non-2xx status as an error.
// All four daemons use GET-with-path-params commands.
func httpGet(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	return resp, nil
}

// drain closes a response after a command where only the status matters.
func drain(resp *http.Response) {
	if resp != nil {
		resp.Body.Close()
	}
}
