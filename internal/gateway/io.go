package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPIo talks to the Modbus IO daemon's coil plane.
type HTTPIo struct {
	baseURL string
	client  *http.Client
}

// NewHTTPIo creates an IO gateway for the given daemon origin.
func NewHTTPIo(baseURL string) *HTTPIo {
	return &HTTPIo{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// WriteCoil sets a single output coil.
func (g *HTTPIo) WriteCoil(ctx context.Context, unit, addr, value int) error {
	url := fmt.Sprintf("%s/coil/write/%d/%d/%d", g.baseURL, unit, addr, value)
	resp, err := httpGet(ctx, g.client, url)
	if err != nil {
		return fmt.Errorf("write coil %d/%d=%d: %w", unit, addr, value, err)
	}
	drain(resp)
	return nil
}

// Pulse writes 1, holds for d, then writes 0. The off write is attempted
// even if the hold is cut short by context cancellation.
func (g *HTTPIo) Pulse(ctx context.Context, unit, addr int, d time.Duration) error {
	if err := g.WriteCoil(ctx, unit, addr, 1); err != nil {
		return err
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
	return g.WriteCoil(ctx, unit, addr, 0)
}

// ReadCoils reads count bits starting at addr.
func (g *HTTPIo) ReadCoils(ctx context.Context, unit, addr, count int) ([]int, error) {
	url := fmt.Sprintf("%s/coils/read/%d/%d/%d", g.baseURL, unit, addr, count)
	resp, err := httpGet(ctx, g.client, url)
	if err != nil {
		return nil, fmt.Errorf("read coils %d/%d: %w", unit, addr, err)
	}
	defer resp.Body.Close()

	var bits []int
	if err := json.NewDecoder(resp.Body).Decode(&bits); err != nil {
		return nil, fmt.Errorf("decode coils %d/%d: %w", unit, addr, err)
	}
	return bits, nil
}

// ClearPickupSim clears a pickup slot in simulation mode.
func (g *HTTPIo) ClearPickupSim(ctx context.Context, zone, slot int) error {
	url := fmt.Sprintf("%s/sim/setPickup/%d/%d/0", g.baseURL, zone, slot)
	resp, err := httpGet(ctx, g.client, url)
	if err != nil {
		return fmt.Errorf("clear pickup sim %d/%d: %w", zone, slot, err)
	}
	drain(resp)
	return nil
}
