package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPPickup talks to the pickup-rack daemon (slot sensors + DID screen).
type HTTPPickup struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPickup creates a pickup gateway for the given daemon origin.
func NewHTTPPickup(baseURL string) *HTTPPickup {
	return &HTTPPickup{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifySlot lights up a slot on the DID screen with the order details.
func (g *HTTPPickup) NotifySlot(ctx context.Context, zone, slot, orderNo, menuCode int) error {
	url := fmt.Sprintf("%s/updateDID/%d/%d/%d/%d", g.baseURL, zone, slot, orderNo, menuCode)
	resp, err := httpGet(ctx, g.client, url)
	if err != nil {
		return fmt.Errorf("notify pickup slot %d/%d: %w", zone, slot, err)
	}
	drain(resp)
	return nil
}

// Occupancy returns one entry per slot for the zone; nonzero = occupied.
func (g *HTTPPickup) Occupancy(ctx context.Context, zone int) ([]int, error) {
	url := fmt.Sprintf("%s/getPickupStatus/%d", g.baseURL, zone)
	resp, err := httpGet(ctx, g.client, url)
	if err != nil {
		return nil, fmt.Errorf("pickup occupancy zone %d: %w", zone, err)
	}
	defer resp.Body.Close()

	var out struct {
		Status []int `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode pickup occupancy: %w", err)
	}
	return out.Status, nil
}

// ResetAll clears all slot state; called on the AUTO→MANUAL transition.
func (g *HTTPPickup) ResetAll(ctx context.Context) error {
	resp, err := httpGet(ctx, g.client, g.baseURL+"/resetAll")
	if err != nil {
		return fmt.Errorf("pickup reset: %w", err)
	}
	drain(resp)
	return nil
}
