package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// HTTPDevice drives the device daemon. Coffee commands are the flakiest
// wire protocol in the bar, so they retry internally (3 attempts with a
// short backoff); the core never retries at task granularity.
type HTTPDevice struct {
	baseURL string

	// Dispense calls block for the full pour, so the client timeout has
	// to outlast the longest recipe duration.
	client *http.Client
	fast   *http.Client
}

// NewHTTPDevice creates a device gateway for the given daemon origin.
func NewHTTPDevice(baseURL string) *HTTPDevice {
	return &HTTPDevice{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 180 * time.Second},
		fast:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *HTTPDevice) get(ctx context.Context, client *http.Client, path string) error {
	resp, err := httpGet(ctx, client, d.baseURL+path)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// coffeeGet is the retrying variant used for the coffee machine only.
func (d *HTTPDevice) coffeeGet(ctx context.Context, path string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 2)
	return backoff.Retry(func() error {
		return d.get(ctx, client, path)
	}, backoff.WithContext(bo, ctx))
}

// MakeCoffee starts an extraction asynchronously. The daemon holds the
// request open for the full extraction; the scheduler times itself with
// explicit sleep actions instead of waiting here.
func (d *HTTPDevice) MakeCoffee(productID int, seconds float64) {
	go func() {
		err := d.coffeeGet(context.Background(),
			fmt.Sprintf("/coffee/%d/%g", productID, seconds), 180*time.Second)
		if err != nil {
			log.Error().Err(err).Int("product", productID).Msg("coffee command failed")
		}
	}()
	log.Info().Int("product", productID).Float64("seconds", seconds).Msg("coffee command sent")
}

// ExecuteRinse enqueues a cleaning cycle asynchronously.
func (d *HTTPDevice) ExecuteRinse() {
	go func() {
		if err := d.coffeeGet(context.Background(), "/coffee/rinse", 60*time.Second); err != nil {
			log.Error().Err(err).Msg("rinse command failed")
		}
	}()
	log.Info().Msg("rinse command sent")
}

// DispenseIceWater pours ice and water concurrently on the daemon side
// and returns when both are done.
func (d *HTTPDevice) DispenseIceWater(ctx context.Context, ice, water float64) error {
	if err := d.get(ctx, d.client, fmt.Sprintf("/waterice/%g/%g", ice, water)); err != nil {
		return fmt.Errorf("dispense ice/water: %w", err)
	}
	return nil
}

// DispenseSparkling opens the sparkling solenoid for the duration.
func (d *HTTPDevice) DispenseSparkling(ctx context.Context, seconds float64) error {
	if err := d.get(ctx, d.client, fmt.Sprintf("/sparkling/%g", seconds)); err != nil {
		return fmt.Errorf("dispense sparkling: %w", err)
	}
	return nil
}

// DispenseHotWater pulses the hot-water tap open.
func (d *HTTPDevice) DispenseHotWater(ctx context.Context, seconds float64) error {
	if err := d.get(ctx, d.client, fmt.Sprintf("/hotwater/%g", seconds)); err != nil {
		return fmt.Errorf("dispense hot water: %w", err)
	}
	return nil
}

// DispenseSyrup pumps syrup line id for the duration.
func (d *HTTPDevice) DispenseSyrup(ctx context.Context, id int, seconds float64) error {
	if err := d.get(ctx, d.client, fmt.Sprintf("/syrup/%d/%g", id, seconds)); err != nil {
		return fmt.Errorf("dispense syrup %d: %w", id, err)
	}
	return nil
}

// StopAll is the emergency stop for every device.
func (d *HTTPDevice) StopAll(ctx context.Context) error {
	if err := d.get(ctx, d.fast, "/stopAll"); err != nil {
		return fmt.Errorf("stop all devices: %w", err)
	}
	return nil
}
