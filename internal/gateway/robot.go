package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tableon/barctl/pkg/models"
)

// HTTPRobot talks to the robot daemon's register API. The daemon wraps
// the vendor controller; this adapter only moves integers.
type HTTPRobot struct {
	baseURL string
	robotID string
	client  *http.Client
	mode    *models.ModeCell
}

// NewHTTPRobot creates a robot gateway for the given daemon origin.
// The mode cell lets register waits abort when the system leaves AUTO.
func NewHTTPRobot(baseURL, robotID string, mode *models.ModeCell) *HTTPRobot {
	return &HTTPRobot{
		baseURL: baseURL,
		robotID: robotID,
		client:  &http.Client{Timeout: 20 * time.Second},
		mode:    mode,
	}
}

type registerRequest struct {
	RobotID string `json:"robot_id"`
	Addr    int    `json:"addr"`
	Value   int    `json:"value,omitempty"`
}

func (r *HTTPRobot) post(ctx context.Context, path string, body registerRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal register request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, path)
	}
	return resp, nil
}

// ReadRegister returns the current value of a robot register.
func (r *HTTPRobot) ReadRegister(ctx context.Context, addr int) (int, error) {
	resp, err := r.post(ctx, "/readRegister", registerRequest{RobotID: r.robotID, Addr: addr})
	if err != nil {
		return 0, fmt.Errorf("read register %d: %w", addr, err)
	}
	defer resp.Body.Close()

	var out struct {
		Value *int `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode register %d: %w", addr, err)
	}
	if out.Value == nil {
		return 0, fmt.Errorf("register %d: empty value", addr)
	}
	return *out.Value, nil
}

// WriteRegister sets a robot register.
func (r *HTTPRobot) WriteRegister(ctx context.Context, addr, value int) error {
	resp, err := r.post(ctx, "/writeRegister", registerRequest{RobotID: r.robotID, Addr: addr, Value: value})
	if err != nil {
		return fmt.Errorf("write register %d=%d: %w", addr, value, err)
	}
	drain(resp)
	return nil
}

// SendCommand writes a motion verb to RegCmd.
func (r *HTTPRobot) SendCommand(ctx context.Context, cmd int) error {
	return r.WriteRegister(ctx, models.RegCmd, cmd)
}

// WaitInit polls RegInit every 500 ms until it equals target. The wait
// aborts with ErrModeLeftAuto when the system leaves AUTO and with
// ErrTimeout past the deadline. Transient read errors are retried on
// the next poll.
func (r *HTTPRobot) WaitInit(ctx context.Context, target int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	log.Debug().Int("target", target).Dur("timeout", timeout).Msg("waiting for robot init")

	for time.Now().Before(deadline) {
		if !r.mode.Auto() {
			log.Warn().Int("target", target).Msg("init wait aborted: system left AUTO")
			return ErrModeLeftAuto
		}

		val, err := r.ReadRegister(ctx, models.RegInit)
		if err == nil && val == target {
			log.Debug().Int("target", target).Msg("robot init matched")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	log.Error().Int("target", target).Msg("robot init wait timed out")
	return ErrTimeout
}

// StopProgram halts the vendor-side main program.
func (r *HTTPRobot) StopProgram(ctx context.Context) error {
	resp, err := httpGet(ctx, r.client, fmt.Sprintf("%s/command/%s/1", r.baseURL, r.robotID))
	if err != nil {
		return fmt.Errorf("stop program: %w", err)
	}
	drain(resp)
	return nil
}

// StartProgram runs the vendor-side program the robot must be running
// to accept register commands.
func (r *HTTPRobot) StartProgram(ctx context.Context, idx int) error {
	resp, err := httpGet(ctx, r.client, fmt.Sprintf("%s/runProgram/%s/%d", r.baseURL, r.robotID, idx))
	if err != nil {
		return fmt.Errorf("start program %d: %w", idx, err)
	}
	drain(resp)
	return nil
}
