package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the bar controller.
type Config struct {
	Port      int
	Version   string
	Recipes   RecipeConfig
	Services  ServiceConfig
	Coffee    CoffeeConfig
	Pickup    PickupConfig
	Telemetry TelemetryConfig

	// Simulation replaces every positive recipe duration with a short
	// constant and enables the deferred slot-cleared notification.
	Simulation bool

	// NotifyURL is the out-of-band UI event sink (empty disables it).
	NotifyURL string

	// PerfLogDir holds the per-day completed-order CSV files.
	PerfLogDir string
}

type RecipeConfig struct {
	Path string
}

// ServiceConfig points at the device-side HTTP daemons that wrap the
// serial/Modbus hardware.
type ServiceConfig struct {
	RobotURL  string
	RobotID   string
	IoURL     string
	DeviceURL string
	PickupURL string
}

type CoffeeConfig struct {
	// Brand is the vendor tag; "thermoplan" enables boiler-idle
	// compensation on the coffee wait.
	Brand string
}

type PickupConfig struct {
	// Mode is "rotate" or "sensor".
	Mode string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("BARCTL_PORT", 8100),
		Version: envStr("BARCTL_VERSION", "1.2.0"),
		Recipes: RecipeConfig{
			Path: envStr("BARCTL_RECIPE_PATH", "config/recipe.json"),
		},
		Services: ServiceConfig{
			RobotURL:  envStr("BARCTL_ROBOT_URL", "http://localhost:8300"),
			RobotID:   envStr("BARCTL_ROBOT_ID", "1"),
			IoURL:     envStr("BARCTL_IO_URL", "http://localhost:8400"),
			DeviceURL: envStr("BARCTL_DEVICE_URL", "http://localhost:8500"),
			PickupURL: envStr("BARCTL_PICKUP_URL", "http://localhost:8600"),
		},
		Coffee: CoffeeConfig{
			Brand: envStr("BARCTL_COFFEE_BRAND", ""),
		},
		Pickup: PickupConfig{
			Mode: envStr("BARCTL_PICKUP_MODE", "rotate"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "barctl"),
		},
		Simulation: envBool("BARCTL_SIMULATION", false),
		NotifyURL:  envStr("BARCTL_NOTIFY_URL", ""),
		PerfLogDir: envStr("BARCTL_PERFLOG_DIR", "logs/performance"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
