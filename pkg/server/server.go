// Package server provides the public entry point for initializing the
// bar controller.
//
// This package exists in pkg/ (not internal/) so deployment wrappers
// can compose the controller with their own HTTP middleware.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tableon/barctl/internal/api"
	"github.com/tableon/barctl/internal/api/handlers"
	"github.com/tableon/barctl/internal/config"
	"github.com/tableon/barctl/internal/gateway"
	"github.com/tableon/barctl/internal/notify"
	"github.com/tableon/barctl/internal/order"
	"github.com/tableon/barctl/internal/planner"
	"github.com/tableon/barctl/internal/recipe"
	"github.com/tableon/barctl/internal/scheduler"
	"github.com/tableon/barctl/internal/telemetry"
	"github.com/tableon/barctl/pkg/models"
)

// Server holds the initialized bar controller.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Port is the port the server should listen on.
	Port int

	// Orders is exposed for embedding deployments.
	Orders *order.Manager

	// ShutdownFunc stops the background loops and flushes telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes every component and returns a ready Server. The
// system boots in MANUAL; a mode switch over the API arms it.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	mode := models.NewModeCell()

	robot := gateway.NewHTTPRobot(cfg.Services.RobotURL, cfg.Services.RobotID, mode)
	devices := gateway.NewHTTPDevice(cfg.Services.DeviceURL)
	ioGw := gateway.NewHTTPIo(cfg.Services.IoURL)
	pickup := gateway.NewHTTPPickup(cfg.Services.PickupURL)
	log.Info().
		Str("robot", cfg.Services.RobotURL).
		Str("io", cfg.Services.IoURL).
		Str("device", cfg.Services.DeviceURL).
		Str("pickup", cfg.Services.PickupURL).
		Msg("gateways initialized")

	recipes := recipe.NewStore(cfg.Recipes.Path, cfg.Simulation)
	if err := recipes.Load(); err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}

	pl := planner.New(recipes)

	sched := scheduler.New(robot, devices, ioGw, pickup, mode, scheduler.Config{
		PickupMode:  cfg.Pickup.Mode,
		CoffeeBrand: cfg.Coffee.Brand,
		Simulation:  cfg.Simulation,
	})

	perf, err := order.NewPerfLog(cfg.PerfLogDir)
	if err != nil {
		return nil, fmt.Errorf("init perf log: %w", err)
	}

	events := notify.NewService(cfg.NotifyURL)

	mgr := order.New(mode, sched, pl, robot, pickup, events.Publish, perf)

	sched.SetStatusCallback(mgr.UpdateStatus)
	sched.SetSkipCondition(mgr.HasWaiting)
	sched.SetFailSafe(mgr.FailSafe)
	sched.SetEventSink(events.Publish)
	sched.SetOrderDirectory(mgr)
	sched.SetPlanner(pl)

	sched.Start(ctx)
	mgr.Start(ctx)

	h := handlers.New(mgr, recipes, sched, mode)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler: router,
		Port:    cfg.Port,
		Orders:  mgr,
		ShutdownFunc: func(ctx context.Context) error {
			mgr.Stop()
			sched.Stop()
			return shutdownTelemetry(ctx)
		},
	}, nil
}
