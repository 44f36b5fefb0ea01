package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gwillem/gripper/pkg/api"
	"github.com/gwillem/gripper/pkg/arbiter"
	"github.com/gwillem/gripper/pkg/control"
	"github.com/gwillem/gripper/pkg/gripper"
	"github.com/gwillem/gripper/pkg/input"
	"github.com/gwillem/gripper/pkg/servosim"
	"github.com/gwillem/gripper/pkg/sts"
)

type RunCommand struct {
	Listen    string        `short:"l" long:"listen" description:"HTTP listen address (overrides config)"`
	Sim       bool          `long:"sim" description:"Use a simulated servo and a button that toggles by itself"`
	SimToggle time.Duration `long:"sim-toggle" default:"3s" description:"Button period in simulation mode"`
}

func (c *RunCommand) Execute(args []string) error {
	log := newLogger()

	cfg, err := gripper.LoadConfigFrom(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}

	transport, in, cleanup, err := c.openHardware(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	client := sts.NewClient(transport, sts.ClientConfig{Timeout: cfg.BusTimeout()})
	ctrl := control.NewController(control.Config{
		ServoID:           cfg.ServoID,
		Machine:           cfg.MachineConfig(),
		EnableTorque:      cfg.EnableTorque,
		PollInterval:      cfg.PollInterval(),
		StatusTimeout:     cfg.StatusTimeout(),
		TelemetryInterval: cfg.TelemetryInterval(),
	}, arbiter.New(client), in, log.With().Str("component", "control").Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if model, err := ctrl.Probe(ctx); err != nil {
		log.Warn().Err(err).Int("servo", cfg.ServoID).Msg("Servo did not answer ping, continuing")
	} else {
		log.Info().Int("servo", cfg.ServoID).Int("model", model).Msg("Servo found")
	}

	apiServer := api.NewServer(ctrl, cfg.Positions, log.With().Str("component", "api").Logger())
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Str("instance", apiServer.Instance().String()).Msg("Status API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- ctrl.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-serveErr:
		stop()
		<-loopDone
		return fmt.Errorf("serve http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openHardware returns the servo transport and the button input, either
// real or simulated.
func (c *RunCommand) openHardware(cfg *gripper.Config, log zerolog.Logger) (sts.Transport, input.Reader, func(), error) {
	if c.Sim {
		servo := servosim.New(servosim.Config{ID: cfg.ServoID, Motion: true})
		log.Info().Dur("toggle", c.SimToggle).Msg("Simulation mode")
		return servo, input.NewToggle(c.SimToggle), func() { _ = servo.Close() }, nil
	}

	if cfg.Port == "" {
		return nil, nil, nil, fmt.Errorf("no serial port configured, run 'gripper setup' or set GRIPPER_PORT")
	}

	port, err := sts.OpenSerial(cfg.Port, cfg.BaudRate)
	if err != nil {
		return nil, nil, nil, err
	}

	button, err := input.OpenGPIO(input.GPIOConfig{
		Chip:   cfg.Button.Chip,
		Line:   cfg.Button.Line,
		PullUp: cfg.Button.PullUp,
	})
	if err != nil {
		port.Close()
		return nil, nil, nil, err
	}

	log.Info().
		Str("port", cfg.Port).
		Int("baud", cfg.BaudRate).
		Str("chip", cfg.Button.Chip).
		Int("line", cfg.Button.Line).
		Msg("Hardware opened")

	return port, button, func() {
		button.Close()
		port.Close()
	}, nil
}
