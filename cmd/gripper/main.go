package main

import (
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/gwillem/gripper/pkg/gripper"
)

type Options struct {
	Config string `short:"c" long:"config" description:"Configuration file (default gripper.json)"`
	Debug  bool   `long:"debug" description:"Enable debug logging"`

	Run     RunCommand     `command:"run" description:"Run the gripper controller and status API"`
	Setup   SetupCommand   `command:"setup" description:"Find the servo and record open and close positions"`
	Monitor MonitorCommand `command:"monitor" description:"Show live telemetry of a running controller"`
	Info    InfoCommand    `command:"info" description:"Dump the servo registers"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "Gripper - button controlled STS servo gripper with a status API"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func configPath() string {
	if opts.Config != "" {
		return opts.Config
	}
	return gripper.DefaultConfigFile
}
