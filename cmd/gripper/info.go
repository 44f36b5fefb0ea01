package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/gripper/pkg/gripper"
	"github.com/gwillem/gripper/pkg/servosim"
	"github.com/gwillem/gripper/pkg/sts"
)

type InfoCommand struct {
	Port string `short:"p" long:"port" description:"Serial port (overrides config)"`
	ID   int    `long:"id" description:"Servo ID (overrides config)"`
	Sim  bool   `long:"sim" description:"Query a simulated servo"`
}

func (c *InfoCommand) Execute(args []string) error {
	cfg, err := gripper.LoadConfigFrom(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.Port != "" {
		cfg.Port = c.Port
	}
	if c.ID != 0 {
		cfg.ServoID = c.ID
	}

	var transport sts.Transport
	if c.Sim {
		transport = servosim.New(servosim.Config{ID: cfg.ServoID})
	} else {
		if cfg.Port == "" {
			return fmt.Errorf("no serial port configured, pass --port or run 'gripper setup'")
		}
		port, err := sts.OpenSerial(cfg.Port, cfg.BaudRate)
		if err != nil {
			return err
		}
		defer port.Close()
		transport = port
	}

	client := sts.NewClient(transport, sts.ClientConfig{Timeout: cfg.BusTimeout()})
	return printServoInfo(context.Background(), os.Stdout, client, cfg)
}

func printServoInfo(ctx context.Context, w io.Writer, client *sts.Client, cfg *gripper.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	model, err := client.Ping(ctx, cfg.ServoID)
	if err != nil {
		return fmt.Errorf("ping servo %d: %w", cfg.ServoID, err)
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Servo %d", cfg.ServoID))+dimStyle.Render(fmt.Sprintf("  model %d", model)))
	fmt.Fprintln(w)

	rows := make([][]string, 0, len(sts.Registers))
	for _, reg := range sts.Registers {
		value := "-"
		if v, err := client.ReadRegister(ctx, cfg.ServoID, reg); err == nil {
			value = fmt.Sprintf("%d", v)
		}
		rows = append(rows, []string{fmt.Sprintf("%d", reg.Address), reg.Name, value})
	}

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableNameStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Addr", "Register", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case col == 1:
				return tableNameStyle
			default:
				return tableCellStyle
			}
		})
	fmt.Fprintln(w, t.Render())

	sample, err := client.ReadTelemetry(ctx, cfg.ServoID)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Travel: %.0f%% (open %d, close %d)\n",
		cfg.Positions.Travel(sample.Position), cfg.Positions.Open, cfg.Positions.Close)
	fmt.Fprintf(w, "Supply: %.1f V  Current: %d mA\n", sample.Volts(), sample.ScaledCurrent())
	return nil
}
