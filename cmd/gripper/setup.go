package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/gripper/pkg/gripper"
	"github.com/gwillem/gripper/pkg/sts"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// minTravel is the smallest open/close distance accepted without a warning.
const minTravel = 100

type SetupCommand struct {
	MaxID int `long:"max-id" default:"20" description:"Highest servo ID to scan for"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Gripper Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := gripper.LoadConfigFrom(configPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if gripper.ConfigExists(configPath()) {
		fmt.Println(dimStyle.Render("Updating " + configPath()))
		fmt.Println()
	}

	// Step 1: find the servo
	candidate, err := c.selectServo()
	if err != nil {
		return err
	}
	cfg.Port = candidate.port
	cfg.ServoID = candidate.servo.ID
	if cfg.BaudRate == 0 {
		cfg.BaudRate = sts.DefaultBaudRate
	}

	// Step 2: record positions
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Recording Gripper Positions ━━━"))
	fmt.Println()
	positions, err := recordPositions(candidate, cfg.Positions)
	if err != nil {
		return err
	}
	cfg.Positions = positions

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveTo(configPath()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", configPath())
	fmt.Printf("  Port:   %s\n", cfg.Port)
	fmt.Printf("  Servo:  %d\n", cfg.ServoID)
	fmt.Printf("  Open:   %d\n", cfg.Positions.Open)
	fmt.Printf("  Close:  %d\n", cfg.Positions.Close)
	fmt.Println()
	fmt.Println("Start the controller with: " + headerStyle.Render("gripper run"))

	return nil
}

type servoCandidate struct {
	port  string
	servo feetech.FoundServo
}

func (c servoCandidate) String() string {
	return fmt.Sprintf("%s  id %d  model %d", c.port, c.servo.ID, c.servo.ModelNumber)
}

func (c *SetupCommand) selectServo() (servoCandidate, error) {
	fmt.Println("Scanning serial ports for STS servos...")
	fmt.Println()

	candidates := findServos(c.MaxID)
	switch len(candidates) {
	case 0:
		fmt.Println("No servos found.")
		fmt.Println("Make sure the servo is connected and powered on.")
		return servoCandidate{}, errors.New("no servo found")
	case 1:
		fmt.Printf("Found one servo: %s\n", candidates[0])
		return candidates[0], nil
	}

	options := make([]huh.Option[int], 0, len(candidates))
	for i, cand := range candidates {
		options = append(options, huh.NewOption(cand.String(), i))
	}

	var choice int
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().
				Title("Which servo drives the gripper?").
				Description(fmt.Sprintf("%d servos found", len(candidates))).
				Options(options...).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return servoCandidate{}, fmt.Errorf("select servo: %w", err)
	}
	return candidates[choice], nil
}

func findServos(maxID int) []servoCandidate {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var found []servoCandidate
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		bus, err := openBus(port)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		servos, err := bus.Scan(ctx, 1, maxID)
		cancel()
		bus.Close()
		if err != nil {
			continue
		}

		for _, s := range servos {
			fmt.Printf("  Found servo %d on %s\n", s.ID, port)
			found = append(found, servoCandidate{port: port, servo: s})
		}
	}
	return found
}

func openBus(port string) (*feetech.Bus, error) {
	return feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: sts.DefaultBaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
}

func recordPositions(cand servoCandidate, current gripper.Positions) (gripper.Positions, error) {
	bus, err := openBus(cand.port)
	if err != nil {
		return current, fmt.Errorf("open %s: %w", cand.port, err)
	}
	defer bus.Close()

	servo := feetech.NewServo(bus, cand.servo.ID, cand.servo.Model)

	// Torque off so the jaws can be moved by hand
	ctx := context.Background()
	if err := servo.Disable(ctx); err != nil {
		return current, fmt.Errorf("disable torque: %w", err)
	}

	fmt.Println("Move the gripper by hand.")
	fmt.Println("Press 'o' at the open position and 'c' at the closed position.")
	fmt.Println()

	p := tea.NewProgram(newRecorderModel(servo, current))
	final, err := p.Run()
	if err != nil {
		return current, fmt.Errorf("run recorder: %w", err)
	}

	m := final.(recorderModel)
	if m.aborted {
		return current, errors.New("setup aborted")
	}
	if d := m.positions.Close - m.positions.Open; d < minTravel && d > -minTravel {
		fmt.Printf("Warning: open and close are only %d steps apart\n", d)
	}
	return m.positions, nil
}

// Position recorder TUI model
type recorderModel struct {
	servo     *feetech.Servo
	current   int
	readErr   error
	positions gripper.Positions
	aborted   bool
	done      bool
}

type tickMsg time.Time

func newRecorderModel(servo *feetech.Servo, positions gripper.Positions) recorderModel {
	return recorderModel{servo: servo, positions: positions}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m recorderModel) Init() tea.Cmd {
	return tick()
}

func (m recorderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "o":
			m.positions.Open = m.current
		case "c":
			m.positions.Close = m.current
		case "enter":
			m.done = true
			return m, tea.Quit
		case "q", "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		}

	case tickMsg:
		pos, err := m.servo.Position(context.Background())
		m.readErr = err
		if err == nil {
			m.current = pos
		}
		return m, tick()
	}

	return m, nil
}

func (m recorderModel) View() string {
	if m.done || m.aborted {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableLabelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)

	travel := "-"
	if m.positions.Open != m.positions.Close {
		travel = fmt.Sprintf("%.0f%%", m.positions.Travel(m.current))
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("", "Position").
		Rows(
			[]string{"Current", fmt.Sprintf("%d", m.current)},
			[]string{"Open", fmt.Sprintf("%d", m.positions.Open)},
			[]string{"Close", fmt.Sprintf("%d", m.positions.Close)},
			[]string{"Travel", travel},
		).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case col == 0:
				return tableLabelStyle
			case row == 0:
				return tableCurrentStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	if m.readErr != nil {
		sb.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("Read failed: " + m.readErr.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString(dimStyle.Render("o: set open  c: set close  enter: save  q: abort"))

	return sb.String()
}
