package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/gripper/pkg/api"
	"github.com/gwillem/gripper/pkg/gripper"
)

type MonitorCommand struct {
	URL string `short:"u" long:"url" default:"http://localhost:80" description:"Base URL of a running controller"`
	Hz  int    `long:"hz" default:"5" description:"Poll frequency"`
}

const (
	headerHeight = 3 // title, readout, blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Chart series, all scaled to -100..100
const (
	seriesTravel = "travel"
	seriesLoad   = "load"
	seriesTemp   = "temperature"
)

var seriesColors = map[string]string{
	seriesTravel: "46",  // green
	seriesLoad:   "208", // orange
	seriesTemp:   "196", // red
}

var seriesOrder = []string{seriesTravel, seriesLoad, seriesTemp}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// statusClient fetches telemetry from the status API.
type statusClient struct {
	baseURL string
	http    *http.Client
}

func newStatusClient(baseURL string, timeout time.Duration) *statusClient {
	return &statusClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *statusClient) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *statusClient) Status(ctx context.Context) (api.StatusResponse, error) {
	var s api.StatusResponse
	err := c.get(ctx, "/api/status", &s)
	return s, err
}

func (c *statusClient) Health(ctx context.Context) (api.HealthResponse, error) {
	var h api.HealthResponse
	err := c.get(ctx, "/api/health", &h)
	return h, err
}

type monitorModel struct {
	client   *statusClient
	period   time.Duration
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	quitting bool

	health   api.HealthResponse
	status   api.StatusResponse
	haveData bool
	lastErr  string
}

// Messages from the poller
type statusMsg struct {
	status api.StatusResponse
	err    error
}

type healthMsg struct {
	health api.HealthResponse
	err    error
}

func (m *monitorModel) addLog(msg string) {
	m.logs = append(m.logs, time.Now().Format(time.TimeOnly)+" "+msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m monitorModel) pollStatus(delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.period)
		defer cancel()
		s, err := m.client.Status(ctx)
		return statusMsg{status: s, err: err}
	})
}

func (m monitorModel) pollHealth() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		h, err := m.client.Health(ctx)
		return healthMsg{health: h, err: err}
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *monitorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *monitorModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialMonitorModel(client *statusClient, hz int) monitorModel {
	if hz <= 0 {
		hz = 5
	}

	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-100, 100),
	)
	for _, name := range seriesOrder {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name]))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}

	return monitorModel{
		client: client,
		period: time.Second / time.Duration(hz),
		chart:  &chart,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.pollHealth(), m.pollStatus(0))
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case healthMsg:
		if msg.err != nil {
			m.addLog("health: " + msg.err.Error())
			return m, nil
		}
		if m.health.Instance != "" && m.health.Instance != msg.health.Instance {
			m.addLog("controller restarted")
		}
		m.health = msg.health
		return m, nil

	case statusMsg:
		if msg.err != nil {
			if e := msg.err.Error(); e != m.lastErr {
				m.addLog(e)
				m.lastErr = e
			}
			return m, m.pollStatus(m.period)
		}
		m.lastErr = ""
		if msg.status.Stale && !m.status.Stale {
			m.addLog("servo not answering, showing last reading")
		}
		m.status = msg.status
		m.haveData = true
		m.pushSample(msg.status)

		cmd := m.pollStatus(m.period)
		if m.health.Instance == "" {
			// Positions are needed for the travel series
			return m, tea.Batch(cmd, m.pollHealth())
		}
		return m, cmd
	}

	return m, nil
}

func (m *monitorModel) pushSample(s api.StatusResponse) {
	for name, v := range chartValues(s, m.health.Positions) {
		m.chart.PushDataSet(name, v)
	}
	m.chart.DrawAll()
}

// chartValues scales a reading into the chart range.
func chartValues(s api.StatusResponse, positions gripper.Positions) map[string]float64 {
	return map[string]float64{
		seriesTravel: clamp(positions.Travel(s.Position)),
		seriesLoad:   clamp(float64(s.Torque) / 10),
		seriesTemp:   clamp(float64(s.Temperature)),
	}
}

func clamp(v float64) float64 {
	return max(-100, min(100, v))
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Monitor stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Gripper Monitor"))
	sb.WriteString(" - " + m.client.baseURL)
	if m.health.Instance != "" {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%s, up %s]", m.health.State, m.health.Uptime)))
	}
	sb.WriteString("\n")
	sb.WriteString(m.readout())
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m monitorModel) readout() string {
	if !m.haveData {
		return statusStyle.Render("waiting for telemetry...")
	}
	s := m.status
	line := fmt.Sprintf("pos %d  current %d mA  %.1f V  load %d  %d°C",
		s.Position, s.Current, s.Voltage, s.Torque, s.Temperature)
	if s.Stale {
		return staleStyle.Render(line + "  (stale)")
	}
	return line
}

func renderLegend() string {
	labels := map[string]string{
		seriesTravel: "travel %",
		seriesLoad:   "load / 10",
		seriesTemp:   "temperature °C",
	}
	var items []string
	for _, name := range seriesOrder {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+labels[name])
	}
	return strings.Join(items, "  ")
}

func (c *MonitorCommand) Execute(args []string) error {
	client := newStatusClient(c.URL, 2*time.Second)

	p := tea.NewProgram(initialMonitorModel(client, c.Hz), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run monitor: %w", err)
	}
	return nil
}
