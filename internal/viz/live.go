package viz

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/loopsim/internal/control"
	"github.com/san-kum/loopsim/internal/sim"
)

const (
	graphWidth  = 60
	graphHeight = 12
)

type TickMsg time.Time

// Options tune the live view.
type Options struct {
	Interval       time.Duration
	Window         int
	PulseMagnitude float64
	PulseSteps     int
	Theme          string
}

// tunable is a live parameter adjustable from the keyboard.
type tunable struct {
	name   string
	get    func(sim.Config) float64
	set    func(*sim.Config, float64)
	adjust func(v float64, dir int) float64
}

func scaled(v float64, dir int) float64 {
	if v == 0 && dir > 0 {
		return 0.1
	}
	if dir > 0 {
		return v * 1.05
	}
	return v * 0.95
}

func stepBy(delta, floor float64) func(float64, int) float64 {
	return func(v float64, dir int) float64 {
		return math.Max(floor, v+float64(dir)*delta)
	}
}

var tunables = []tunable{
	{"Setpoint", func(c sim.Config) float64 { return c.Setpoint }, func(c *sim.Config, v float64) { c.Setpoint = v }, stepBy(1, math.Inf(-1))},
	{"Kp", func(c sim.Config) float64 { return c.Controller.Kp }, func(c *sim.Config, v float64) { c.Controller.Kp = v }, scaled},
	{"Ti", func(c sim.Config) float64 { return c.Controller.Ti }, func(c *sim.Config, v float64) { c.Controller.Ti = v }, scaled},
	{"Td", func(c sim.Config) float64 { return c.Controller.Td }, func(c *sim.Config, v float64) { c.Controller.Td = v }, stepBy(0.1, 0)},
	{"Manual out", func(c sim.Config) float64 { return c.Controller.ManualOutput }, func(c *sim.Config, v float64) { c.Controller.ManualOutput = v }, stepBy(5, 0)},
	{"Noise std", func(c sim.Config) float64 { return c.Disturbance.NoiseStd }, func(c *sim.Config, v float64) { c.Disturbance.NoiseStd = v }, stepBy(0.1, 0)},
	{"Dead time", func(c sim.Config) float64 { return c.Process.DeadTime }, func(c *sim.Config, v float64) { c.Process.DeadTime = v }, stepBy(1, 0)},
}

// Model is the Bubble Tea model of the live view.
type Model struct {
	engine     *sim.Engine
	interval   time.Duration
	window     int
	windowed   bool
	pulseMag   float64
	pulseSteps int

	selected int
	theme    Theme
	styles   styles
	showHelp bool
	status   string
	last     sim.StepResult
}

func NewModel(e *sim.Engine, opts Options) Model {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Window <= 0 {
		opts.Window = 30
	}
	if opts.PulseSteps <= 0 {
		opts.PulseSteps = 3
	}
	theme := GetTheme(opts.Theme)
	return Model{
		engine:     e,
		interval:   opts.Interval,
		window:     opts.Window,
		pulseMag:   opts.PulseMagnitude,
		pulseSteps: opts.PulseSteps,
		theme:      theme,
		styles:     newStyles(theme),
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.toggle()
		case "s":
			m.step(true)
		case "r":
			m.report(m.engine.Reset(), "reset")
			m.last = sim.StepResult{}
		case "p":
			m.report(m.engine.TriggerPulse(m.pulseMag, m.pulseSteps),
				fmt.Sprintf("pulse %+.1f for %d steps", m.pulseMag, m.pulseSteps))
		case "c":
			m.cycleVariant()
		case "tab":
			m.selected = (m.selected + 1) % len(tunables)
		case "up", "k":
			m.adjust(1)
		case "down", "j":
			m.adjust(-1)
		case "w":
			m.windowed = !m.windowed
		case "t":
			m.theme = NextTheme(m.theme)
			m.styles = newStyles(m.theme)
		case "?":
			m.showHelp = !m.showHelp
		}
	case TickMsg:
		if m.engine.State() == sim.Running {
			m.step(false)
		}
		return m, m.tick()
	}
	return m, nil
}

func (m *Model) report(err error, ok string) {
	if err != nil {
		m.status = err.Error()
		return
	}
	m.status = ok
}

func (m *Model) toggle() {
	var err error
	switch m.engine.State() {
	case sim.Idle, sim.Paused:
		err = m.engine.Start()
	case sim.Running:
		err = m.engine.Pause()
	case sim.AutoPaused:
		err = m.engine.Resume()
	default:
		err = errors.New("press r to reset")
	}
	m.report(err, "")
}

func (m *Model) step(single bool) {
	res, err := m.engine.Step(single)
	if err != nil {
		m.status = err.Error()
		return
	}
	if res.Advanced {
		m.last = res
	}
	switch res.State {
	case sim.AutoPaused:
		if !single {
			m.status = "converged, press space to resume"
		}
	case sim.Completed:
		m.status = "step limit reached"
	}
}

func (m *Model) cycleVariant() {
	cfg := m.engine.Config()
	variants := control.Variants()
	for i, v := range variants {
		if v == cfg.Controller.Variant {
			cfg.Controller.Variant = variants[(i+1)%len(variants)]
			break
		}
	}
	m.report(m.engine.Configure(cfg), "controller "+string(cfg.Controller.Variant))
}

func (m *Model) adjust(dir int) {
	t := tunables[m.selected]
	cfg := m.engine.Config()
	v := t.adjust(t.get(cfg), dir)
	t.set(&cfg, v)
	msg := fmt.Sprintf("%s = %.3g", t.name, v)
	if m.engine.Config().Process.DeadTime != cfg.Process.DeadTime {
		msg += " (applies on reset)"
	}
	m.report(m.engine.Configure(cfg), msg)
}

func (m Model) stateLabel(s sim.State) string {
	label := strings.ToUpper(strings.ReplaceAll(s.String(), "_", " "))
	switch s {
	case sim.Running:
		return m.styles.running.Render(label)
	case sim.Faulted:
		return m.styles.faulted.Render(label)
	default:
		return m.styles.paused.Render(label)
	}
}

// visible trims series to the plot window when windowed mode is on.
func (m Model) visible(series []float64) []float64 {
	if m.windowed && len(series) > m.window {
		return series[len(series)-m.window:]
	}
	return series
}

func (m Model) View() string {
	h := m.engine.History()
	cfg := m.engine.Config()
	clock := m.engine.Clock()
	state := m.engine.State()

	var left strings.Builder
	left.WriteString(m.styles.header.Render(fmt.Sprintf("LOOPSIM  %s", strings.ToUpper(string(cfg.Controller.Variant)))) + "\n")
	left.WriteString(m.stateLabel(state))
	if m.status != "" {
		left.WriteString("  " + m.status)
	}
	left.WriteString("\n")

	pv, sp := m.visible(h.Values), m.visible(h.Setpoints)
	if len(pv) > 1 {
		chart := asciigraph.PlotMany([][]float64{pv, sp},
			asciigraph.Height(graphHeight),
			asciigraph.Width(graphWidth),
			asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow),
			asciigraph.Caption("process value / setpoint"))
		left.WriteString(m.styles.graph.Render(chart) + "\n")
	}
	out := m.visible(h.Outputs)
	left.WriteString(m.styles.label.Render("Output") + Sparkline(out, cfg.OutputMin, cfg.OutputMax, graphWidth) + "\n")
	left.WriteString(m.styles.label.Render("Progress") + ProgressBar(float64(clock.Step)/float64(clock.MaxSteps), graphWidth/2) +
		fmt.Sprintf(" %d/%d", clock.Step, clock.MaxSteps) + "\n")

	right := m.statsView(h, cfg, clock)
	main := lipgloss.JoinHorizontal(lipgloss.Top, left.String(), m.styles.panel.Render(right))
	if m.showHelp {
		return helpText + "\n" + main
	}
	return main
}

func (m Model) statsView(h sim.History, cfg sim.Config, clock sim.Clock) string {
	var s strings.Builder
	row := func(label, value string) {
		s.WriteString(m.styles.label.Render(label) + m.styles.value.Render(value) + "\n")
	}

	row("Time", fmt.Sprintf("%.1f", clock.Time()))
	if last, ok := h.Last(); ok {
		row("PV", fmt.Sprintf("%.2f", last.Value))
		s.WriteString(m.styles.label.Render("SP") + m.styles.setpoint.Render(fmt.Sprintf("%.2f", last.Setpoint)) + "\n")
		row("Output", fmt.Sprintf("%.2f", last.Output))
		row("Error", fmt.Sprintf("%.2f", last.Error))
	}
	if m.last.Advanced && cfg.Controller.Variant == control.VariantPID {
		t := m.last.Terms
		row("P / I / D", fmt.Sprintf("%.1f / %.1f / %.1f", t.P, t.I, t.D))
		if t.Saturated {
			row("", m.styles.paused.Render("saturated"))
		}
	}
	if g := m.engine.ControllerParams(); g != nil {
		ti := "off"
		if g["Ti"] < control.InfiniteTi {
			ti = fmt.Sprintf("%.3g", g["Ti"])
		}
		row("Gains", fmt.Sprintf("Kp %.3g Ti %s Td %.3g", g["Kp"], ti, g["Td"]))
	}
	if n := m.engine.PulseRemaining(); n > 0 {
		row("Pulse", fmt.Sprintf("%d steps left", n))
	}

	s.WriteString("\nPERFORMANCE\n")
	perf := m.engine.Metrics()
	if !perf.Valid {
		s.WriteString(m.styles.value.Render("  collecting...") + "\n")
	} else {
		row("Overshoot", fmt.Sprintf("%.2f (%.1f%%)", perf.Overshoot, perf.OvershootPct))
		row("Rise time", formatTime(perf.RiseTime))
		row("Settling", formatTime(perf.SettlingTime))
		row("SS error", fmt.Sprintf("%.2f", perf.SteadyStateError))
		row("IAE", fmt.Sprintf("%.1f", perf.IAE))
	}

	s.WriteString("\nTUNING\n")
	for i, t := range tunables {
		line := fmt.Sprintf("%-10s %8.3g", t.name, t.get(cfg))
		if i == m.selected {
			s.WriteString(m.styles.active.Render("> "+line) + "\n")
		} else {
			s.WriteString("  " + m.styles.value.Render(line) + "\n")
		}
	}
	if m.engine.PendingReset() {
		s.WriteString(m.styles.paused.Render("reset to apply dead time") + "\n")
	}
	s.WriteString(m.styles.help.Render("SPC:Run/Pause S:Step R:Reset P:Pulse\nC:Controller TAB/↑↓:Tune W:Window ?:Help Q:Quit"))
	return s.String()
}

func formatTime(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.1f", v)
}

const helpText = `
╔══════════════════════════════════════╗
║          KEYBOARD SHORTCUTS          ║
╠══════════════════════════════════════╣
║  Space    - Start / pause / resume   ║
║  S        - Single step              ║
║  R        - Reset                    ║
║  P        - Disturbance pulse        ║
║  C        - Cycle controller         ║
║  Tab      - Select tunable           ║
║  Up/K     - Increase tunable         ║
║  Down/J   - Decrease tunable         ║
║  W        - Toggle plot window       ║
║  T        - Cycle themes             ║
║  ?        - Toggle this help         ║
║  Q        - Quit                     ║
╚══════════════════════════════════════╝
`

// Run starts the live view on the terminal and blocks until the user quits.
func Run(e *sim.Engine, opts Options) error {
	_, err := tea.NewProgram(NewModel(e, opts), tea.WithAltScreen()).Run()
	return err
}
