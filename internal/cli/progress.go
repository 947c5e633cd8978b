package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/matzehuels/wheelhouse/pkg/observability"
	"github.com/matzehuels/wheelhouse/pkg/resolver"
)

// tickInterval drives the spinner animation of the live view.
const tickInterval = 80 * time.Millisecond

// recentPins is how many of the latest pins the live view shows.
const recentPins = 8

type pinMsg struct {
	name    string
	version string
	pinned  int
}

type backtrackMsg struct {
	name string
}

type resolveDoneMsg struct {
	result *resolver.Result
	err    error
}

// resolveModel is the bubbletea model behind --progress: a live list of
// the most recent pins with pin and backtrack counters.
type resolveModel struct {
	spinnerFrame int
	recent       []string
	pinned       int
	backtracks   int
	done         bool
}

type tickMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m resolveModel) Init() tea.Cmd {
	return tick()
}

func (m resolveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		m.spinnerFrame++
		return m, tick()
	case pinMsg:
		m.pinned = msg.pinned
		m.recent = append(m.recent, msg.name+" "+msg.version)
		if len(m.recent) > recentPins {
			m.recent = m.recent[len(m.recent)-recentPins:]
		}
		return m, nil
	case backtrackMsg:
		m.backtracks++
		return m, nil
	case resolveDoneMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func (m resolveModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	frame := spinnerFrames[m.spinnerFrame%len(spinnerFrames)]
	b.WriteString(styleIconSpinner.Render(frame) + " " + StyleTitle.Render("Resolving"))
	b.WriteString(StyleDim.Render(fmt.Sprintf("  %d pinned", m.pinned)))
	if m.backtracks > 0 {
		b.WriteString(StyleWarning.Render(fmt.Sprintf("  %d backtracks", m.backtracks)))
	}
	b.WriteString("\n")
	for _, line := range m.recent {
		b.WriteString("  " + StyleDim.Render(iconArrow) + " " + StyleValue.Render(line) + "\n")
	}
	return b.String()
}

// teaHooks forwards resolver events into the running program.
type teaHooks struct {
	program *tea.Program
}

func (h *teaHooks) OnPin(name, version string, pinned int) {
	h.program.Send(pinMsg{name: name, version: version, pinned: pinned})
}

func (h *teaHooks) OnBacktrack(name string, depth int) {
	h.program.Send(backtrackMsg{name: name})
}

// runWithProgress runs resolve under a live progress view. Events reach
// the view through the observability resolver hooks, which are restored
// when the run completes.
func runWithProgress(resolve func() (*resolver.Result, error)) (*resolver.Result, error) {
	program := tea.NewProgram(resolveModel{}, tea.WithOutput(os.Stderr))
	observability.SetResolverHooks(&teaHooks{program: program})
	defer observability.SetResolverHooks(observability.NoopResolverHooks{})

	results := make(chan resolveDoneMsg, 1)
	go func() {
		result, err := resolve()
		done := resolveDoneMsg{result: result, err: err}
		results <- done
		program.Send(done)
	}()

	if _, err := program.Run(); err != nil {
		return nil, err
	}
	done := <-results
	return done.result, done.err
}
