// pkg/provision/report.go

package provision

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/docker"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hostinfo"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Outcome of a single step.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
	OutcomeWarning Outcome = "warning"
)

// StepResult records one step of a phase.
type StepResult struct {
	Phase    State
	Step     string
	Outcome  Outcome
	Detail   string
	Duration time.Duration
}

// Report is the InstallationReport of one run.
type Report struct {
	Command      string
	Steps        []StepResult
	State        State
	Reason       string
	ExitCode     int
	Err          error
	Host         *hostinfo.HostProfile
	Containers   []docker.ContainerStatus
	Verification *healthcheck.Report
	Started      time.Time
	Elapsed      time.Duration
}

func newReport(command string) *Report {
	return &Report{Command: command, State: StateInit, Started: time.Now()}
}

func (r *Report) advance(to State) error {
	if err := checkTransition(r.State, to); err != nil {
		return err
	}
	r.State = to
	if to.Terminal() {
		r.Elapsed = time.Since(r.Started)
	}
	return nil
}

func (r *Report) record(phase State, step string, outcome Outcome, detail string, d time.Duration) {
	r.Steps = append(r.Steps, StepResult{Phase: phase, Step: step, Outcome: outcome, Detail: detail, Duration: d})
}

// Step returns the first recorded step named step.
func (r *Report) Step(step string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == step {
			return s, true
		}
	}
	return StepResult{}, false
}

// Warnings counts warning steps.
func (r *Report) Warnings() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == OutcomeWarning {
			n++
		}
	}
	return n
}

// NotReady counts endpoints the verifier gave up on.
func (r *Report) NotReady() int {
	if r.Verification == nil {
		return 0
	}
	return r.Verification.Failed()
}

var (
	colorSuccess = lipgloss.Color("#00ff00")
	colorWarning = lipgloss.Color("#ffaa00")
	colorError   = lipgloss.Color("#ff0000")
	colorMuted   = lipgloss.Color("#666666")
	colorPrimary = lipgloss.Color("#00ffff")
)

type styles struct {
	title   lipgloss.Style
	phase   lipgloss.Style
	step    lipgloss.Style
	muted   lipgloss.Style
	outcome map[Outcome]lipgloss.Style
}

func newStyles(color bool) styles {
	s := styles{
		title: lipgloss.NewStyle(),
		phase: lipgloss.NewStyle(),
		step:  lipgloss.NewStyle(),
		muted: lipgloss.NewStyle(),
		outcome: map[Outcome]lipgloss.Style{
			OutcomeSuccess: lipgloss.NewStyle(),
			OutcomeFailure: lipgloss.NewStyle(),
			OutcomeSkipped: lipgloss.NewStyle(),
			OutcomeWarning: lipgloss.NewStyle(),
		},
	}
	if !color {
		return s
	}
	s.title = s.title.Bold(true).Foreground(colorPrimary)
	s.phase = s.phase.Foreground(colorMuted)
	s.muted = s.muted.Foreground(colorMuted)
	s.outcome[OutcomeSuccess] = s.outcome[OutcomeSuccess].Foreground(colorSuccess)
	s.outcome[OutcomeFailure] = s.outcome[OutcomeFailure].Bold(true).Foreground(colorError)
	s.outcome[OutcomeSkipped] = s.outcome[OutcomeSkipped].Foreground(colorMuted)
	s.outcome[OutcomeWarning] = s.outcome[OutcomeWarning].Foreground(colorWarning)
	return s
}

func (o Outcome) symbol() string {
	switch o {
	case OutcomeSuccess:
		return "✓"
	case OutcomeFailure:
		return "✗"
	case OutcomeWarning:
		return "⚠"
	default:
		return "-"
	}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Render writes the human-readable report. color enables lipgloss styling.
func (r *Report) Render(w io.Writer, color bool) error {
	st := newStyles(color)
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s\n", st.title.Render(fmt.Sprintf("hearth %s: %s (exit %d, %s)",
		r.Command, r.State, r.ExitCode, r.Elapsed.Round(time.Millisecond))))
	if r.Host != nil {
		fmt.Fprintf(&sb, "%s\n", st.muted.Render("host: "+r.Host.String()))
	}

	if len(r.Steps) > 0 {
		sb.WriteString("\n")
	}
	for _, s := range r.Steps {
		line := st.phase.Render(pad(string(s.Phase), 15)) + st.step.Render(pad(s.Step, 34)) +
			st.outcome[s.Outcome].Render(s.Outcome.symbol()+" "+string(s.Outcome))
		if s.Detail != "" {
			line += "  " + s.Detail
		}
		sb.WriteString(strings.TrimRight(line, " ") + "\n")
	}

	if len(r.Containers) > 0 {
		sb.WriteString("\n" + st.title.Render("Containers") + "\n")
		for _, c := range r.Containers {
			outcome := OutcomeSuccess
			if !c.Running() {
				outcome = OutcomeWarning
			}
			line := "  " + st.step.Render(pad(c.Name, 34)) + st.outcome[outcome].Render(c.State)
			if len(c.Ports) > 0 {
				line += "  " + strings.Join(c.Ports, ", ")
			}
			sb.WriteString(line + "\n")
		}
	}

	if r.Verification != nil && len(r.Verification.Endpoints) > 0 {
		sb.WriteString("\n" + st.title.Render("Verification") + "\n")
		for _, e := range r.Verification.Endpoints {
			if e.OK {
				fmt.Fprintf(&sb, "  %s%s  %d attempt(s), %s\n", st.step.Render(pad(e.Check.String(), 40)),
					st.outcome[OutcomeSuccess].Render("ready"), e.Attempts, e.Elapsed.Round(time.Millisecond))
				continue
			}
			fmt.Fprintf(&sb, "  %s%s  after %s: %v\n", st.step.Render(pad(e.Check.String(), 40)),
				st.outcome[OutcomeWarning].Render("not ready"), e.Elapsed.Round(time.Second), e.LastError)
		}
	}

	if r.State == StateFailed && r.Err != nil {
		sb.WriteString("\n" + st.outcome[OutcomeFailure].Render("FAILED: "+r.Reason) + "\n")
		for _, hint := range hearth_err.Hints(r.Err) {
			sb.WriteString("  hint: " + hint + "\n")
		}
	}
	if n := r.NotReady(); n > 0 {
		sb.WriteString("\n" + st.outcome[OutcomeWarning].Render(
			fmt.Sprintf("WARNING: %d service(s) did not become ready; containers were left running", n)) + "\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// pad left-aligns s in a column of width n, always leaving one space.
func pad(s string, n int) string {
	if len(s) >= n {
		return s + " "
	}
	return s + strings.Repeat(" ", n-len(s))
}

// Print renders the report to f, styled when f is a terminal.
func (r *Report) Print(f *os.File) error {
	return r.Render(f, IsTerminal(f))
}
