// pkg/execute/execute.go

package execute

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every command that does not set its own timeout.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is matched by errors.Is on commands killed by their timeout.
var ErrTimeout = context.DeadlineExceeded

// Options describes a single command invocation. Commands are never run
// through a shell.
type Options struct {
	Command string
	Args    []string
	Dir     string
	// Env is appended to the runner's minimal base environment.
	Env     []string
	Timeout time.Duration
	// Retries is the total number of attempts; values below 1 mean one.
	Retries int
	Delay   time.Duration
	Capture bool
	DryRun  bool
	// Redact lists argument values masked in logs, spans and errors.
	Redact  []string
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, opts Options) (string, error)
	LookPath(name string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// BaseEnv is the complete environment inherited by every command.
	BaseEnv []string
	// Stream receives live output when set, in addition to the capture buffer.
	Stream io.Writer
}

// NewRunner returns an ExecRunner with the minimal base environment.
func NewRunner() *ExecRunner {
	return &ExecRunner{BaseEnv: BaseEnvironment()}
}

// BaseEnvironment is the environment every command starts from.
func BaseEnvironment() []string {
	return []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"LANG=C.UTF-8",
		"LC_ALL=C.UTF-8",
	}
}

// Run executes a command with structured logging and proper error handling.
func (r *ExecRunner) Run(ctx context.Context, opts Options) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := otelzap.Ctx(ctx)
	cmdStr := CommandString(opts)

	ctx, span := telemetry.Start(ctx, "execute.Run",
		attribute.String("command", opts.Command),
		attribute.String("args", strings.Join(redactArgs(opts.Args, opts.Redact), " ")),
	)
	defer span.End()

	if opts.DryRun {
		logger.Info("Dry run mode - command not executed", zap.String("command", cmdStr))
		return "", nil
	}

	attempts := max(1, opts.Retries)
	timeout := defaultTimeout(opts.Timeout)

	var (
		output string
		err    error
	)
	for i := 1; i <= attempts; i++ {
		logger.Debug("Starting execution", zap.String("command", cmdStr), zap.Int("attempt", i))

		output, err = r.runOnce(ctx, opts, timeout)
		if err == nil {
			logger.Debug("Execution succeeded", zap.String("command", cmdStr))
			break
		}

		span.RecordError(err)
		logger.Warn("Execution failed",
			zap.String("command", cmdStr),
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.String("summary", redactArgs([]string{hearth_err.ExtractSummary(output, 2)}, opts.Redact)[0]),
			zap.Error(err),
		)

		if errors.Is(err, ErrTimeout) || ctx.Err() != nil || i == attempts {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(opts.Delay):
		}
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if opts.Capture {
			return output, err
		}
		return "", err
	}
	if opts.Capture {
		return output, nil
	}
	return "", nil
}

func (r *ExecRunner) runOnce(ctx context.Context, opts Options, timeout time.Duration) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bin := opts.Command
	if !strings.Contains(bin, "/") {
		resolved, err := r.LookPath(bin)
		if err != nil {
			return "", cerr.Wrapf(err, "command failed: %s", CommandString(opts))
		}
		bin = resolved
	}

	cmd := exec.CommandContext(cmdCtx, bin, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(append([]string{}, r.BaseEnv...), opts.Env...)

	var buf bytes.Buffer
	var w io.Writer = &buf
	if r.Stream != nil {
		w = io.MultiWriter(r.Stream, &buf)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	output := buf.String()
	if err == nil {
		return output, nil
	}

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return output, cerr.Wrapf(ErrTimeout, "command timed out after %s: %s", timeout, opts.Command)
	}
	if ctx.Err() != nil {
		return output, cerr.Wrapf(ctx.Err(), "command cancelled: %s", opts.Command)
	}
	return output, cerr.Wrapf(err, "command failed: %s", CommandString(opts))
}

// LookPath resolves a binary against the base PATH. Run uses the same
// lookup, so the process PATH never decides which binary executes.
func (r *ExecRunner) LookPath(name string) (string, error) {
	for _, kv := range r.BaseEnv {
		if dirs, ok := strings.CutPrefix(kv, "PATH="); ok {
			for _, dir := range strings.Split(dirs, ":") {
				if p, err := exec.LookPath(dir + "/" + name); err == nil {
					return p, nil
				}
			}
			return "", cerr.Wrapf(exec.ErrNotFound, "%s not found in PATH", name)
		}
	}
	return exec.LookPath(name)
}
