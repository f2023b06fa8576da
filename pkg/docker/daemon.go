// pkg/docker/daemon.go

package docker

import (
	"context"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/go-version"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// MinEngineVersion is the oldest engine hearth has been run against.
const MinEngineVersion = "20.10"

// EngineInfo describes the daemon once it answered.
type EngineInfo struct {
	Version  string
	Started  bool
	Outdated bool
	Attempts int
}

// Backoff bounds the wait for the daemon to come up.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Budget  time.Duration
}

// DefaultBackoff waits 1s, 2s, 4s, 8s, 16s, 16s... for at most a minute.
var DefaultBackoff = Backoff{Initial: time.Second, Max: 16 * time.Second, Budget: time.Minute}

// Daemon brings the engine's systemd unit up and waits for its API.
type Daemon struct {
	Runner  execute.Runner
	Unit    string
	Backoff Backoff
	// Probe answers the daemon's version once its API responds.
	Probe func(ctx context.Context) (string, error)
	// Sleep waits d or until ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewDaemon returns a daemon controller for the docker unit.
func NewDaemon(runner execute.Runner, probe func(ctx context.Context) (string, error)) *Daemon {
	return &Daemon{
		Runner:  runner,
		Unit:    "docker",
		Backoff: DefaultBackoff,
		Probe:   probe,
		Sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Daemon) isActive(ctx context.Context) bool {
	out, err := d.Runner.Run(ctx, execute.Options{
		Command: "systemctl",
		Args:    []string{"is-active", d.Unit},
		Capture: true,
	})
	return err == nil && strings.TrimSpace(out) == "active"
}

// EnsureActive starts the unit if needed and polls until both systemd and
// the API report the daemon up, backing off exponentially within the budget.
func (d *Daemon) EnsureActive(ctx context.Context) (*EngineInfo, error) {
	logger := otelzap.Ctx(ctx)
	info := &EngineInfo{}

	logger.Info("Assessing container engine", zap.String("unit", d.Unit))
	if !d.isActive(ctx) {
		logger.Info("Starting container engine", zap.String("unit", d.Unit))
		if _, err := d.Runner.Run(ctx, execute.Options{
			Command: "systemctl",
			Args:    []string{"start", d.Unit},
			Timeout: 90 * time.Second,
			Capture: true,
		}); err != nil {
			logger.Warn("systemctl start failed, still polling", zap.Error(err))
		}
		info.Started = true
	}

	var (
		lastErr error
		waited  time.Duration
		delay   = d.Backoff.Initial
	)
	for {
		info.Attempts++
		if d.isActive(ctx) {
			v, err := d.Probe(ctx)
			if err == nil {
				info.Version = v
				break
			}
			lastErr = err
		} else {
			lastErr = cerr.Newf("unit %s is not active", d.Unit)
		}

		if waited+delay > d.Backoff.Budget {
			return info, hearth_err.NewEngineUnavailable(
				cerr.Wrapf(lastErr, "engine not ready after %s (%d attempts)", waited, info.Attempts))
		}
		logger.Debug("Container engine not ready, backing off",
			zap.Duration("delay", delay),
			zap.Int("attempt", info.Attempts),
			zap.Error(lastErr))
		if err := d.Sleep(ctx, delay); err != nil {
			return info, hearth_err.NewEngineUnavailable(err)
		}
		waited += delay
		delay *= 2
		if delay > d.Backoff.Max {
			delay = d.Backoff.Max
		}
	}

	info.Outdated = outdated(info.Version)
	if info.Outdated {
		logger.Warn("Container engine is older than tested minimum",
			zap.String("version", info.Version),
			zap.String("minimum", MinEngineVersion))
	}
	logger.Info("Container engine active",
		zap.String("version", info.Version),
		zap.Bool("started", info.Started),
		zap.Int("attempts", info.Attempts))
	return info, nil
}

// outdated reports whether v is below MinEngineVersion. Unparseable
// versions are not flagged.
func outdated(v string) bool {
	have, err := version.NewVersion(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return have.LessThan(version.Must(version.NewVersion(MinEngineVersion)))
}
