// pkg/healthcheck/wait.go

package healthcheck

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/telemetry"
	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Options bound the wait.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultOptions polls every 2s for up to 3 minutes.
func DefaultOptions() Options {
	return Options{Timeout: 3 * time.Minute, Interval: 2 * time.Second}
}

// EndpointResult is the verdict for one endpoint.
type EndpointResult struct {
	Check     HealthCheck
	OK        bool
	Attempts  int
	LastError error
	Elapsed   time.Duration
}

// Report aggregates endpoint verdicts in the order the checks were given.
type Report struct {
	Endpoints []EndpointResult
	Elapsed   time.Duration
}

// Failed counts endpoints that never became ready.
func (r *Report) Failed() int {
	n := 0
	for _, e := range r.Endpoints {
		if !e.OK {
			n++
		}
	}
	return n
}

// Err returns one VerificationTimeout per failed endpoint, or nil.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, e := range r.Endpoints {
		if !e.OK {
			result = multierror.Append(result, hearth_err.NewVerificationTimeout(e.Check.Service, e.Elapsed.Round(time.Second), e.LastError))
		}
	}
	return result.ErrorOrNil()
}

// WaitReady polls every check concurrently until ready or timed out. It
// never returns an error; failures are reported per endpoint.
func WaitReady(ctx context.Context, checks []HealthCheck, opts Options) *Report {
	logger := otelzap.Ctx(ctx)
	if opts.Timeout <= 0 || opts.Interval <= 0 {
		def := DefaultOptions()
		if opts.Timeout <= 0 {
			opts.Timeout = def.Timeout
		}
		if opts.Interval <= 0 {
			opts.Interval = def.Interval
		}
	}

	ctx, span := telemetry.Start(ctx, "healthcheck.WaitReady",
		attribute.Int("endpoints", len(checks)),
		attribute.String("timeout", opts.Timeout.String()))
	defer span.End()

	start := time.Now()
	report := &Report{Endpoints: make([]EndpointResult, len(checks))}
	if len(checks) == 0 {
		return report
	}

	p := newProber()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(checks))

	for i, hc := range checks {
		g.Go(func() error {
			report.Endpoints[i] = poll(gctx, p, hc, opts)
			return nil
		})
	}
	_ = g.Wait()
	report.Elapsed = time.Since(start)

	logger.Info("Verification finished",
		zap.Int("endpoints", len(checks)),
		zap.Int("failed", report.Failed()),
		zap.Duration("elapsed", report.Elapsed))
	return report
}

func poll(ctx context.Context, p *prober, hc HealthCheck, opts Options) EndpointResult {
	logger := otelzap.Ctx(ctx).WithOptions(zap.Fields(zap.String("endpoint", hc.String())))
	start := time.Now()
	res := EndpointResult{Check: hc}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(opts.Interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if res.LastError == nil {
				res.LastError = err
			}
			break
		}

		res.Attempts++
		attemptCtx, attemptCancel := context.WithTimeout(ctx, attemptTimeout(opts.Interval))
		err := p.probe(attemptCtx, hc)
		attemptCancel()

		if err == nil {
			res.OK = true
			res.LastError = nil
			break
		}
		res.LastError = err
		logger.Debug("Endpoint not ready", zap.Int("attempt", res.Attempts), zap.Error(err))
	}

	res.Elapsed = time.Since(start)
	if res.OK {
		logger.Info("✓ Endpoint ready", zap.Int("attempts", res.Attempts), zap.Duration("elapsed", res.Elapsed))
	} else {
		logger.Warn("✗ Endpoint not ready before timeout",
			zap.Int("attempts", res.Attempts),
			zap.Duration("elapsed", res.Elapsed),
			zap.Error(res.LastError))
	}
	return res
}
