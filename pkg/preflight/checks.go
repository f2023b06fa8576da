// Package preflight verifies a host can be provisioned and creates swap on
// low-memory boards.
//
// Checks run in a fixed order: privilege, disk, architecture, RAM. A fatal
// check aborts before any later check runs, so a disk failure never leaves
// a swap file behind.
package preflight

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hostinfo"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Requirements are the thresholds a host is checked against.
type Requirements struct {
	ExpectedArch string
	MinRAMMB     int64
	MinDiskGB    int64
	SwapSizeMB   int64
	SwapFile     string
	FstabPath    string
	DryRun       bool
}

// CheckResult records one check.
type CheckResult struct {
	Name    string
	Passed  bool
	Detail  string
	Warning string
	Error   error
}

// Result is the outcome of Check.
type Result struct {
	Checks   []CheckResult
	Swap     SwapAction
	Warnings []error
}

// Checker runs the precondition checks.
type Checker struct {
	Runner  execute.Runner
	Geteuid func() int
}

// NewChecker returns a Checker using the process euid.
func NewChecker(runner execute.Runner) *Checker {
	return &Checker{Runner: runner, Geteuid: os.Geteuid}
}

// Check evaluates host against req. A returned error is always a fatal
// *hearth_err.ProvisionError; non-fatal findings land in Result.Warnings.
func (c *Checker) Check(rc *hearth_io.RuntimeContext, host *hostinfo.HostProfile, req Requirements) (*Result, error) {
	logger := otelzap.Ctx(rc.Ctx)
	req = req.withDefaults()
	res := &Result{}

	logger.Info("=== ASSESS PHASE: Running preflight checks ===",
		zap.String("host", host.String()),
		zap.Bool("dry_run", req.DryRun))

	// Privilege
	if euid := c.Geteuid(); euid != 0 {
		err := hearth_err.NewInsufficientPrivilege(euid)
		res.fail("privilege", err)
		logger.Error("✗ Check failed (REQUIRED)", zap.String("check", "privilege"), zap.Int("euid", euid))
		return res, err
	}
	res.pass("privilege", "running as root")

	// Disk
	if host.FreeDiskGB < req.MinDiskGB {
		err := hearth_err.NewInsufficientResources("disk", host.FreeDiskGB, req.MinDiskGB, "GB")
		res.fail("disk", err)
		logger.Error("✗ Check failed (REQUIRED)", zap.String("check", "disk"),
			zap.Int64("free_gb", host.FreeDiskGB), zap.Int64("required_gb", req.MinDiskGB))
		return res, err
	}
	res.pass("disk", formatGB(host.FreeDiskGB)+" free")

	// Architecture
	if !hostinfo.SameArch(host.Arch, req.ExpectedArch) {
		err := hearth_err.NewUnsupportedArchitecture(host.Arch, hostinfo.NormalizeArch(req.ExpectedArch))
		res.warn("architecture", err)
		logger.Warn("⚠ Check failed (optional)", zap.String("check", "architecture"), zap.Error(err))
	} else {
		res.pass("architecture", host.Arch)
	}

	// RAM
	if host.TotalRAMMB >= req.MinRAMMB {
		res.pass("memory", formatMB(host.TotalRAMMB))
		logger.Info("✓ All preflight checks passed")
		return res, nil
	}

	logger.Info("RAM below threshold, ensuring swap",
		zap.Int64("ram_mb", host.TotalRAMMB),
		zap.Int64("threshold_mb", req.MinRAMMB))

	action, err := c.ensureSwap(rc, host, req)
	res.Swap = action
	if err != nil {
		res.warn("memory", err)
		logger.Warn("⚠ Swap could not be configured", zap.Error(err))
		return res, nil
	}
	res.pass("memory", formatMB(host.TotalRAMMB)+", swap "+action.String())
	return res, nil
}

func (r Requirements) withDefaults() Requirements {
	if r.SwapFile == "" {
		r.SwapFile = shared.SwapFilePath
	}
	if r.FstabPath == "" {
		r.FstabPath = shared.FstabPath
	}
	if r.SwapSizeMB <= 0 {
		r.SwapSizeMB = 2048
	}
	return r
}

func (r *Result) pass(name, detail string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Passed: true, Detail: detail})
}

func (r *Result) fail(name string, err error) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Error: err, Detail: err.Error()})
}

func (r *Result) warn(name string, err error) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Passed: true, Warning: err.Error(), Error: err})
	r.Warnings = append(r.Warnings, err)
}
