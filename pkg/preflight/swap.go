// pkg/preflight/swap.go

package preflight

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/fileops"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hostinfo"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/docker/go-units"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// SwapAction is what Check did about swap.
type SwapAction int

const (
	SwapNone SwapAction = iota
	SwapAlreadyActive
	SwapCreated
	SwapActivated
	SwapWouldCreate
	SwapWouldActivate
)

func (a SwapAction) String() string {
	switch a {
	case SwapAlreadyActive:
		return "already active"
	case SwapCreated:
		return "created"
	case SwapActivated:
		return "activated"
	case SwapWouldCreate:
		return "would create"
	case SwapWouldActivate:
		return "would activate"
	default:
		return "none"
	}
}

// FstabEntry is the line that makes the swap file persistent.
func FstabEntry(swapFile string) string {
	return swapFile + " none swap sw 0 0"
}

const swapWriteTimeout = 15 * time.Minute

func (c *Checker) ensureSwap(rc *hearth_io.RuntimeContext, host *hostinfo.HostProfile, req Requirements) (SwapAction, error) {
	logger := otelzap.Ctx(rc.Ctx)

	if host.SwapActive {
		logger.Info("Swap already active, no swap action",
			zap.Strings("devices", host.SwapDevices),
			zap.Int64("swap_mb", host.SwapTotalMB))
		return SwapAlreadyActive, nil
	}

	_, statErr := os.Stat(req.SwapFile)
	exists := statErr == nil

	if req.DryRun {
		if exists {
			logger.Info("Dry run: would activate existing swap file", zap.String("path", req.SwapFile))
			return SwapWouldActivate, nil
		}
		logger.Info("Dry run: would create swap file",
			zap.String("path", req.SwapFile),
			zap.String("size", units.BytesSize(float64(req.SwapSizeMB)*units.MiB)))
		return SwapWouldCreate, nil
	}

	action := SwapActivated
	if !exists {
		logger.Info("=== INTERVENE PHASE: Creating swap file ===",
			zap.String("path", req.SwapFile),
			zap.Int64("size_mb", req.SwapSizeMB))
		if err := c.createSwapFile(rc, req); err != nil {
			return SwapNone, err
		}
		action = SwapCreated
	} else {
		logger.Info("Swap file exists but is inactive, activating", zap.String("path", req.SwapFile))
	}

	if _, err := c.Runner.Run(rc.Ctx, execute.Options{Command: "swapon", Args: []string{req.SwapFile}}); err != nil {
		return SwapNone, cerr.Wrapf(err, "failed to activate swap file %s", req.SwapFile)
	}

	appended, err := fileops.AppendLineIfMissing(rc.Ctx, req.FstabPath, FstabEntry(req.SwapFile), shared.FilePermStandard)
	if err != nil {
		return action, cerr.Wrapf(err, "swap active but %s not updated", req.FstabPath)
	}

	logger.Info("=== EVALUATE PHASE: Swap configured ===",
		zap.String("path", req.SwapFile),
		zap.String("action", action.String()),
		zap.Bool("fstab_updated", appended))
	return action, nil
}

func (c *Checker) createSwapFile(rc *hearth_io.RuntimeContext, req Requirements) error {
	logger := otelzap.Ctx(rc.Ctx)
	size := strconv.FormatInt(req.SwapSizeMB, 10)

	_, err := c.Runner.Run(rc.Ctx, execute.Options{
		Command: "fallocate",
		Args:    []string{"-l", size + "M", req.SwapFile},
		Timeout: swapWriteTimeout,
	})
	if err != nil {
		logger.Warn("fallocate failed, falling back to dd", zap.Error(err))
		_, err = c.Runner.Run(rc.Ctx, execute.Options{
			Command: "dd",
			Args:    []string{"if=/dev/zero", "of=" + req.SwapFile, "bs=1M", "count=" + size, "status=none"},
			Timeout: swapWriteTimeout,
		})
		if err != nil {
			_ = os.Remove(req.SwapFile)
			return cerr.Wrapf(err, "failed to allocate swap file %s", req.SwapFile)
		}
	}

	steps := []execute.Options{
		{Command: "chmod", Args: []string{"600", req.SwapFile}},
		{Command: "mkswap", Args: []string{req.SwapFile}, Timeout: 2 * time.Minute},
	}
	for _, step := range steps {
		if _, err := c.Runner.Run(rc.Ctx, step); err != nil {
			_ = os.Remove(req.SwapFile)
			return cerr.Wrapf(err, "swap setup step %q failed", execute.CommandString(step))
		}
	}
	return nil
}

func formatMB(mb int64) string {
	return units.BytesSize(float64(mb) * units.MiB)
}

func formatGB(gb int64) string {
	return fmt.Sprintf("%dGB", gb)
}
