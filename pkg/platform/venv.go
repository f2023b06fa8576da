// pkg/platform/venv.go

package platform

import (
	"context"
	"path/filepath"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/fileops"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// VenvSpec declares a Python virtual environment and its requirements.
type VenvSpec struct {
	Path         string
	Requirements []string
}

// Python returns the interpreter inside the venv.
func (v VenvSpec) Python() string {
	return filepath.Join(v.Path, "bin", "python")
}

// VenvResult describes what EnsureVenv did.
type VenvResult struct {
	Created bool
	Path    string
}

// EnsureVenv creates the venv if it has no interpreter yet, then installs
// the requirements; pip leaves satisfied requirements alone.
func EnsureVenv(ctx context.Context, runner execute.Runner, spec VenvSpec) (*VenvResult, error) {
	logger := otelzap.Ctx(ctx)
	res := &VenvResult{Path: spec.Path}

	if !fileops.Exists(spec.Python()) {
		logger.Info("Creating Python virtual environment", zap.String("path", spec.Path))
		if _, err := runner.Run(ctx, execute.Options{
			Command: "python3",
			Args:    []string{"-m", "venv", spec.Path},
			Timeout: 5 * time.Minute,
		}); err != nil {
			return res, hearth_err.NewPackageInstallError([]string{"python3-venv"}, err)
		}
		res.Created = true
	}

	if len(spec.Requirements) == 0 {
		return res, nil
	}

	logger.Info("Installing Python requirements",
		zap.String("venv", spec.Path),
		zap.Strings("requirements", spec.Requirements))
	args := append([]string{"-m", "pip", "install", "--no-input", "--disable-pip-version-check"}, spec.Requirements...)
	out, err := runner.Run(ctx, execute.Options{
		Command: spec.Python(),
		Args:    args,
		Timeout: 90 * time.Minute,
		Retries: 2,
		Delay:   10 * time.Second,
		Capture: true,
	})
	if err != nil {
		logger.Error("pip install failed", zap.String("summary", hearth_err.ExtractSummary(out, 2)))
		return res, hearth_err.NewPackageInstallError(spec.Requirements, err)
	}
	return res, nil
}
