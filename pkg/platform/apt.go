// pkg/platform/apt.go

package platform

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// InstallResult describes what an install did.
type InstallResult struct {
	Installed []string
	Skipped   []string
	Repaired  bool
	Duration  time.Duration
}

// Installer installs OS packages idempotently.
type Installer interface {
	Install(ctx context.Context, set *PackageSet) (*InstallResult, error)
}

const (
	aptUpdateTimeout  = 10 * time.Minute
	aptInstallTimeout = 45 * time.Minute
)

// AptInstaller installs packages with apt-get on Debian-family hosts.
type AptInstaller struct {
	Runner execute.Runner
}

// NewAptInstaller creates a new APT installer
func NewAptInstaller(runner execute.Runner) *AptInstaller {
	return &AptInstaller{Runner: runner}
}

var aptEnv = []string{"DEBIAN_FRONTEND=noninteractive", "APT_LISTCHANGES_FRONTEND=none"}

// Install refreshes the package index and installs every package in set that
// is not yet installed, in one apt-get invocation. On failure it runs a
// repair pass and retries exactly once.
func (a *AptInstaller) Install(ctx context.Context, set *PackageSet) (*InstallResult, error) {
	logger := otelzap.Ctx(ctx)
	start := time.Now()
	res := &InstallResult{}
	defer func() { res.Duration = time.Since(start) }()

	if set.Len() == 0 {
		logger.Info("No packages requested")
		return res, nil
	}

	logger.Info("Assessing installed packages", zap.Strings("packages", set.Names()))
	installed := a.installed(ctx, set.Names())
	var missing []string
	for _, name := range set.Names() {
		if installed[name] {
			res.Skipped = append(res.Skipped, name)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		logger.Info("All packages already installed", zap.Strings("skipped", res.Skipped))
		return res, nil
	}

	logger.Info("Installing packages",
		zap.Strings("missing", missing),
		zap.Strings("already_installed", res.Skipped))

	if _, err := a.Runner.Run(ctx, execute.Options{
		Command: "apt-get",
		Args:    []string{"update"},
		Env:     aptEnv,
		Timeout: aptUpdateTimeout,
		Retries: 2,
		Delay:   5 * time.Second,
	}); err != nil {
		if cerr.Is(err, execute.ErrTimeout) || ctx.Err() != nil {
			return res, hearth_err.NewPackageInstallError(missing, cerr.Wrap(err, "apt-get update"))
		}
		logger.Warn("apt-get update failed, continuing with cached index", zap.Error(err))
	}

	out, err := a.install(ctx, missing)
	if err == nil {
		res.Installed = missing
		logger.Info("Packages installed", zap.Strings("installed", missing))
		return res, nil
	}
	if ctx.Err() != nil {
		return res, hearth_err.NewPackageInstallError(missing, err)
	}

	logger.Warn("Install failed, running repair pass",
		zap.String("summary", hearth_err.ExtractSummary(out, 2)),
		zap.Error(err))
	res.Repaired = true
	a.repair(ctx)

	out, err = a.install(ctx, missing)
	if err == nil {
		res.Installed = missing
		logger.Info("Packages installed after repair", zap.Strings("installed", missing))
		return res, nil
	}

	after := a.installed(ctx, missing)
	var still []string
	for _, name := range missing {
		if after[name] {
			res.Installed = append(res.Installed, name)
		} else {
			still = append(still, name)
		}
	}
	if len(still) == 0 {
		still = missing
	}
	summary := hearth_err.ExtractSummary(out, 2)
	logger.Error("Package installation failed after repair pass",
		zap.Strings("packages", still),
		zap.String("summary", summary))
	return res, hearth_err.NewPackageInstallError(still, cerr.WithDetail(err, summary))
}

func (a *AptInstaller) install(ctx context.Context, pkgs []string) (string, error) {
	args := append([]string{"install", "-y", "--no-install-recommends"}, pkgs...)
	return a.Runner.Run(ctx, execute.Options{
		Command: "apt-get",
		Args:    args,
		Env:     aptEnv,
		Timeout: aptInstallTimeout,
		Capture: true,
	})
}

func (a *AptInstaller) repair(ctx context.Context) {
	logger := otelzap.Ctx(ctx)
	steps := []execute.Options{
		{Command: "dpkg", Args: []string{"--configure", "-a"}, Env: aptEnv, Timeout: aptInstallTimeout},
		{Command: "apt-get", Args: []string{"-f", "install", "-y"}, Env: aptEnv, Timeout: aptInstallTimeout},
	}
	for _, step := range steps {
		if _, err := a.Runner.Run(ctx, step); err != nil {
			logger.Warn("Repair step failed", zap.String("command", execute.CommandString(step)), zap.Error(err))
		}
	}
}

// installed queries dpkg for the install state of names.
func (a *AptInstaller) installed(ctx context.Context, names []string) map[string]bool {
	args := append([]string{"-W", "-f=${Package}\t${db:Status-Status}\n"}, names...)
	out, err := a.Runner.Run(ctx, execute.Options{Command: "dpkg-query", Args: args, Capture: true})
	if err != nil {
		// dpkg-query exits non-zero when any name is unknown; the rest of
		// the output is still valid.
		otelzap.Ctx(ctx).Debug("dpkg-query reported unknown packages", zap.Error(err))
	}
	return ParseDpkgStatus(out)
}

// ParseDpkgStatus parses "name<TAB>status" lines into the set of installed names.
func ParseDpkgStatus(out string) map[string]bool {
	installed := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		name, status, ok := strings.Cut(scanner.Text(), "\t")
		if !ok {
			continue
		}
		if strings.TrimSpace(status) == "installed" {
			installed[strings.TrimSpace(name)] = true
		}
	}
	return installed
}
