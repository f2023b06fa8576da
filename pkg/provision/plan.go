// Package provision runs the provisioning state machine: preconditions,
// packages, configuration and secrets, containers, then advisory health
// checks. Each phase is a separate component; this package only sequences
// them, records what each did and maps the first fatal error to an exit code.
package provision

import (
	"path/filepath"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/catalog"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/config"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/platform"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/preflight"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/secrets"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
)

// Plan is everything a run needs, resolved from configuration and the
// catalog before the first side effect.
type Plan struct {
	Profile         string
	Services        []catalog.ServiceSpec
	Packages        *platform.PackageSet
	Venv            *platform.VenvSpec
	Requirements    preflight.Requirements
	Policy          secrets.Policy
	Orchestrator    string
	BaseDir         string
	CredentialsFile string
	TimeZone        string
	Verify          healthcheck.Options
	DryRun          bool
	// Rerun is the command line suggested after a fatal error.
	Rerun string
}

// NewPlan resolves cfg against the catalog.
func NewPlan(cfg *config.Config) (*Plan, error) {
	tz := cfg.TimeZone
	if tz == "" {
		tz = "UTC"
	}

	sel, err := catalog.Select(cfg.Services, cfg.Profile, catalog.SelectOptions{
		BaseDir:     cfg.BaseDir,
		TimeZone:    tz,
		WithCompose: cfg.Orchestrator == config.OrchestratorCompose,
	})
	if err != nil {
		return nil, err
	}

	return &Plan{
		Profile:  sel.Profile.Name,
		Services: sel.Services,
		Packages: sel.Packages,
		Venv:     sel.Venv,
		Requirements: preflight.Requirements{
			ExpectedArch: cfg.Arch,
			MinRAMMB:     cfg.MinRAMMB,
			MinDiskGB:    cfg.MinDiskGB,
			SwapSizeMB:   cfg.SwapSizeMB,
			SwapFile:     cfg.SwapFile,
			FstabPath:    shared.FstabPath,
			DryRun:       cfg.DryRun,
		},
		Policy:          secrets.PolicyFor(cfg.RotateCredentials),
		Orchestrator:    cfg.Orchestrator,
		BaseDir:         cfg.BaseDir,
		CredentialsFile: cfg.CredentialsFile,
		TimeZone:        tz,
		Verify:          healthcheck.Options{Timeout: cfg.VerifyTimeout, Interval: cfg.VerifyInterval},
		DryRun:          cfg.DryRun,
		Rerun:           cfg.RerunCommand(),
	}, nil
}

// Service returns the selected spec named name.
func (p *Plan) Service(name string) (catalog.ServiceSpec, bool) {
	for _, s := range p.Services {
		if s.Name == name {
			return s, true
		}
	}
	return catalog.ServiceSpec{}, false
}

// ServiceNames lists the selected services in converge order.
func (p *Plan) ServiceNames() []string {
	names := make([]string, len(p.Services))
	for i, s := range p.Services {
		names[i] = s.Name
	}
	return names
}

// ComposeFile is where the compose project is rendered.
func (p *Plan) ComposeFile() string {
	return filepath.Join(p.BaseDir, shared.HearthComposeFileName)
}

// PasswdFile is the broker's hashed password file.
func (p *Plan) PasswdFile() string {
	return filepath.Join(p.BaseDir, catalog.Mosquitto, "config", "passwd")
}

// HealthChecks returns one readiness check per selected service.
func (p *Plan) HealthChecks() []healthcheck.HealthCheck {
	checks := make([]healthcheck.HealthCheck, 0, len(p.Services))
	for _, s := range p.Services {
		checks = append(checks, s.HealthCheck())
	}
	return checks
}
