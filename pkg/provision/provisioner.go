// pkg/provision/provisioner.go

package provision

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/catalog"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/config"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/docker"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hostinfo"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/platform"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/preflight"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/secrets"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/telemetry"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/templates"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Credentials file keys for Node-RED material derived from its login.
const (
	nodeREDHashKey   = "NODERED_ADMIN_HASH"
	nodeREDSecretKey = "NODERED_CREDENTIAL_SECRET"
)

// HostDetector reads the host profile.
type HostDetector interface {
	Detect(ctx context.Context) (*hostinfo.HostProfile, error)
}

// EngineFactory opens the container backend for a plan.
type EngineFactory func(ctx context.Context, plan *Plan) (docker.Engine, error)

// WaitFunc runs the readiness checks.
type WaitFunc func(ctx context.Context, checks []healthcheck.HealthCheck, opts healthcheck.Options) *healthcheck.Report

// Provisioner wires the phase components together. Every field may be
// replaced before Run; New fills in the production implementations.
type Provisioner struct {
	Runner    execute.Runner
	Host      HostDetector
	Checker   *preflight.Checker
	Installer platform.Installer
	Passwd    *secrets.PasswdWriter
	NewEngine EngineFactory
	Wait      WaitFunc
	// Chown hands rendered service directories to container users. Nil keeps
	// the configurator default.
	Chown func(path string, uid, gid int) error
}

// New returns a Provisioner that acts on the local host through runner.
func New(runner execute.Runner) *Provisioner {
	return &Provisioner{
		Runner:    runner,
		Checker:   preflight.NewChecker(runner),
		Installer: platform.NewAptInstaller(runner),
		Passwd:    secrets.NewPasswdWriter(runner),
		NewEngine: DefaultEngineFactory(runner),
		Wait:      healthcheck.WaitReady,
	}
}

// DefaultEngineFactory picks the SDK or compose backend from the plan.
func DefaultEngineFactory(runner execute.Runner) EngineFactory {
	return func(ctx context.Context, plan *Plan) (docker.Engine, error) {
		if plan.Orchestrator == config.OrchestratorCompose {
			return docker.NewComposeEngine(runner, plan.ComposeFile()), nil
		}
		engine, err := docker.NewSDKEngine(runner, plan.BaseDir)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
}

type phase struct {
	state State
	run   func(rc *hearth_io.RuntimeContext, plan *Plan, report *Report) error
}

// Run converges the host to plan. Phases run strictly in sequence and the
// first fatal error ends the run in StateFailed; the returned error then
// carries a re-run hint and maps to the process exit code. The report is
// always returned, also on failure.
func (p *Provisioner) Run(rc *hearth_io.RuntimeContext, plan *Plan) (*Report, error) {
	logger := otelzap.Ctx(rc.Ctx)
	report := newReport("install")
	if plan.DryRun {
		report.Command = "check"
	}

	logger.Info("Starting provisioning run",
		zap.Strings("services", plan.ServiceNames()),
		zap.String("profile", plan.Profile),
		zap.String("orchestrator", plan.Orchestrator),
		zap.String("base_dir", plan.BaseDir),
		zap.String("credential_policy", string(plan.Policy)),
		zap.Bool("dry_run", plan.DryRun))

	phases := []phase{
		{StateChecking, p.check},
		{StateInstalling, p.install},
		{StateConfiguring, p.configure},
		{StateOrchestrating, p.orchestrate},
		{StateVerifying, p.verify},
	}
	for _, ph := range phases {
		if err := p.runPhase(rc, ph, plan, report); err != nil {
			return report, err
		}
		if ph.state == StateChecking && plan.DryRun {
			p.recordPlanned(plan, report)
			break
		}
	}

	if err := report.advance(StateDone); err != nil {
		return report, err
	}
	logger.Info("Provisioning run complete",
		zap.String("state", string(report.State)),
		zap.Int("warnings", report.Warnings()),
		zap.Int("not_ready", report.NotReady()),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

// Verify runs only the readiness checks for the plan's services.
func (p *Provisioner) Verify(rc *hearth_io.RuntimeContext, plan *Plan) (*Report, error) {
	report := newReport("verify")
	if err := p.runPhase(rc, phase{StateVerifying, p.verify}, plan, report); err != nil {
		return report, err
	}
	return report, report.advance(StateDone)
}

// Status lists hearth-managed containers without changing anything.
func (p *Provisioner) Status(rc *hearth_io.RuntimeContext, plan *Plan) ([]docker.ContainerStatus, error) {
	engine, err := p.NewEngine(rc.Ctx, plan)
	if err != nil {
		return nil, err
	}
	defer func() { _ = engine.Close() }()

	list, err := engine.List(rc.Ctx)
	if err != nil {
		return nil, hearth_err.NewEngineUnavailable(err)
	}
	return list, nil
}

func (p *Provisioner) runPhase(rc *hearth_io.RuntimeContext, ph phase, plan *Plan, report *Report) error {
	if err := report.advance(ph.state); err != nil {
		return err
	}

	ctx, span := telemetry.Start(rc.Ctx, "provision."+string(ph.state),
		attribute.StringSlice("services", plan.ServiceNames()))
	defer span.End()
	prc := *rc
	prc.Ctx = ctx

	otelzap.Ctx(ctx).Info(fmt.Sprintf("=== %s PHASE ===", strings.ToUpper(string(ph.state))))
	start := time.Now()
	err := ph.run(&prc, plan, report)
	if err == nil {
		otelzap.Ctx(ctx).Debug("Phase complete",
			zap.String("phase", string(ph.state)),
			zap.Duration("duration", time.Since(start)))
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return p.fail(&prc, plan, report, err)
}

func (p *Provisioner) fail(rc *hearth_io.RuntimeContext, plan *Plan, report *Report, err error) error {
	hinted := hearth_err.WithRerunHint(err, plan.Rerun)
	failed := report.State
	if terr := report.advance(StateFailed); terr != nil {
		return cerr.CombineErrors(hinted, terr)
	}
	report.Reason = err.Error()
	if pe, ok := hearth_err.AsProvisionError(err); ok {
		report.Reason = pe.Describe()
	}
	report.ExitCode = hearth_err.GetExitCode(err)
	report.Err = hinted

	otelzap.Ctx(rc.Ctx).Error("Provisioning failed",
		zap.String("phase", string(failed)),
		zap.Int("exit_code", report.ExitCode),
		zap.String("rerun", plan.Rerun),
		zap.Error(err))
	return hinted
}

// check: host detection, preconditions and swap.
func (p *Provisioner) check(rc *hearth_io.RuntimeContext, plan *Plan, report *Report) error {
	start := time.Now()
	detector := p.Host
	if detector == nil {
		detector = hostinfo.NewDetector(plan.BaseDir)
	}
	host, err := detector.Detect(rc.Ctx)
	if err != nil {
		report.record(StateChecking, "host", OutcomeFailure, err.Error(), time.Since(start))
		return cerr.Wrap(err, "failed to detect host profile")
	}
	report.Host = host
	report.record(StateChecking, "host", OutcomeSuccess, host.String(), time.Since(start))

	start = time.Now()
	res, err := p.Checker.Check(rc, host, plan.Requirements)
	elapsed := time.Since(start)
	if res != nil {
		for _, c := range res.Checks {
			switch {
			case c.Warning != "":
				report.record(StateChecking, c.Name, OutcomeWarning, c.Warning, 0)
			case c.Passed:
				report.record(StateChecking, c.Name, OutcomeSuccess, c.Detail, 0)
			default:
				report.record(StateChecking, c.Name, OutcomeFailure, c.Detail, 0)
			}
		}
		if res.Swap != preflight.SwapNone {
			report.record(StateChecking, "swap", OutcomeSuccess, res.Swap.String(), elapsed)
		}
	}
	return err
}

// recordPlanned lists what a real run would do after Checking.
func (p *Provisioner) recordPlanned(plan *Plan, report *Report) {
	report.record(StateInstalling, "packages", OutcomeSkipped, "would install: "+plan.Packages.String(), 0)
	if plan.Venv != nil {
		report.record(StateInstalling, "vision-venv", OutcomeSkipped, "would create "+plan.Venv.Path, 0)
	}
	for _, s := range plan.Services {
		report.record(StateOrchestrating, "container/"+s.Name, OutcomeSkipped, "would run "+s.Image, 0)
	}
}

func (p *Provisioner) install(rc *hearth_io.RuntimeContext, plan *Plan, report *Report) error {
	res, err := p.Installer.Install(rc.Ctx, plan.Packages)
	if err != nil {
		report.record(StateInstalling, "packages", OutcomeFailure, err.Error(), durationOf(res))
		return err
	}
	detail := fmt.Sprintf("%d installed, %d already present", len(res.Installed), len(res.Skipped))
	if res.Repaired {
		detail += ", dpkg repaired"
	}
	report.record(StateInstalling, "packages", OutcomeSuccess, detail, res.Duration)

	if plan.Venv == nil {
		return nil
	}
	start := time.Now()
	vr, err := platform.EnsureVenv(rc.Ctx, p.Runner, *plan.Venv)
	if err != nil {
		report.record(StateInstalling, "vision-venv", OutcomeFailure, err.Error(), time.Since(start))
		return err
	}
	detail = "up to date"
	if vr.Created {
		detail = "created"
	}
	report.record(StateInstalling, "vision-venv", OutcomeSuccess, detail+" at "+vr.Path, time.Since(start))
	return nil
}

func durationOf(res *platform.InstallResult) time.Duration {
	if res == nil {
		return 0
	}
	return res.Duration
}

// configure: credentials first, then rendered files, then the broker
// password file. All of it lands before any container starts.
func (p *Provisioner) configure(rc *hearth_io.RuntimeContext, plan *Plan, report *Report) error {
	p.releaseHostBroker(rc, plan, report)

	store := secrets.NewStore(plan.CredentialsFile)
	creds := make(map[string]*secrets.Credential)
	for _, spec := range plan.Services {
		if spec.Credential == "" {
			continue
		}
		start := time.Now()
		cred, created, err := store.Ensure(rc, spec.Name, spec.Credential, plan.Policy)
		if err != nil {
			report.record(StateConfiguring, "credentials/"+spec.Name, OutcomeFailure, err.Error(), time.Since(start))
			return err
		}
		detail := "preserved"
		if created {
			detail = "generated"
		}
		report.record(StateConfiguring, "credentials/"+spec.Name, OutcomeSuccess, detail+" for "+cred.Username, time.Since(start))
		creds[spec.Name] = cred
	}

	data, err := p.templateData(rc, plan, store, creds)
	if err != nil {
		report.record(StateConfiguring, "credentials/"+catalog.NodeRED, OutcomeFailure, err.Error(), 0)
		return err
	}

	conf := templates.NewConfigurator(plan.BaseDir, logger.L())
	if p.Chown != nil {
		conf.Chown = p.Chown
	}
	start := time.Now()
	files, err := conf.Configure(rc.Ctx, plan.Services, data)
	if err != nil {
		report.record(StateConfiguring, "config", OutcomeFailure, err.Error(), time.Since(start))
		return err
	}
	for _, f := range files {
		report.record(StateConfiguring, relPath(plan.BaseDir, f.Path), OutcomeSuccess, f.Status, 0)
	}

	if spec, ok := plan.Service(catalog.Mosquitto); ok && creds[catalog.Mosquitto] != nil {
		start := time.Now()
		out, err := p.Passwd.Write(rc.Ctx, plan.PasswdFile(), []secrets.Credential{*creds[catalog.Mosquitto]}, spec.OwnerUID, spec.OwnerGID)
		step := relPath(plan.BaseDir, plan.PasswdFile())
		if err != nil {
			report.record(StateConfiguring, step, OutcomeFailure, err.Error(), time.Since(start))
			return err
		}
		report.record(StateConfiguring, step, OutcomeSuccess, out.String(), time.Since(start))
	}
	return nil
}

func (p *Provisioner) templateData(rc *hearth_io.RuntimeContext, plan *Plan, store *secrets.Store, creds map[string]*secrets.Credential) (templates.Data, error) {
	data := templates.Data{
		BaseDir:         plan.BaseDir,
		TimeZone:        plan.TimeZone,
		CredentialsFile: plan.CredentialsFile,
		MQTT: templates.MQTTData{
			Host:          shared.DockerBridgeGateway,
			Port:          shared.PortMosquitto,
			WebSocketPort: shared.PortMosquittoWS,
		},
		NodeRED:       templates.NodeREDData{Port: shared.PortNodeRED},
		HomeAssistant: templates.HomeAssistantData{Port: shared.PortHomeAssistant},
	}
	if c := creds[catalog.Mosquitto]; c != nil {
		data.MQTT.User = c.Username
	}

	c := creds[catalog.NodeRED]
	if c == nil {
		return data, nil
	}
	hash, err := store.EnsureBcrypt(rc.Ctx, nodeREDHashKey, c.Password)
	if err != nil {
		return data, err
	}
	secret, err := store.EnsureValue(rc.Ctx, nodeREDSecretKey, nil, func() (string, error) {
		return secrets.GeneratePassword(secrets.DefaultPasswordLength)
	})
	if err != nil {
		return data, err
	}
	data.NodeRED.AdminUser = c.Username
	data.NodeRED.AdminHash = hash
	data.NodeRED.CredentialSecret = secret
	return data, nil
}

// releaseHostBroker stops the distribution's mosquitto unit. The package is
// installed for mosquitto_passwd only; the containerised broker needs 1883.
func (p *Provisioner) releaseHostBroker(rc *hearth_io.RuntimeContext, plan *Plan, report *Report) {
	if _, ok := plan.Service(catalog.Mosquitto); !ok || !plan.Packages.Contains("mosquitto") {
		return
	}
	logger := otelzap.Ctx(rc.Ctx)

	_, enabledErr := p.Runner.Run(rc.Ctx, execute.Options{Command: "systemctl", Args: []string{"is-enabled", "--quiet", "mosquitto"}})
	_, activeErr := p.Runner.Run(rc.Ctx, execute.Options{Command: "systemctl", Args: []string{"is-active", "--quiet", "mosquitto"}})
	if enabledErr != nil && activeErr != nil {
		report.record(StateConfiguring, "host-mosquitto", OutcomeSkipped, "unit not enabled", 0)
		return
	}

	start := time.Now()
	if _, err := p.Runner.Run(rc.Ctx, execute.Options{
		Command: "systemctl",
		Args:    []string{"disable", "--now", "mosquitto"},
		Timeout: time.Minute,
	}); err != nil {
		logger.Warn("Could not disable host mosquitto unit; port 1883 may be taken", zap.Error(err))
		report.record(StateConfiguring, "host-mosquitto", OutcomeWarning, err.Error(), time.Since(start))
		return
	}
	logger.Info("Disabled host mosquitto unit")
	report.record(StateConfiguring, "host-mosquitto", OutcomeSuccess, "unit disabled", time.Since(start))
}

func relPath(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func (p *Provisioner) orchestrate(rc *hearth_io.RuntimeContext, plan *Plan, report *Report) error {
	logger := otelzap.Ctx(rc.Ctx)

	start := time.Now()
	engine, err := p.NewEngine(rc.Ctx, plan)
	if err != nil {
		report.record(StateOrchestrating, "engine", OutcomeFailure, err.Error(), time.Since(start))
		return err
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			logger.Debug("Closing engine client", zap.Error(closeErr))
		}
	}()

	info, err := engine.EnsureActive(rc.Ctx)
	if err != nil {
		report.record(StateOrchestrating, "engine", OutcomeFailure, err.Error(), time.Since(start))
		return err
	}
	detail := "docker " + info.Version
	if info.Started {
		detail += ", service started"
	}
	if info.Outdated {
		report.record(StateOrchestrating, "engine", OutcomeWarning,
			detail+" is older than "+docker.MinEngineVersion, time.Since(start))
	} else {
		report.record(StateOrchestrating, "engine", OutcomeSuccess, detail, time.Since(start))
	}

	results, err := engine.Converge(rc.Ctx, plan.Services)
	for _, r := range results {
		detail := "created"
		if r.Replaced {
			detail = "replaced"
		}
		if r.Pulled {
			detail += ", image pulled"
		}
		report.record(StateOrchestrating, "container/"+r.Service, OutcomeSuccess, detail, r.Duration)
	}
	if err != nil {
		step := "converge"
		if pe, ok := hearth_err.AsProvisionError(err); ok && pe.Subject != "" {
			step = "container/" + pe.Subject
		}
		report.record(StateOrchestrating, step, OutcomeFailure, err.Error(), 0)
		return err
	}

	list, err := engine.List(rc.Ctx)
	if err != nil {
		logger.Warn("Could not list managed containers", zap.Error(err))
		report.record(StateOrchestrating, "containers", OutcomeWarning, err.Error(), 0)
		return nil
	}
	report.Containers = list
	return nil
}

// verify never fails the run; unready endpoints become warnings.
func (p *Provisioner) verify(rc *hearth_io.RuntimeContext, plan *Plan, report *Report) error {
	logger := otelzap.Ctx(rc.Ctx)
	wait := p.Wait
	if wait == nil {
		wait = healthcheck.WaitReady
	}

	vr := wait(rc.Ctx, plan.HealthChecks(), plan.Verify)
	report.Verification = vr
	for _, e := range vr.Endpoints {
		if e.OK {
			report.record(StateVerifying, "ready/"+e.Check.Service, OutcomeSuccess, e.Check.String(), e.Elapsed)
			continue
		}
		detail := e.Check.String()
		if e.LastError != nil {
			detail += ": " + e.LastError.Error()
		}
		report.record(StateVerifying, "ready/"+e.Check.Service, OutcomeWarning, detail, e.Elapsed)
	}

	if err := vr.Err(); err != nil {
		logger.Warn("Some services did not become ready",
			zap.Int("not_ready", vr.Failed()),
			zap.Error(err))
	}
	return nil
}
