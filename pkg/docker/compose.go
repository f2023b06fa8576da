// pkg/docker/compose.go
//
// Container convergence through the compose CLI against the rendered
// compose.yaml. Prefers the "docker compose" plugin and falls back to the
// standalone docker-compose binary.

package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/catalog"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ComposeEngine shells out to compose.
type ComposeEngine struct {
	Runner      execute.Runner
	Daemon      *Daemon
	ComposeFile string
	Project     string
}

// NewComposeEngine returns a compose backend for composeFile.
func NewComposeEngine(runner execute.Runner, composeFile string) *ComposeEngine {
	e := &ComposeEngine{Runner: runner, ComposeFile: composeFile, Project: shared.HearthID}
	e.Daemon = NewDaemon(runner, e.serverVersion)
	return e
}

func (e *ComposeEngine) serverVersion(ctx context.Context) (string, error) {
	out, err := e.Runner.Run(ctx, execute.Options{
		Command: "docker",
		Args:    []string{"version", "--format", "{{.Server.Version}}"},
		Timeout: defaultTimeout,
		Capture: true,
	})
	if err != nil {
		return "", cerr.Wrapf(err, "docker version: %s", hearth_err.ExtractSummary(out, 1))
	}
	return strings.TrimSpace(out), nil
}

// EnsureActive implements Engine.
func (e *ComposeEngine) EnsureActive(ctx context.Context) (*EngineInfo, error) {
	return e.Daemon.EnsureActive(ctx)
}

// Close implements Engine.
func (e *ComposeEngine) Close() error { return nil }

// command resolves the compose invocation.
func (e *ComposeEngine) command(ctx context.Context) (string, []string, error) {
	if _, err := e.Runner.Run(ctx, execute.Options{
		Command: "docker",
		Args:    []string{"compose", "version"},
		Timeout: defaultTimeout,
		Capture: true,
	}); err == nil {
		return "docker", []string{"compose"}, nil
	}
	if path, err := e.Runner.LookPath("docker-compose"); err == nil {
		return path, nil, nil
	}
	return "", nil, cerr.New("neither 'docker compose' nor 'docker-compose' is available")
}

// removeByName force-removes any container already holding a spec's name.
// Compose only recreates containers of its own project, so one left by the
// SDK backend or a manual docker run would block up.
func (e *ComposeEngine) removeByName(ctx context.Context, specs []catalog.ServiceSpec) error {
	for _, s := range specs {
		out, err := e.Runner.Run(ctx, execute.Options{
			Command: "docker",
			Args:    []string{"rm", "-f", s.ContainerName()},
			Timeout: defaultTimeout,
			Capture: true,
		})
		if err == nil || strings.Contains(strings.ToLower(out), "no such container") {
			continue
		}
		return hearth_err.NewOrchestrationError(s.Name,
			cerr.Wrapf(err, "remove existing container %s: %s", s.ContainerName(), hearth_err.ExtractSummary(out, 1)))
	}
	return nil
}

// Converge implements Engine. Compose recreates the whole project at once,
// so specs only name the services for reporting.
func (e *ComposeEngine) Converge(ctx context.Context, specs []catalog.ServiceSpec) ([]ServiceResult, error) {
	logger := otelzap.Ctx(ctx)
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}

	bin, prefix, err := e.command(ctx)
	if err != nil {
		return nil, hearth_err.NewOrchestrationError(strings.Join(names, ","), err)
	}

	if err := e.removeByName(ctx, specs); err != nil {
		return nil, err
	}

	args := append(prefix, "-f", e.ComposeFile, "-p", e.Project, "up", "-d", "--force-recreate", "--remove-orphans")
	logger.Info("Converging compose project",
		zap.String("file", e.ComposeFile),
		zap.Strings("services", names))

	start := time.Now()
	out, err := e.Runner.Run(ctx, execute.Options{
		Command: bin,
		Args:    args,
		Timeout: PullTimeout,
		Capture: true,
	})
	if err != nil {
		return nil, hearth_err.NewOrchestrationError(strings.Join(names, ","),
			cerr.Wrap(err, hearth_err.ExtractSummary(out, 2)))
	}

	elapsed := time.Since(start)
	results := make([]ServiceResult, len(specs))
	for i, s := range specs {
		results[i] = ServiceResult{Service: s.Name, Replaced: true, Duration: elapsed}
	}
	return results, nil
}

// psLine is one line of `docker ps --format '{{json .}}'`.
type psLine struct {
	Names  string `json:"Names"`
	Image  string `json:"Image"`
	State  string `json:"State"`
	Status string `json:"Status"`
	Ports  string `json:"Ports"`
	Labels string `json:"Labels"`
}

// List implements Engine.
func (e *ComposeEngine) List(ctx context.Context) ([]ContainerStatus, error) {
	out, err := e.Runner.Run(ctx, execute.Options{
		Command: "docker",
		Args:    []string{"ps", "-a", "--filter", "label=" + shared.LabelManaged + "=true", "--format", "{{json .}}"},
		Timeout: defaultTimeout,
		Capture: true,
	})
	if err != nil {
		return nil, cerr.Wrapf(err, "docker ps: %s", hearth_err.ExtractSummary(out, 1))
	}
	return ParsePS(out)
}

// ParsePS decodes docker ps JSON lines.
func ParsePS(out string) ([]ContainerStatus, error) {
	var list []ContainerStatus
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ps psLine
		if err := json.Unmarshal([]byte(line), &ps); err != nil {
			return nil, cerr.Wrapf(err, "parse docker ps line %q", line)
		}
		st := ContainerStatus{
			Name:   ps.Names,
			Image:  ps.Image,
			State:  ps.State,
			Status: ps.Status,
		}
		for _, kv := range strings.Split(ps.Labels, ",") {
			if k, v, ok := strings.Cut(kv, "="); ok && k == shared.LabelService {
				st.Service = v
			}
		}
		if ps.Ports != "" {
			for _, p := range strings.Split(ps.Ports, ",") {
				st.Ports = append(st.Ports, strings.TrimSpace(p))
			}
		}
		list = append(list, st)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, scanner.Err()
}
