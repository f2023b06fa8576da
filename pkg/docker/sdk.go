// pkg/docker/sdk.go
//
// Container convergence through the Docker Engine API.

package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/catalog"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PullTimeout bounds a single image pull; large images on eMMC are slow.
const PullTimeout = 30 * time.Minute

// SDKEngine drives the daemon through its API.
type SDKEngine struct {
	API     API
	Daemon  *Daemon
	BaseDir string
}

// NewSDKEngine connects to the local daemon from the environment.
func NewSDKEngine(runner execute.Runner, baseDir string) (*SDKEngine, error) {
	cli, err := New()
	if err != nil {
		return nil, hearth_err.NewEngineUnavailable(cerr.Wrap(err, "failed to create Docker client"))
	}
	return NewSDKEngineWithAPI(cli, runner, baseDir), nil
}

// NewSDKEngineWithAPI builds an engine over an existing API.
func NewSDKEngineWithAPI(api API, runner execute.Runner, baseDir string) *SDKEngine {
	e := &SDKEngine{API: api, BaseDir: baseDir}
	e.Daemon = NewDaemon(runner, func(ctx context.Context) (string, error) { return Ping(ctx, api) })
	return e
}

// EnsureActive implements Engine.
func (e *SDKEngine) EnsureActive(ctx context.Context) (*EngineInfo, error) {
	return e.Daemon.EnsureActive(ctx)
}

// Close releases the client.
func (e *SDKEngine) Close() error {
	return e.API.Close()
}

// Converge implements Engine. The first failure stops the walk.
func (e *SDKEngine) Converge(ctx context.Context, specs []catalog.ServiceSpec) ([]ServiceResult, error) {
	results := make([]ServiceResult, 0, len(specs))
	for _, spec := range specs {
		res, err := e.convergeOne(ctx, spec)
		if err != nil {
			return results, hearth_err.NewOrchestrationError(spec.Name, err)
		}
		results = append(results, *res)
	}
	return results, nil
}

func (e *SDKEngine) convergeOne(ctx context.Context, spec catalog.ServiceSpec) (*ServiceResult, error) {
	ctx, span := telemetry.Start(ctx, "docker.converge",
		attribute.String("service", spec.Name),
		attribute.String("image", spec.Image))
	defer span.End()

	logger := otelzap.Ctx(ctx)
	start := time.Now()
	res := &ServiceResult{Service: spec.Name}
	name := spec.ContainerName()

	err := e.API.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	switch {
	case err == nil:
		res.Replaced = true
		logger.Info("Removed existing container", zap.String("container", name))
	case errdefs.IsNotFound(err):
	default:
		return nil, cerr.Wrapf(err, "remove container %s", name)
	}

	pulled, err := e.ensureImage(ctx, spec.Image)
	if err != nil {
		return nil, err
	}
	res.Pulled = pulled

	cfg, hostCfg, err := ContainerConfig(spec, e.BaseDir)
	if err != nil {
		return nil, err
	}
	created, err := e.API.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return nil, cerr.Wrapf(err, "create container %s", name)
	}
	for _, w := range created.Warnings {
		logger.Warn("Engine warning", zap.String("container", name), zap.String("warning", w))
	}

	if err := e.API.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, cerr.Wrapf(err, "start container %s", name)
	}

	res.ContainerID = created.ID
	res.Duration = time.Since(start)
	logger.Info("Container started",
		zap.String("container", name),
		zap.String("id", shortID(created.ID)),
		zap.Bool("pulled", res.Pulled),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// pullEvent is one line of the daemon's pull progress stream.
type pullEvent struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (e *SDKEngine) ensureImage(ctx context.Context, ref string) (bool, error) {
	logger := otelzap.Ctx(ctx)

	_, err := e.API.ImageInspect(ctx, ref)
	if err == nil {
		logger.Debug("Image present", zap.String("image", ref))
		return false, nil
	}
	if !errdefs.IsNotFound(err) {
		return false, cerr.Wrapf(err, "inspect image %s", ref)
	}

	logger.Info("Pulling image", zap.String("image", ref))
	pullCtx, cancel := context.WithTimeout(ctx, PullTimeout)
	defer cancel()

	reader, err := e.API.ImagePull(pullCtx, ref, image.PullOptions{})
	if err != nil {
		return false, cerr.Wrapf(err, "pull image %s", ref)
	}
	defer func() { _ = reader.Close() }()

	scanner := bufio.NewScanner(reader)
	var last string
	for scanner.Scan() {
		var ev pullEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if ev.Error != "" {
			return false, cerr.Newf("pull image %s: %s", ref, ev.Error)
		}
		if ev.Status != "" && ev.Status != last {
			logger.Debug("Pull progress", zap.String("image", ref), zap.String("status", ev.Status))
			last = ev.Status
		}
	}
	if err := scanner.Err(); err != nil {
		return false, cerr.Wrapf(err, "read pull progress for %s", ref)
	}
	return true, nil
}

// ContainerConfig translates a spec into engine create parameters.
func ContainerConfig(spec catalog.ServiceSpec, base string) (*container.Config, *container.HostConfig, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	if spec.NetworkMode != "host" {
		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			port, err := nat.NewPort(proto, strconv.Itoa(p.Container))
			if err != nil {
				return nil, nil, cerr.Wrapf(err, "invalid port %s", p)
			}
			exposed[port] = struct{}{}
			bindings[port] = append(bindings[port], nat.PortBinding{HostPort: strconv.Itoa(p.Host)})
		}
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.SortedEnv(),
		Labels:       spec.Labels(),
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		Binds:         spec.Binds(base),
		PortBindings:  bindings,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(spec.Restart)},
		NetworkMode:   container.NetworkMode(spec.NetworkMode),
		Privileged:    spec.Privileged,
		Resources: container.Resources{
			Memory:   spec.MemoryMB * units.MiB,
			NanoCPUs: int64(spec.CPUs * 1e9),
		},
	}
	return cfg, hostCfg, nil
}

// List implements Engine.
func (e *SDKEngine) List(ctx context.Context) ([]ContainerStatus, error) {
	listCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	containers, err := e.API.ContainerList(listCtx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", shared.LabelManaged+"=true")),
	})
	if err != nil {
		return nil, cerr.Wrap(err, "list containers")
	}

	out := make([]ContainerStatus, 0, len(containers))
	for _, c := range containers {
		st := ContainerStatus{
			Service: c.Labels[shared.LabelService],
			Image:   c.Image,
			State:   c.State,
			Status:  c.Status,
		}
		if len(c.Names) > 0 {
			st.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		for _, p := range c.Ports {
			if p.PublicPort == 0 {
				continue
			}
			st.Ports = append(st.Ports, strconv.Itoa(int(p.PublicPort))+"->"+strconv.Itoa(int(p.PrivatePort))+"/"+p.Type)
		}
		sort.Strings(st.Ports)
		st.Ports = slices.Compact(st.Ports)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
