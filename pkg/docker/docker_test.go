package docker

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/catalog"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/testutil"
	cerr "github.com/cockroachdb/errors"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContainer struct {
	id      string
	config  *container.Config
	host    *container.HostConfig
	running bool
}

// fakeAPI is an in-memory engine.
type fakeAPI struct {
	mu         sync.Mutex
	images     map[string]bool
	containers map[string]*fakeContainer
	pulls      []string
	removed    []string
	ops        []string
	nextID     int
	pingErr    error
	version    string
	createErr  map[string]error
	pullStream string
	listOpts   container.ListOptions
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		images:     map[string]bool{},
		containers: map[string]*fakeContainer{},
		createErr:  map[string]error{},
		version:    "24.0.7",
		pullStream: `{"status":"Pulling fs layer","id":"a"}` + "\n" + `{"status":"Pull complete","id":"a"}` + "\n",
	}
}

func (f *fakeAPI) Ping(context.Context) (types.Ping, error) { return types.Ping{}, f.pingErr }

func (f *fakeAPI) ServerVersion(context.Context) (types.Version, error) {
	return types.Version{Version: f.version}, nil
}

func (f *fakeAPI) ImageInspect(_ context.Context, ref string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.images[ref] {
		return image.InspectResponse{}, errdefs.NotFound(cerr.Newf("No such image: %s", ref))
	}
	return image.InspectResponse{ID: "sha256:" + ref}, nil
}

func (f *fakeAPI) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, ref)
	f.ops = append(f.ops, "pull "+ref)
	if !strings.Contains(f.pullStream, `"error"`) {
		f.images[ref] = true
	}
	return io.NopCloser(strings.NewReader(f.pullStream)), nil
}

func (f *fakeAPI) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "create "+name)
	if err := f.createErr[name]; err != nil {
		return container.CreateResponse{}, err
	}
	if _, exists := f.containers[name]; exists {
		return container.CreateResponse{}, errdefs.Conflict(cerr.Newf("name %s in use", name))
	}
	f.nextID++
	id := strings.Repeat("f", 60) + string(rune('0'+f.nextID))
	f.containers[name] = &fakeContainer{id: id, config: cfg, host: host}
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeAPI) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, c := range f.containers {
		if c.id == id {
			c.running = true
			f.ops = append(f.ops, "start "+name)
			return nil
		}
	}
	return errdefs.NotFound(cerr.Newf("No such container: %s", id))
}

func (f *fakeAPI) ContainerRemove(_ context.Context, name string, opts container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !opts.Force {
		return cerr.New("expected forced removal")
	}
	if _, ok := f.containers[name]; !ok {
		return errdefs.NotFound(cerr.Newf("No such container: %s", name))
	}
	delete(f.containers, name)
	f.removed = append(f.removed, name)
	f.ops = append(f.ops, "remove "+name)
	return nil
}

func (f *fakeAPI) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listOpts = opts
	var out []container.Summary
	for name, c := range f.containers {
		state := "created"
		if c.running {
			state = "running"
		}
		s := container.Summary{
			ID:     c.id,
			Names:  []string{"/" + name},
			Image:  c.config.Image,
			Labels: c.config.Labels,
			State:  state,
			Status: "Up 1 second",
		}
		for port, bindings := range c.host.PortBindings {
			for _, b := range bindings {
				hp, _ := nat.ParsePort(b.HostPort)
				for _, ip := range []string{"0.0.0.0", "::"} {
					s.Ports = append(s.Ports, container.Port{IP: ip, PrivatePort: uint16(port.Int()), PublicPort: uint16(hp), Type: port.Proto()})
				}
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeAPI) Close() error { return nil }

func activeRunner() *testutil.FakeRunner {
	return testutil.NewFakeRunner().Output("systemctl is-active docker", "active\n")
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestEngine(api *fakeAPI) *SDKEngine {
	e := NewSDKEngineWithAPI(api, activeRunner(), "/opt/hearth")
	e.Daemon.Sleep = noSleep
	return e
}

func mosquittoSpec(t *testing.T) catalog.ServiceSpec {
	t.Helper()
	sel, err := catalog.Select([]string{catalog.Mosquitto}, "minimal", catalog.SelectOptions{BaseDir: "/opt/hearth"})
	require.NoError(t, err)
	return sel.Services[0]
}

func TestContainerConfig(t *testing.T) {
	spec := mosquittoSpec(t)
	cfg, host, err := ContainerConfig(spec, "/opt/hearth")
	require.NoError(t, err)

	assert.Equal(t, "eclipse-mosquitto:2", cfg.Image)
	assert.Equal(t, "true", cfg.Labels["io.hearth.managed"])
	assert.Equal(t, "mosquitto", cfg.Labels["io.hearth.service"])
	assert.Contains(t, cfg.ExposedPorts, nat.Port("1883/tcp"))
	assert.Equal(t, []nat.PortBinding{{HostPort: "1883"}}, host.PortBindings[nat.Port("1883/tcp")])
	assert.Equal(t, int64(32*1024*1024), host.Memory)
	assert.Equal(t, int64(250_000_000), host.NanoCPUs)
	assert.Equal(t, container.RestartPolicyMode("unless-stopped"), host.RestartPolicy.Name)
	assert.Contains(t, host.Binds, "/opt/hearth/mosquitto/config:/mosquitto/config")
}

func TestContainerConfigHostNetworkPublishesNothing(t *testing.T) {
	ha, _ := catalog.Lookup(catalog.HomeAssistant)
	ha.Ports = []catalog.PortMapping{{Host: 8123, Container: 8123}}
	cfg, host, err := ContainerConfig(ha, "/opt/hearth")
	require.NoError(t, err)
	assert.Empty(t, cfg.ExposedPorts)
	assert.Empty(t, host.PortBindings)
	assert.Equal(t, container.NetworkMode("host"), host.NetworkMode)
	assert.True(t, host.Privileged)
}

func TestConvergePullsCreatesAndStarts(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(api)
	ctx := testutil.TestContext(t).Ctx

	res, err := e.Converge(ctx, []catalog.ServiceSpec{mosquittoSpec(t)})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.True(t, res[0].Pulled)
	assert.False(t, res[0].Replaced)
	assert.Equal(t, []string{"pull eclipse-mosquitto:2", "create mosquitto", "start mosquitto"}, api.ops)

	list, err := e.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mosquitto", list[0].Name)
	assert.Equal(t, "mosquitto", list[0].Service)
	assert.True(t, list[0].Running())
	assert.Equal(t, []string{"1883->1883/tcp", "9001->9001/tcp"}, list[0].Ports)
	assert.True(t, api.listOpts.All)
	assert.Equal(t, []string{"io.hearth.managed=true"}, api.listOpts.Filters.Get("label"))
}

func TestConvergeIsRepeatable(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(api)
	ctx := testutil.TestContext(t).Ctx
	specs := []catalog.ServiceSpec{mosquittoSpec(t)}

	_, err := e.Converge(ctx, specs)
	require.NoError(t, err)
	res, err := e.Converge(ctx, specs)
	require.NoError(t, err)

	assert.True(t, res[0].Replaced)
	assert.False(t, res[0].Pulled, "image already present")
	assert.Len(t, api.pulls, 1)
	assert.Len(t, api.containers, 1, "exactly one container per name")
}

func TestConvergeStopsAtFirstFailure(t *testing.T) {
	api := newFakeAPI()
	api.createErr["homeassistant"] = cerr.New("no space left on device")
	e := newTestEngine(api)

	sel, err := catalog.Select(catalog.Names(), "standard", catalog.SelectOptions{BaseDir: "/opt/hearth"})
	require.NoError(t, err)

	res, err := e.Converge(testutil.TestContext(t).Ctx, sel.Services)
	require.Error(t, err)
	assert.Len(t, res, 1, "mosquitto converged before the failure")
	assert.True(t, hearth_err.IsKind(err, hearth_err.KindOrchestration))
	assert.Equal(t, hearth_err.ExitOrchestration, hearth_err.GetExitCode(err))
	pe, _ := hearth_err.AsProvisionError(err)
	assert.Equal(t, "homeassistant", pe.Subject)
	assert.NotContains(t, api.containers, "nodered")
}

func TestConvergePullStreamError(t *testing.T) {
	api := newFakeAPI()
	api.pullStream = `{"error":"manifest unknown"}` + "\n"
	_, err := newTestEngine(api).Converge(testutil.TestContext(t).Ctx, []catalog.ServiceSpec{mosquittoSpec(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest unknown")
}

func TestEnsureActiveAlreadyRunning(t *testing.T) {
	api := newFakeAPI()
	e := newTestEngine(api)
	info, err := e.EnsureActive(testutil.TestContext(t).Ctx)
	require.NoError(t, err)
	assert.Equal(t, "24.0.7", info.Version)
	assert.False(t, info.Started)
	assert.False(t, info.Outdated)
	assert.Equal(t, 1, info.Attempts)
	assert.Zero(t, e.Daemon.Runner.(*testutil.FakeRunner).Count("systemctl start"))
}

func TestEnsureActiveStartsUnit(t *testing.T) {
	active := false
	r := testutil.NewFakeRunner()
	r.On("systemctl is-active docker", func(execute.Options) (string, error) {
		if active {
			return "active\n", nil
		}
		return "inactive\n", cerr.New("exit status 3")
	})
	starts := 0
	r.On("systemctl start docker", func(execute.Options) (string, error) {
		starts++
		return "", nil
	})

	d := NewDaemon(r, func(context.Context) (string, error) { return "20.10.24+dfsg1", nil })
	var sleeps []time.Duration
	d.Sleep = func(_ context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		if len(sleeps) == 2 {
			active = true
		}
		return nil
	}

	info, err := d.EnsureActive(testutil.TestContext(t).Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, starts)
	assert.True(t, info.Started)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)
	assert.False(t, info.Outdated)
}

func TestEnsureActiveGivesUpWithinBudget(t *testing.T) {
	r := testutil.NewFakeRunner().Fail("systemctl is-active docker", "failed")
	d := NewDaemon(r, func(context.Context) (string, error) { return "", cerr.New("unreachable") })
	var total time.Duration
	var sleeps []time.Duration
	d.Sleep = func(_ context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		total += dur
		return nil
	}

	_, err := d.EnsureActive(testutil.TestContext(t).Ctx)
	require.Error(t, err)
	assert.True(t, hearth_err.IsKind(err, hearth_err.KindEngineUnavailable))
	assert.Equal(t, hearth_err.ExitOrchestration, hearth_err.GetExitCode(err))
	assert.Equal(t, []time.Duration{1, 2, 4, 8, 16, 16}, scale(sleeps, time.Second))
	assert.LessOrEqual(t, total, DefaultBackoff.Budget)
}

func scale(ds []time.Duration, unit time.Duration) []time.Duration {
	out := make([]time.Duration, len(ds))
	for i, d := range ds {
		out[i] = d / unit
	}
	return out
}

func TestEnsureActivePingFailureKeepsPolling(t *testing.T) {
	api := newFakeAPI()
	api.pingErr = cerr.New("Cannot connect to the Docker daemon")
	e := newTestEngine(api)
	e.Daemon.Backoff = Backoff{Initial: time.Second, Max: time.Second, Budget: 3 * time.Second}

	info, err := e.EnsureActive(testutil.TestContext(t).Ctx)
	require.Error(t, err)
	assert.Equal(t, 4, info.Attempts)
	assert.Contains(t, err.Error(), "Cannot connect")
}

func TestOutdated(t *testing.T) {
	assert.True(t, outdated("19.03.13"))
	assert.False(t, outdated("20.10.5+dfsg1"))
	assert.False(t, outdated("26.1.0"))
	assert.False(t, outdated("not-a-version"))
}

func TestEnsureActiveFlagsOldEngine(t *testing.T) {
	api := newFakeAPI()
	api.version = "19.03.13"
	info, err := newTestEngine(api).EnsureActive(testutil.TestContext(t).Ctx)
	require.NoError(t, err)
	assert.True(t, info.Outdated)
}

func TestComposeEngineConverge(t *testing.T) {
	r := testutil.NewFakeRunner()
	e := NewComposeEngine(r, "/opt/hearth/compose.yaml")
	specs := []catalog.ServiceSpec{mosquittoSpec(t)}

	res, err := e.Converge(testutil.TestContext(t).Ctx, specs)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 1, r.Count("docker compose -f /opt/hearth/compose.yaml -p hearth up -d --force-recreate --remove-orphans"))
}

func TestComposeEngineRemovesSameNamedContainersBeforeUp(t *testing.T) {
	nodered, ok := catalog.Lookup(catalog.NodeRED)
	require.True(t, ok)
	r := testutil.NewFakeRunner().
		Fail("docker rm -f nodered", "Error response from daemon: No such container: nodered")
	e := NewComposeEngine(r, "/opt/hearth/compose.yaml")

	_, err := e.Converge(testutil.TestContext(t).Ctx, []catalog.ServiceSpec{mosquittoSpec(t), nodered})
	require.NoError(t, err)

	calls := r.Calls()
	index := func(line string) int {
		for i, c := range calls {
			if c == line {
				return i
			}
		}
		return -1
	}
	up := index("docker compose -f /opt/hearth/compose.yaml -p hearth up -d --force-recreate --remove-orphans")
	require.NotEqual(t, -1, up)
	for _, name := range []string{"mosquitto", "nodered"} {
		rm := index("docker rm -f " + name)
		require.NotEqual(t, -1, rm, "container %s removed", name)
		assert.Less(t, rm, up, "container %s removed before up", name)
	}
}

func TestComposeEngineRemoveFailureNamesService(t *testing.T) {
	r := testutil.NewFakeRunner().
		Fail("docker rm -f mosquitto", "Error response from daemon: cannot remove container: device or resource busy")
	_, err := NewComposeEngine(r, "/opt/hearth/compose.yaml").Converge(testutil.TestContext(t).Ctx, []catalog.ServiceSpec{mosquittoSpec(t)})
	require.Error(t, err)
	assert.Equal(t, hearth_err.ExitOrchestration, hearth_err.GetExitCode(err))
	assert.Contains(t, err.Error(), "mosquitto")
	assert.Zero(t, r.Count("docker compose -f"))
}

func TestComposeEngineFallsBackToStandaloneBinary(t *testing.T) {
	r := testutil.NewFakeRunner().
		Fail("docker compose version", "docker: 'compose' is not a docker command.").
		Binary("docker-compose", "/usr/bin/docker-compose")
	e := NewComposeEngine(r, "/opt/hearth/compose.yaml")

	_, err := e.Converge(testutil.TestContext(t).Ctx, []catalog.ServiceSpec{mosquittoSpec(t)})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count("/usr/bin/docker-compose -f /opt/hearth/compose.yaml"))
}

func TestComposeEngineNoCompose(t *testing.T) {
	r := testutil.NewFakeRunner().Fail("docker compose version", "")
	_, err := NewComposeEngine(r, "/opt/hearth/compose.yaml").Converge(testutil.TestContext(t).Ctx, []catalog.ServiceSpec{mosquittoSpec(t)})
	assert.True(t, hearth_err.IsKind(err, hearth_err.KindOrchestration))
}

func TestComposeEngineUpFailure(t *testing.T) {
	r := testutil.NewFakeRunner().Fail("docker compose -f", "Error response from daemon: driver failed programming external connectivity: Bind for 0.0.0.0:1883 failed: port is already allocated")
	_, err := NewComposeEngine(r, "/opt/hearth/compose.yaml").Converge(testutil.TestContext(t).Ctx, []catalog.ServiceSpec{mosquittoSpec(t)})
	require.Error(t, err)
	assert.Equal(t, hearth_err.ExitOrchestration, hearth_err.GetExitCode(err))
}

func TestParsePS(t *testing.T) {
	out := `{"Names":"nodered","Image":"nodered/node-red:latest","State":"running","Status":"Up 2 hours","Ports":"0.0.0.0:1880->1880/tcp","Labels":"io.hearth.managed=true,io.hearth.service=nodered"}
{"Names":"mosquitto","Image":"eclipse-mosquitto:2","State":"exited","Status":"Exited (1) 3 minutes ago","Ports":"","Labels":"io.hearth.service=mosquitto,io.hearth.managed=true"}
`
	list, err := ParsePS(out)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "mosquitto", list[0].Name)
	assert.False(t, list[0].Running())
	assert.Empty(t, list[0].Ports)
	assert.Equal(t, "nodered", list[1].Service)
	assert.Equal(t, []string{"0.0.0.0:1880->1880/tcp"}, list[1].Ports)

	_, err = ParsePS("not json\n")
	assert.Error(t, err)
}

func TestComposeEngineList(t *testing.T) {
	r := testutil.NewFakeRunner().Output("docker ps -a --filter label=io.hearth.managed=true", `{"Names":"portainer","State":"running","Labels":"io.hearth.service=portainer"}`+"\n")
	list, err := NewComposeEngine(r, "/opt/hearth/compose.yaml").List(testutil.TestContext(t).Ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "portainer", list[0].Service)
}
