// Package catalog is the data table hearth provisions from: one ServiceSpec
// per managed service and one Profile per board class. Board variants differ
// only in rows of this table, never in code paths.
package catalog

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/healthcheck"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
)

// Service names.
const (
	HomeAssistant = "homeassistant"
	Mosquitto     = "mosquitto"
	NodeRED       = "nodered"
	Portainer     = "portainer"
)

// Restart policies understood by the container engine.
const (
	RestartUnlessStopped = "unless-stopped"
	RestartAlways        = "always"
)

// PortMapping publishes a container port on the host.
type PortMapping struct {
	Host      int    `yaml:"host"`
	Container int    `yaml:"container"`
	Protocol  string `yaml:"protocol,omitempty"`
}

// String renders host:container[/proto] as in compose files.
func (p PortMapping) String() string {
	s := strconv.Itoa(p.Host) + ":" + strconv.Itoa(p.Container)
	if p.Protocol != "" && p.Protocol != "tcp" {
		s += "/" + p.Protocol
	}
	return s
}

// Mount binds a host path into the container. A relative Source lives under
// the service directory <base>/<service>/.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ServiceSpec declares one container.
type ServiceSpec struct {
	Name        string
	Description string
	Image       string
	Ports       []PortMapping
	Volumes     []Mount
	Env         map[string]string
	MemoryMB    int64
	CPUs        float64
	Restart     string
	NetworkMode string
	Privileged  bool
	// OwnerUID/OwnerGID own the service directory; the container process
	// runs as this user. Zero means root.
	OwnerUID int
	OwnerGID int
	// Health is a template; Host defaults to 127.0.0.1.
	Health healthcheck.HealthCheck
	// ConfigFiles are rendered into the service directory.
	ConfigFiles []string
	// SeedFiles are rendered only when absent; the user owns them after.
	SeedFiles []string
	// Packages are host packages this service needs.
	Packages []string
	// Credential names the user whose secret this service consumes.
	Credential string
}

// ContainerName is the unique container name for the service.
func (s ServiceSpec) ContainerName() string {
	return s.Name
}

// Dir is the service configuration directory under base.
func (s ServiceSpec) Dir(base string) string {
	return filepath.Join(base, s.Name)
}

// Binds resolves Volumes against base into "src:dst[:ro]" strings.
func (s ServiceSpec) Binds(base string) []string {
	binds := make([]string, 0, len(s.Volumes))
	for _, m := range s.Volumes {
		src := m.Source
		if !filepath.IsAbs(src) {
			src = filepath.Join(s.Dir(base), src)
		}
		b := src + ":" + m.Target
		if m.ReadOnly {
			b += ":ro"
		}
		binds = append(binds, b)
	}
	return binds
}

// HostDirs are the service-owned directories that must exist before start.
func (s ServiceSpec) HostDirs(base string) []string {
	var dirs []string
	for _, m := range s.Volumes {
		if !filepath.IsAbs(m.Source) {
			dirs = append(dirs, filepath.Join(s.Dir(base), m.Source))
		}
	}
	return dirs
}

// HealthCheck returns the concrete check for this service.
func (s ServiceSpec) HealthCheck() healthcheck.HealthCheck {
	hc := s.Health
	hc.Service = s.Name
	if hc.Host == "" {
		hc.Host = "127.0.0.1"
	}
	return hc
}

// Labels stamped on the container.
func (s ServiceSpec) Labels() map[string]string {
	return map[string]string{
		shared.LabelManaged: "true",
		shared.LabelService: s.Name,
	}
}

// SortedEnv returns KEY=value pairs in key order.
func (s ServiceSpec) SortedEnv() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// Registry holds the base spec of every managed service, in converge order:
// the broker first so clients find it when they start.
var Registry = []ServiceSpec{
	{
		Name:        Mosquitto,
		Description: "Eclipse Mosquitto MQTT broker",
		Image:       "eclipse-mosquitto:2",
		Ports: []PortMapping{
			{Host: shared.PortMosquitto, Container: shared.PortMosquitto},
			{Host: shared.PortMosquittoWS, Container: shared.PortMosquittoWS},
		},
		Volumes: []Mount{
			{Source: "config", Target: "/mosquitto/config"},
			{Source: "data", Target: "/mosquitto/data"},
			{Source: "log", Target: "/mosquitto/log"},
		},
		Restart:     RestartUnlessStopped,
		OwnerUID:    1883,
		OwnerGID:    1883,
		Health:      healthcheck.HealthCheck{Protocol: healthcheck.TCP, Port: shared.PortMosquitto},
		ConfigFiles: []string{"config/mosquitto.conf"},
		Packages:    []string{"mosquitto"},
		Credential:  "hearth",
	},
	{
		Name:        HomeAssistant,
		Description: "Home Assistant Core",
		Image:       "ghcr.io/home-assistant/home-assistant:stable",
		Volumes: []Mount{
			{Source: "config", Target: "/config"},
			{Source: "/etc/localtime", Target: "/etc/localtime", ReadOnly: true},
			{Source: "/run/dbus", Target: "/run/dbus", ReadOnly: true},
		},
		Restart:     RestartUnlessStopped,
		NetworkMode: "host",
		Privileged:  true,
		Health: healthcheck.HealthCheck{
			Protocol: healthcheck.HTTP,
			Port:     shared.PortHomeAssistant,
			Path:     "/",
			Expect:   healthcheck.StatusBelow(500),
		},
		SeedFiles: []string{"config/configuration.yaml"},
	},
	{
		Name:        NodeRED,
		Description: "Node-RED flow editor",
		Image:       "nodered/node-red:latest",
		Ports:       []PortMapping{{Host: shared.PortNodeRED, Container: shared.PortNodeRED}},
		Volumes:     []Mount{{Source: "data", Target: "/data"}},
		Restart:     RestartUnlessStopped,
		OwnerUID:    1000,
		OwnerGID:    1000,
		Health: healthcheck.HealthCheck{
			Protocol: healthcheck.HTTP,
			Port:     shared.PortNodeRED,
			Path:     "/",
			Expect:   healthcheck.StatusBelow(500),
		},
		ConfigFiles: []string{"data/settings.js"},
		Credential:  "admin",
	},
	{
		Name:        Portainer,
		Description: "Portainer CE container management UI",
		Image:       "portainer/portainer-ce:latest",
		Ports: []PortMapping{
			{Host: shared.PortPortainer, Container: shared.PortPortainer},
			{Host: shared.PortPortainerEdge, Container: shared.PortPortainerEdge},
		},
		Volumes: []Mount{
			{Source: "/var/run/docker.sock", Target: "/var/run/docker.sock"},
			{Source: "data", Target: "/data"},
		},
		Restart: RestartAlways,
		Health:  healthcheck.HealthCheck{Protocol: healthcheck.TCP, Port: shared.PortPortainer},
	},
}

// Names lists every service in converge order.
func Names() []string {
	names := make([]string, len(Registry))
	for i, s := range Registry {
		names[i] = s.Name
	}
	return names
}

// Lookup returns the base spec for name.
func Lookup(name string) (ServiceSpec, bool) {
	for _, s := range Registry {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceSpec{}, false
}
