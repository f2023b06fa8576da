// pkg/catalog/profiles.go

package catalog

import (
	"path/filepath"
	"sort"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/platform"
)

// Limit caps a container's resources.
type Limit struct {
	MemoryMB int64   `yaml:"memory_mb"`
	CPUs     float64 `yaml:"cpus"`
}

// Profile is one board class.
type Profile struct {
	Name         string
	Description  string
	BasePackages []string
	Limits       map[string]Limit
	// VisionRequirements, when set, provisions a Python venv for object
	// detection under <base>/vision/venv.
	VisionRequirements []string
}

var basePackages = []string{"ca-certificates", "curl", "jq", "docker.io"}

// Profiles by name.
var Profiles = map[string]Profile{
	"minimal": {
		Name:         "minimal",
		Description:  "512MB-1GB boards; tight limits, swap expected",
		BasePackages: basePackages,
		Limits: map[string]Limit{
			HomeAssistant: {MemoryMB: 384, CPUs: 1.0},
			Mosquitto:     {MemoryMB: 32, CPUs: 0.25},
			NodeRED:       {MemoryMB: 128, CPUs: 0.5},
			Portainer:     {MemoryMB: 64, CPUs: 0.25},
		},
	},
	"standard": {
		Name:         "standard",
		Description:  "2GB boards such as the TX3 2/16 variant",
		BasePackages: basePackages,
		Limits: map[string]Limit{
			HomeAssistant: {MemoryMB: 1024, CPUs: 2.0},
			Mosquitto:     {MemoryMB: 64, CPUs: 0.5},
			NodeRED:       {MemoryMB: 256, CPUs: 1.0},
			Portainer:     {MemoryMB: 128, CPUs: 0.5},
		},
	},
	"full": {
		Name:         "full",
		Description:  "4GB boards; adds the Python object-detection environment",
		BasePackages: append(append([]string{}, basePackages...), "python3", "python3-venv", "python3-pip", "libgl1", "libglib2.0-0"),
		Limits: map[string]Limit{
			HomeAssistant: {MemoryMB: 1536, CPUs: 2.0},
			Mosquitto:     {MemoryMB: 128, CPUs: 0.5},
			NodeRED:       {MemoryMB: 512, CPUs: 1.0},
			Portainer:     {MemoryMB: 256, CPUs: 0.5},
		},
		VisionRequirements: []string{"ultralytics", "paho-mqtt", "opencv-python-headless"},
	},
}

// ProfileNames lists profiles alphabetically.
func ProfileNames() []string {
	names := make([]string, 0, len(Profiles))
	for n := range Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SelectOptions parameterise Select.
type SelectOptions struct {
	BaseDir     string
	TimeZone    string
	WithCompose bool
}

// Selection is the concrete provisioning input derived from the table.
type Selection struct {
	Profile  Profile
	Services []ServiceSpec
	Packages *platform.PackageSet
	Venv     *platform.VenvSpec
}

// Select resolves service names and a profile into concrete specs, in
// registry order, with the profile's limits applied.
func Select(names []string, profileName string, opts SelectOptions) (*Selection, error) {
	profile, ok := Profiles[profileName]
	if !ok {
		return nil, hearth_err.NewUserError("unknown profile %q (available: %v)", profileName, ProfileNames())
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := Lookup(n); !ok {
			return nil, hearth_err.NewUserError("unknown service %q (available: %v)", n, Names())
		}
		wanted[n] = true
	}
	if len(wanted) == 0 {
		return nil, hearth_err.NewUserError("no services selected (available: %v)", Names())
	}

	sel := &Selection{
		Profile:  profile,
		Packages: platform.NewPackageSet(profile.BasePackages...),
	}
	if opts.WithCompose {
		sel.Packages.Add("docker-compose")
	}

	for _, base := range Registry {
		if !wanted[base.Name] {
			continue
		}
		spec := clone(base)
		if lim, ok := profile.Limits[spec.Name]; ok {
			spec.MemoryMB = lim.MemoryMB
			spec.CPUs = lim.CPUs
		}
		if opts.TimeZone != "" && (spec.Name == HomeAssistant || spec.Name == NodeRED) {
			spec.Env["TZ"] = opts.TimeZone
		}
		sel.Packages.Add(spec.Packages...)
		sel.Services = append(sel.Services, spec)
	}

	if len(profile.VisionRequirements) > 0 {
		sel.Venv = &platform.VenvSpec{
			Path:         filepath.Join(opts.BaseDir, "vision", "venv"),
			Requirements: append([]string(nil), profile.VisionRequirements...),
		}
	}

	if err := ValidateUnique(sel.Services); err != nil {
		return nil, err
	}
	return sel, nil
}

// ValidateUnique rejects two specs sharing a container name.
func ValidateUnique(specs []ServiceSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.ContainerName()] {
			return hearth_err.NewUserError("duplicate container name %q", s.ContainerName())
		}
		seen[s.ContainerName()] = true
	}
	return nil
}

func clone(s ServiceSpec) ServiceSpec {
	out := s
	out.Ports = append([]PortMapping(nil), s.Ports...)
	out.Volumes = append([]Mount(nil), s.Volumes...)
	out.ConfigFiles = append([]string(nil), s.ConfigFiles...)
	out.SeedFiles = append([]string(nil), s.SeedFiles...)
	out.Packages = append([]string(nil), s.Packages...)
	out.Env = make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		out.Env[k] = v
	}
	return out
}
