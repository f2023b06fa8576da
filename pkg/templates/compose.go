// pkg/templates/compose.go

package templates

import (
	"bytes"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/catalog"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const composeHeader = "# Managed by hearth. Local edits are replaced on the next install.\n"

// ComposeFile is the subset of the compose specification hearth emits.
type ComposeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]ComposeService `yaml:"services"`
}

// ComposeService is one service entry.
type ComposeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Restart       string            `yaml:"restart,omitempty"`
	NetworkMode   string            `yaml:"network_mode,omitempty"`
	Privileged    bool              `yaml:"privileged,omitempty"`
	Ports         []quoted          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Labels        map[string]string `yaml:"labels,omitempty"`
	MemLimit      string            `yaml:"mem_limit,omitempty"`
	CPUs          float64           `yaml:"cpus,omitempty"`
}

// quoted forces double quotes so YAML 1.1 parsers never read "1883:1883"
// as a base-60 integer.
type quoted string

func (q quoted) MarshalYAML() (any, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Style: yaml.DoubleQuotedStyle, Value: string(q)}, nil
}

// BuildCompose describes specs as a compose project rooted at base.
func BuildCompose(specs []catalog.ServiceSpec, base string) ComposeFile {
	cf := ComposeFile{Name: shared.HearthID, Services: make(map[string]ComposeService, len(specs))}
	for _, s := range specs {
		svc := ComposeService{
			Image:         s.Image,
			ContainerName: s.ContainerName(),
			Restart:       s.Restart,
			NetworkMode:   s.NetworkMode,
			Privileged:    s.Privileged,
			Volumes:       s.Binds(base),
			Labels:        s.Labels(),
			CPUs:          s.CPUs,
		}
		if len(s.Env) > 0 {
			svc.Environment = s.Env
		}
		// Published ports are meaningless with host networking.
		if s.NetworkMode != "host" {
			for _, p := range s.Ports {
				svc.Ports = append(svc.Ports, quoted(p.String()))
			}
		}
		if s.MemoryMB > 0 {
			svc.MemLimit = units.BytesSize(float64(s.MemoryMB * units.MiB))
		}
		cf.Services[s.Name] = svc
	}
	return cf
}

// RenderCompose returns the compose.yaml bytes for specs. Map keys are
// emitted sorted, so equal inputs give equal bytes.
func RenderCompose(specs []catalog.ServiceSpec, base string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(composeHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(BuildCompose(specs, base)); err != nil {
		return nil, cerr.Wrap(err, "failed to encode compose file")
	}
	if err := enc.Close(); err != nil {
		return nil, cerr.Wrap(err, "failed to encode compose file")
	}
	return buf.Bytes(), nil
}
