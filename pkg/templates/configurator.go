// pkg/templates/configurator.go

package templates

import (
	"context"
	"embed"
	"os"
	"path/filepath"
	"strings"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/catalog"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/fileops"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed assets/*.tmpl
var assets embed.FS

// sources maps "<service>/<relative path>" to its embedded template.
var sources = map[string]string{
	catalog.Mosquitto + "/config/mosquitto.conf":         "assets/mosquitto.conf.tmpl",
	catalog.NodeRED + "/data/settings.js":                "assets/settings.js.tmpl",
	catalog.HomeAssistant + "/config/configuration.yaml": "assets/configuration.yaml.tmpl",
}

// MQTTData describes the broker as clients see it.
type MQTTData struct {
	Host          string
	Port          int
	WebSocketPort int
	User          string
}

// NodeREDData carries the editor login. AdminHash is bcrypt.
type NodeREDData struct {
	Port             int
	AdminUser        string
	AdminHash        string
	CredentialSecret string
}

// HomeAssistantData configures the HA seed file.
type HomeAssistantData struct {
	Port int
}

// Data is everything the service templates reference.
type Data struct {
	BaseDir         string
	TimeZone        string
	CredentialsFile string
	MQTT            MQTTData
	NodeRED         NodeREDData
	HomeAssistant   HomeAssistantData
}

// File is one rendered file, not yet written.
type File struct {
	Service string
	Path    string
	Content []byte
	Perm    os.FileMode
	// Seed files are written only when absent.
	Seed bool
	UID  int
	GID  int
}

// Write outcomes reported per file.
const (
	StatusWritten   = "written"
	StatusUnchanged = "unchanged"
	StatusKept      = "kept"
)

// FileResult reports what Apply did with a file.
type FileResult struct {
	Service string
	Path    string
	Status  string
}

// Configurator renders and writes service configuration under BaseDir.
type Configurator struct {
	BaseDir  string
	Renderer *Renderer
	// Chown hands service directories to the container user. Defaults to os.Chown.
	Chown func(path string, uid, gid int) error
}

// NewConfigurator returns a configurator rooted at baseDir.
func NewConfigurator(baseDir string, logger *zap.Logger) *Configurator {
	return &Configurator{
		BaseDir:  baseDir,
		Renderer: NewRenderer(logger),
		Chown:    os.Chown,
	}
}

// ComposePath is where the compose project is written.
func (c *Configurator) ComposePath() string {
	return filepath.Join(c.BaseDir, shared.HearthComposeFileName)
}

// Render produces every file for specs plus compose.yaml. It touches nothing
// on disk and is deterministic in its inputs.
func (c *Configurator) Render(ctx context.Context, specs []catalog.ServiceSpec, data Data) ([]File, error) {
	var files []File
	for _, spec := range specs {
		for _, rel := range spec.ConfigFiles {
			f, err := c.renderOne(ctx, spec, rel, data, false)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
		for _, rel := range spec.SeedFiles {
			f, err := c.renderOne(ctx, spec, rel, data, true)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
	}

	compose, err := RenderCompose(specs, c.BaseDir)
	if err != nil {
		return nil, hearth_err.NewConfigWriteError(c.ComposePath(), err)
	}
	files = append(files, File{Path: c.ComposePath(), Content: compose, Perm: shared.FilePermStandard})
	return files, nil
}

func (c *Configurator) renderOne(ctx context.Context, spec catalog.ServiceSpec, rel string, data Data, seed bool) (File, error) {
	path := filepath.Join(spec.Dir(c.BaseDir), rel)
	src, ok := sources[spec.Name+"/"+rel]
	if !ok {
		return File{}, hearth_err.NewConfigWriteError(path, cerr.Newf("no template for %s/%s", spec.Name, rel))
	}
	content, err := c.Renderer.RenderEmbedded(ctx, assets, src, data, nil)
	if err != nil {
		return File{}, hearth_err.NewConfigWriteError(path, err)
	}
	if strings.HasSuffix(rel, ".yaml") {
		var probe any
		if err := yaml.Unmarshal(content, &probe); err != nil {
			return File{}, hearth_err.NewConfigWriteError(path, cerr.Wrap(err, "rendered YAML does not parse"))
		}
	}
	return File{
		Service: spec.Name,
		Path:    path,
		Content: content,
		Perm:    shared.FilePermStandard,
		Seed:    seed,
		UID:     spec.OwnerUID,
		GID:     spec.OwnerGID,
	}, nil
}

// Apply creates each service's directories and writes files. Unchanged files
// are not rewritten and existing seed files are left alone.
func (c *Configurator) Apply(ctx context.Context, specs []catalog.ServiceSpec, files []File) ([]FileResult, error) {
	logger := otelzap.Ctx(ctx)

	for _, spec := range specs {
		dirs := append([]string{spec.Dir(c.BaseDir)}, spec.HostDirs(c.BaseDir)...)
		for _, dir := range dirs {
			if err := os.MkdirAll(dir, shared.DirPermStandard); err != nil {
				return nil, hearth_err.NewConfigWriteError(dir, err)
			}
			if err := c.own(dir, spec.OwnerUID, spec.OwnerGID); err != nil {
				return nil, hearth_err.NewConfigWriteError(dir, err)
			}
		}
	}

	results := make([]FileResult, 0, len(files))
	for _, f := range files {
		res := FileResult{Service: f.Service, Path: f.Path}
		if f.Seed && fileops.Exists(f.Path) {
			logger.Debug("Seed file exists, leaving it alone", zap.String("path", f.Path))
			res.Status = StatusKept
			results = append(results, res)
			continue
		}

		outcome, err := fileops.WriteIfChanged(ctx, f.Path, f.Content, f.Perm)
		if err != nil {
			return results, hearth_err.NewConfigWriteError(f.Path, err)
		}
		if err := c.own(f.Path, f.UID, f.GID); err != nil {
			return results, hearth_err.NewConfigWriteError(f.Path, err)
		}
		res.Status = StatusWritten
		if outcome == fileops.Unchanged {
			res.Status = StatusUnchanged
		}
		logger.Info("Configuration file",
			zap.String("service", f.Service),
			zap.String("path", f.Path),
			zap.String("status", res.Status))
		results = append(results, res)
	}
	return results, nil
}

// Configure renders then applies.
func (c *Configurator) Configure(ctx context.Context, specs []catalog.ServiceSpec, data Data) ([]FileResult, error) {
	files, err := c.Render(ctx, specs, data)
	if err != nil {
		return nil, err
	}
	return c.Apply(ctx, specs, files)
}

func (c *Configurator) own(path string, uid, gid int) error {
	if c.Chown == nil || (uid == 0 && gid == 0) {
		return nil
	}
	return c.Chown(path, uid, gid)
}
