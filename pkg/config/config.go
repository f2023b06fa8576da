// pkg/config/config.go
//
// Run configuration. Values come from (highest precedence first) command-line
// flags, HEARTH_* environment variables, the optional YAML config file and
// the defaults registered here. Components receive a *Config and never read
// process environment on their own.

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag and key names.
const (
	KeyServices          = "services"
	KeyProfile           = "profile"
	KeyMinRAMMB          = "min-ram-mb"
	KeyMinDiskGB         = "min-disk-gb"
	KeyArch              = "arch"
	KeyDryRun            = "dry-run"
	KeySwapSizeMB        = "swap-size-mb"
	KeyBaseDir           = "base-dir"
	KeyOrchestrator      = "orchestrator"
	KeyRotateCredentials = "rotate-credentials"
	KeyVerifyTimeout     = "verify-timeout"
	KeyVerifyInterval    = "verify-interval"
	KeyConfig            = "config"
	KeyCredentialsFile   = "credentials-file"
	KeySwapFile          = "swap-file"
	KeyTimeZone          = "timezone"
)

// Orchestrator backends.
const (
	OrchestratorSDK     = "sdk"
	OrchestratorCompose = "compose"
)

// DefaultServices is the full managed service set, in converge order.
var DefaultServices = []string{"mosquitto", "homeassistant", "nodered", "portainer"}

// Config is the validated input to a provisioning run.
type Config struct {
	Services          []string      `mapstructure:"services" validate:"required,min=1,unique,dive,oneof=homeassistant mosquitto nodered portainer"`
	Profile           string        `mapstructure:"profile" validate:"required,oneof=minimal standard full"`
	MinRAMMB          int64         `mapstructure:"min-ram-mb" validate:"gte=0"`
	MinDiskGB         int64         `mapstructure:"min-disk-gb" validate:"gte=0"`
	Arch              string        `mapstructure:"arch" validate:"required"`
	DryRun            bool          `mapstructure:"dry-run"`
	SwapSizeMB        int64         `mapstructure:"swap-size-mb" validate:"gte=256,lte=16384"`
	SwapFile          string        `mapstructure:"swap-file" validate:"required,startswith=/"`
	BaseDir           string        `mapstructure:"base-dir" validate:"required,startswith=/"`
	CredentialsFile   string        `mapstructure:"credentials-file" validate:"required,startswith=/"`
	Orchestrator      string        `mapstructure:"orchestrator" validate:"oneof=sdk compose"`
	RotateCredentials bool          `mapstructure:"rotate-credentials"`
	VerifyTimeout     time.Duration `mapstructure:"verify-timeout" validate:"min=1s"`
	VerifyInterval    time.Duration `mapstructure:"verify-interval" validate:"min=100ms,ltefield=VerifyTimeout"`
	// TimeZone is passed to containers; empty means UTC.
	TimeZone          string        `mapstructure:"timezone"`
}

// AddFlags registers every configuration flag on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.StringSlice(KeyServices, DefaultServices, "Services to provision (comma separated)")
	fs.String(KeyProfile, "standard", "Resource profile: minimal, standard or full")
	fs.Int64(KeyMinRAMMB, 1024, "RAM threshold in MB below which a swap file is created")
	fs.Int64(KeyMinDiskGB, 10, "Minimum free disk in GB")
	fs.String(KeyArch, "aarch64", "Expected CPU architecture")
	fs.Bool(KeyDryRun, false, "Run checks only and report intended changes")
	fs.Int64(KeySwapSizeMB, 2048, "Size of the swap file to create in MB")
	fs.String(KeySwapFile, shared.SwapFilePath, "Swap file path")
	fs.String(KeyBaseDir, shared.HearthBaseDir, "Base directory for service configuration")
	fs.String(KeyCredentialsFile, shared.HearthCredentialsFile, "Credentials file (key=value, mode 0600)")
	fs.String(KeyOrchestrator, OrchestratorSDK, "Container backend: sdk or compose")
	fs.Bool(KeyRotateCredentials, false, "Regenerate existing service credentials")
	fs.Duration(KeyVerifyTimeout, 3*time.Minute, "Per-endpoint readiness timeout")
	fs.Duration(KeyVerifyInterval, 2*time.Second, "Readiness polling interval")
	fs.String(KeyTimeZone, "", "IANA time zone for Home Assistant and Node-RED (default UTC)")
	fs.String(KeyConfig, shared.HearthConfigFile, "Optional YAML config file")
}

// NewViper returns a viper instance reading HEARTH_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(shared.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds all flags on a command to a Viper instance.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var result error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result
}

// Load reads the optional config file, decodes and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString(KeyConfig); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var pathErr *fs.PathError
			missing := errors.As(err, &pathErr) || errors.Is(err, os.ErrNotExist)
			if !missing || path != shared.HearthConfigFile {
				return nil, hearth_err.NewExpectedError(cerr.Wrapf(err, "read config file %s", path))
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, hearth_err.NewExpectedError(cerr.Wrap(err, "decode configuration"))
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			var result error
			for _, fe := range verrs {
				result = multierror.Append(result, cerr.Newf("invalid %s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return hearth_err.WrapValidationError(result)
		}
		return hearth_err.WrapValidationError(err)
	}
	return nil
}

func (c *Config) normalize() {
	seen := make(map[string]bool, len(c.Services))
	services := make([]string, 0, len(c.Services))
	for _, s := range c.Services {
		for _, part := range strings.Split(s, ",") {
			name := strings.ToLower(strings.TrimSpace(part))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			services = append(services, name)
		}
	}
	c.Services = services
	c.Profile = strings.ToLower(strings.TrimSpace(c.Profile))
	c.Orchestrator = strings.ToLower(strings.TrimSpace(c.Orchestrator))
	c.Arch = strings.TrimSpace(c.Arch)
	c.TimeZone = strings.TrimSpace(c.TimeZone)
}

// RerunCommand reconstructs the install invocation for hints.
func (c *Config) RerunCommand() string {
	var sb strings.Builder
	sb.WriteString("sudo hearth install --services ")
	sb.WriteString(strings.Join(c.Services, ","))
	if c.Profile != "" && c.Profile != "standard" {
		sb.WriteString(" --profile " + c.Profile)
	}
	if c.Orchestrator == OrchestratorCompose {
		sb.WriteString(" --orchestrator compose")
	}
	if c.BaseDir != "" && c.BaseDir != shared.HearthBaseDir {
		sb.WriteString(" --base-dir " + c.BaseDir)
	}
	return sb.String()
}

// FromCommand binds cmd's flags and loads the configuration.
func FromCommand(cmd *cobra.Command) (*Config, error) {
	v := NewViper()
	if err := BindFlags(cmd, v); err != nil {
		return nil, cerr.Wrap(err, "bind flags")
	}
	return Load(v)
}
