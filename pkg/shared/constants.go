// pkg/shared/constants.go

package shared

const (
	HearthID = "hearth"

	HearthConfigDir       = "/etc/hearth"
	HearthConfigFile      = HearthConfigDir + "/hearth.yaml"
	HearthCredentialsFile = HearthConfigDir + "/credentials.env"
	HearthBaseDir         = "/opt/hearth"
	HearthComposeFileName = "compose.yaml"

	HearthLogDir = "/var/log/hearth/"
	HearthLogs   = HearthLogDir + "hearth.log"
	// #nosec G101 - This is a log file path, not a hardcoded credential
	HearthLogsPWD = "./hearth.log"

	HearthTelemetryFile = "telemetry.jsonl"

	SwapFilePath  = "/swapfile"
	FstabPath     = "/etc/fstab"
	ProcSwaps     = "/proc/swaps"
	OSReleaseFile = "/etc/os-release"

	DockerDataRoot = "/var/lib/docker"
)

const (
	// Permission modes (in octal)
	DirPermStandard        = 0755
	DirPermOwnerOnly       = 0700
	RuntimeFilePerms       = 0640
	FilePermStandard       = 0644
	FilePermOwnerReadWrite = 0600
)

// Labels stamped on every container hearth creates.
const (
	LabelManaged = "io.hearth.managed"
	LabelService = "io.hearth.service"
)

// Environment keys consumed outside of viper.
const (
	EnvPrefix   = "HEARTH"
	EnvTrace    = "HEARTH_TRACE"
	EnvLogLevel = "LOG_LEVEL"
)
