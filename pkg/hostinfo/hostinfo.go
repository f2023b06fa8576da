// pkg/hostinfo/hostinfo.go
//
// Host profile discovery. The profile is detected once per run and treated as
// immutable afterwards; command-line overrides change what is expected of the
// host, never what was detected.

package hostinfo

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// HostProfile describes the machine being provisioned.
type HostProfile struct {
	Arch        string   `json:"arch"`
	OSID        string   `json:"os_id"`
	OSVersion   string   `json:"os_version"`
	Codename    string   `json:"codename"`
	TotalRAMMB  int64    `json:"total_ram_mb"`
	FreeDiskGB  int64    `json:"free_disk_gb"`
	SwapActive  bool     `json:"swap_active"`
	SwapTotalMB int64    `json:"swap_total_mb"`
	SwapDevices []string `json:"swap_devices,omitempty"`
}

// String summarises the profile for logs and reports.
func (p HostProfile) String() string {
	return strings.Join([]string{
		p.Arch,
		strings.TrimSpace(p.OSID + " " + p.OSVersion),
		"ram " + units.BytesSize(float64(p.TotalRAMMB)*units.MiB),
		"disk " + units.HumanSize(float64(p.FreeDiskGB)*units.GB) + " free",
		"swap " + units.BytesSize(float64(p.SwapTotalMB)*units.MiB),
	}, ", ")
}

// HasSwapDevice reports whether path is an active swap device.
func (p HostProfile) HasSwapDevice(path string) bool {
	for _, d := range p.SwapDevices {
		if d == path {
			return true
		}
	}
	return false
}

// Detector gathers a HostProfile from the kernel and release files.
type Detector struct {
	OSReleasePath string
	ProcSwapsPath string
	// DiskPaths are the filesystems that must hold the install. FreeDiskGB is
	// the smallest free space among them.
	DiskPaths []string
}

// NewDetector returns a Detector reading the standard system locations. Free
// disk covers baseDir and the docker data root, where images are unpacked.
func NewDetector(baseDir string) *Detector {
	if baseDir == "" {
		baseDir = "/"
	}
	return &Detector{
		OSReleasePath: shared.OSReleaseFile,
		ProcSwapsPath: shared.ProcSwaps,
		DiskPaths:     []string{baseDir, shared.DockerDataRoot},
	}
}

// Detect reads the host profile.
func (d *Detector) Detect(ctx context.Context) (*HostProfile, error) {
	logger := otelzap.Ctx(ctx)

	sys, err := readSystem()
	if err != nil {
		return nil, cerr.Wrap(err, "failed to query kernel for host resources")
	}
	sys.freeDisk, err = minFreeDisk(d.DiskPaths, freeDiskAt)
	if err != nil {
		return nil, cerr.Wrap(err, "failed to query kernel for host resources")
	}

	p := &HostProfile{
		Arch:       NormalizeArch(sys.machine),
		TotalRAMMB: int64(sys.totalRAM / units.MiB),
		FreeDiskGB: int64(sys.freeDisk / units.GB),
	}

	if rel, err := godotenv.Read(d.OSReleasePath); err != nil {
		logger.Warn("Could not read os-release", zap.String("path", d.OSReleasePath), zap.Error(err))
	} else {
		p.OSID = rel["ID"]
		p.OSVersion = rel["VERSION_ID"]
		p.Codename = rel["VERSION_CODENAME"]
	}

	if f, err := os.Open(d.ProcSwapsPath); err != nil {
		logger.Warn("Could not read swap table", zap.String("path", d.ProcSwapsPath), zap.Error(err))
	} else {
		devices, totalKB := ParseProcSwaps(f)
		_ = f.Close()
		p.SwapDevices = devices
		p.SwapTotalMB = totalKB / 1024
		p.SwapActive = len(devices) > 0
	}

	logger.Info("Host profile detected",
		zap.String("arch", p.Arch),
		zap.String("os", p.OSID),
		zap.String("version", p.OSVersion),
		zap.Int64("ram_mb", p.TotalRAMMB),
		zap.Int64("free_disk_gb", p.FreeDiskGB),
		zap.Bool("swap_active", p.SwapActive),
		zap.Int64("swap_mb", p.SwapTotalMB))
	return p, nil
}

// ParseProcSwaps returns the active swap devices and their total size in KiB.
func ParseProcSwaps(r io.Reader) ([]string, int64) {
	var (
		devices []string
		total   int64
	)
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		devices = append(devices, fields[0])
		total += size
	}
	return devices, total
}

// NormalizeArch maps kernel and Go architecture names onto one spelling.
// aarch64 and arm64 are the same architecture.
func NormalizeArch(arch string) string {
	switch a := strings.ToLower(strings.TrimSpace(arch)); a {
	case "arm64", "aarch64":
		return "aarch64"
	case "amd64", "x86_64", "x86-64":
		return "x86_64"
	case "armhf", "armv7l", "armv7":
		return "armv7l"
	default:
		return a
	}
}

// SameArch compares two architecture names after normalisation.
func SameArch(a, b string) bool {
	return NormalizeArch(a) == NormalizeArch(b)
}

// minFreeDisk measures each path at its nearest existing ancestor and returns
// the smallest result. Paths on the same mount are measured once per ancestor.
func minFreeDisk(paths []string, measure func(string) (uint64, error)) (uint64, error) {
	if len(paths) == 0 {
		paths = []string{"/"}
	}
	seen := make(map[string]bool, len(paths))
	var lowest uint64
	measured := false
	for _, p := range paths {
		at := nearestExisting(p)
		if seen[at] {
			continue
		}
		seen[at] = true
		free, err := measure(at)
		if err != nil {
			return 0, err
		}
		if !measured || free < lowest {
			lowest = free
			measured = true
		}
	}
	return lowest, nil
}

func nearestExisting(path string) string {
	for p := filepath.Clean(path); ; p = filepath.Dir(p) {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		if p == filepath.Dir(p) {
			return "/"
		}
	}
}

type systemInfo struct {
	machine  string
	totalRAM uint64
	freeDisk uint64
}
