package hostinfo

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const procSwaps = `Filename				Type		Size		Used		Priority
/swapfile                               file		2097148		0		-2
/dev/zram0                              partition	1015804		5120		100
`

func TestParseProcSwaps(t *testing.T) {
	devices, total := ParseProcSwaps(strings.NewReader(procSwaps))
	assert.Equal(t, []string{"/swapfile", "/dev/zram0"}, devices)
	assert.Equal(t, int64(2097148+1015804), total)
}

func TestParseProcSwapsHeaderOnly(t *testing.T) {
	devices, total := ParseProcSwaps(strings.NewReader("Filename\tType\tSize\tUsed\tPriority\n"))
	assert.Empty(t, devices)
	assert.Zero(t, total)
}

func TestNormalizeArch(t *testing.T) {
	assert.Equal(t, "aarch64", NormalizeArch("arm64"))
	assert.Equal(t, "aarch64", NormalizeArch("AArch64"))
	assert.Equal(t, "x86_64", NormalizeArch("amd64"))
	assert.Equal(t, "armv7l", NormalizeArch("armhf"))
	assert.Equal(t, "riscv64", NormalizeArch("riscv64"))
	assert.True(t, SameArch("arm64", "aarch64"))
	assert.False(t, SameArch("x86_64", "aarch64"))
}

func TestDetectReadsReleaseAndSwap(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("host discovery requires linux")
	}
	dir := t.TempDir()
	release := filepath.Join(dir, "os-release")
	swaps := filepath.Join(dir, "swaps")
	require.NoError(t, os.WriteFile(release, []byte(
		"PRETTY_NAME=\"Armbian 23.8 bookworm\"\nID=debian\nVERSION_ID=\"12\"\nVERSION_CODENAME=bookworm\n"), 0644))
	require.NoError(t, os.WriteFile(swaps, []byte(procSwaps), 0644))

	d := &Detector{OSReleasePath: release, ProcSwapsPath: swaps, DiskPaths: []string{filepath.Join(dir, "missing", "child")}}
	p, err := d.Detect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "debian", p.OSID)
	assert.Equal(t, "12", p.OSVersion)
	assert.Equal(t, "bookworm", p.Codename)
	assert.True(t, p.SwapActive)
	assert.True(t, p.HasSwapDevice("/swapfile"))
	assert.Equal(t, int64((2097148+1015804)/1024), p.SwapTotalMB)
	assert.Positive(t, p.TotalRAMMB)
	assert.Equal(t, NormalizeArch(runtime.GOARCH), p.Arch)
	assert.NotEmpty(t, p.String())
}

func TestDetectToleratesMissingFiles(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("host discovery requires linux")
	}
	dir := t.TempDir()
	d := &Detector{OSReleasePath: filepath.Join(dir, "nope"), ProcSwapsPath: filepath.Join(dir, "nope"), DiskPaths: []string{dir}}
	p, err := d.Detect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, p.OSID)
	assert.False(t, p.SwapActive)
}

func TestNewDetectorMeasuresBaseDirAndDockerRoot(t *testing.T) {
	d := NewDetector("/opt/hearth")
	assert.Equal(t, []string{"/opt/hearth", shared.DockerDataRoot}, d.DiskPaths)
	assert.Equal(t, []string{"/", shared.DockerDataRoot}, NewDetector("").DiskPaths)
}

func TestMinFreeDiskTakesSmallestFilesystem(t *testing.T) {
	base := t.TempDir()
	root := t.TempDir()
	sizes := map[string]uint64{base: 40 << 30, root: 3 << 30}

	var measured []string
	measure := func(p string) (uint64, error) {
		measured = append(measured, p)
		return sizes[p], nil
	}

	free, err := minFreeDisk([]string{base, filepath.Join(root, "missing", "child"), base}, measure)
	require.NoError(t, err)
	assert.Equal(t, uint64(3<<30), free)
	assert.Equal(t, []string{base, root}, measured)
}

func TestMinFreeDiskPropagatesMeasureError(t *testing.T) {
	dir := t.TempDir()
	_, err := minFreeDisk([]string{dir}, func(string) (uint64, error) {
		return 0, cerr.New("statfs failed")
	})
	assert.ErrorContains(t, err, "statfs failed")
}

func TestMinFreeDiskDefaultsToRoot(t *testing.T) {
	var measured []string
	_, err := minFreeDisk(nil, func(p string) (uint64, error) {
		measured = append(measured, p)
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/"}, measured)
}
