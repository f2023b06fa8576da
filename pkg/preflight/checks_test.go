package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hostinfo"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	runner  *testutil.FakeRunner
	checker *Checker
	req     Requirements
}

func newFixture(t *testing.T, euid int) *fixture {
	t.Helper()
	dir := t.TempDir()
	fstab := filepath.Join(dir, "fstab")
	require.NoError(t, os.WriteFile(fstab, []byte("UUID=root / ext4 defaults 0 1\n"), 0644))

	runner := testutil.NewFakeRunner()
	// fallocate creates the file so later steps and reruns see it.
	runner.On("fallocate", func(opts execute.Options) (string, error) {
		return "", os.WriteFile(opts.Args[len(opts.Args)-1], nil, 0644)
	})

	return &fixture{
		runner:  runner,
		checker: &Checker{Runner: runner, Geteuid: func() int { return euid }},
		req: Requirements{
			ExpectedArch: "aarch64",
			MinRAMMB:     1024,
			MinDiskGB:    10,
			SwapSizeMB:   2048,
			SwapFile:     filepath.Join(dir, "swapfile"),
			FstabPath:    fstab,
		},
	}
}

func host(ramMB, diskGB int64, arch string) *hostinfo.HostProfile {
	return &hostinfo.HostProfile{Arch: arch, TotalRAMMB: ramMB, FreeDiskGB: diskGB}
}

func TestCheckRequiresRoot(t *testing.T) {
	f := newFixture(t, 1000)
	res, err := f.checker.Check(testutil.TestContext(t), host(4096, 50, "aarch64"), f.req)

	require.Error(t, err)
	assert.True(t, hearth_err.IsKind(err, hearth_err.KindInsufficientPrivilege))
	assert.Equal(t, hearth_err.ExitPrecondition, hearth_err.GetExitCode(err))
	require.Len(t, res.Checks, 1)
	assert.Empty(t, f.runner.Calls())
}

func TestCheckDiskFailureCreatesNoSwap(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.checker.Check(testutil.TestContext(t), host(512, 5, "aarch64"), f.req)

	require.Error(t, err)
	assert.True(t, hearth_err.IsKind(err, hearth_err.KindInsufficientResources))
	assert.Equal(t, hearth_err.ExitPrecondition, hearth_err.GetExitCode(err))
	assert.Empty(t, f.runner.Calls())
	assert.NoFileExists(t, f.req.SwapFile)
}

func TestCheckCreatesExactlyOneSwapFile(t *testing.T) {
	f := newFixture(t, 0)
	res, err := f.checker.Check(testutil.TestContext(t), host(512, 20, "aarch64"), f.req)
	require.NoError(t, err)

	assert.Equal(t, SwapCreated, res.Swap)
	assert.Equal(t, []string{
		"fallocate -l 2048M " + f.req.SwapFile,
		"chmod 600 " + f.req.SwapFile,
		"mkswap " + f.req.SwapFile,
		"swapon " + f.req.SwapFile,
	}, f.runner.Calls())
	assert.FileExists(t, f.req.SwapFile)

	fstab := testutil.ReadFile(t, f.req.FstabPath)
	assert.Equal(t, 1, strings.Count(fstab, FstabEntry(f.req.SwapFile)))
}

func TestCheckSwapAlreadyActiveDoesNothing(t *testing.T) {
	f := newFixture(t, 0)
	h := host(512, 20, "arm64")
	h.SwapActive = true
	h.SwapDevices = []string{"/dev/zram0"}

	res, err := f.checker.Check(testutil.TestContext(t), h, f.req)
	require.NoError(t, err)
	assert.Equal(t, SwapAlreadyActive, res.Swap)
	assert.Empty(t, f.runner.Calls())
	assert.NotContains(t, testutil.ReadFile(t, f.req.FstabPath), "swap")
	assert.Empty(t, res.Warnings, "arm64 and aarch64 are the same architecture")
}

func TestCheckExistingInactiveSwapOnlyActivates(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, os.WriteFile(f.req.SwapFile, nil, 0600))

	res, err := f.checker.Check(testutil.TestContext(t), host(512, 20, "aarch64"), f.req)
	require.NoError(t, err)
	assert.Equal(t, SwapActivated, res.Swap)
	assert.Equal(t, []string{"swapon " + f.req.SwapFile}, f.runner.Calls())
	assert.Contains(t, testutil.ReadFile(t, f.req.FstabPath), FstabEntry(f.req.SwapFile))
}

func TestCheckSwapIdempotentFstab(t *testing.T) {
	f := newFixture(t, 0)
	rc := testutil.TestContext(t)

	_, err := f.checker.Check(rc, host(512, 20, "aarch64"), f.req)
	require.NoError(t, err)
	_, err = f.checker.Check(rc, host(512, 20, "aarch64"), f.req)
	require.NoError(t, err)

	assert.Equal(t, 1, f.runner.Count("fallocate"))
	assert.Equal(t, 1, strings.Count(testutil.ReadFile(t, f.req.FstabPath), FstabEntry(f.req.SwapFile)))
}

func TestCheckFallsBackToDD(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.Fail("fallocate", "fallocate: fallocate failed: Operation not supported")

	res, err := f.checker.Check(testutil.TestContext(t), host(512, 20, "aarch64"), f.req)
	require.NoError(t, err)
	assert.Equal(t, SwapCreated, res.Swap)
	assert.Equal(t, 1, f.runner.Count("dd if=/dev/zero of="+f.req.SwapFile+" bs=1M count=2048"))
}

func TestCheckSwapFailureIsWarning(t *testing.T) {
	f := newFixture(t, 0)
	f.runner.Fail("mkswap", "mkswap: error")

	res, err := f.checker.Check(testutil.TestContext(t), host(512, 20, "aarch64"), f.req)
	require.NoError(t, err)
	assert.Equal(t, SwapNone, res.Swap)
	require.Len(t, res.Warnings, 1)
	assert.Zero(t, f.runner.Count("swapon"))
	assert.NoFileExists(t, f.req.SwapFile)
}

func TestCheckDryRunHasNoSideEffects(t *testing.T) {
	f := newFixture(t, 0)
	f.req.DryRun = true

	res, err := f.checker.Check(testutil.TestContext(t), host(512, 20, "aarch64"), f.req)
	require.NoError(t, err)
	assert.Equal(t, SwapWouldCreate, res.Swap)
	assert.Empty(t, f.runner.Calls())
	assert.NoFileExists(t, f.req.SwapFile)
}

func TestCheckArchitectureMismatchIsWarning(t *testing.T) {
	f := newFixture(t, 0)
	res, err := f.checker.Check(testutil.TestContext(t), host(4096, 20, "x86_64"), f.req)
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.True(t, hearth_err.IsKind(res.Warnings[0], hearth_err.KindUnsupportedArchitecture))
	assert.Equal(t, SwapNone, res.Swap)

	names := make([]string, 0, len(res.Checks))
	for _, c := range res.Checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"privilege", "disk", "architecture", "memory"}, names)
}
