//go:build !linux

package hostinfo

import (
	"runtime"

	cerr "github.com/cockroachdb/errors"
)

func readSystem() (systemInfo, error) {
	return systemInfo{machine: runtime.GOARCH}, cerr.Newf("host discovery is only supported on linux, not %s", runtime.GOOS)
}

func freeDiskAt(path string) (uint64, error) {
	return 0, cerr.Newf("statfs %s: unsupported on %s", path, runtime.GOOS)
}
