//go:build linux

package hostinfo

import (
	cerr "github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func readSystem() (systemInfo, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return systemInfo{}, cerr.Wrap(err, "uname")
	}

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return systemInfo{}, cerr.Wrap(err, "sysinfo")
	}

	return systemInfo{
		machine:  unix.ByteSliceToString(uts.Machine[:]),
		totalRAM: uint64(si.Totalram) * uint64(si.Unit),
	}, nil
}

func freeDiskAt(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, cerr.Wrapf(err, "statfs %s", path)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
