//go:build !windows

package audit

import "golang.org/x/sys/unix"

// freeBytes reports the space available to unprivileged writers under dir.
func freeBytes(dir string) (uint64, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(dir, &fs); err != nil {
		return 0, err
	}
	return fs.Bavail * uint64(fs.Bsize), nil
}
