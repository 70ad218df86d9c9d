//go:build linux

package gbolt

import "golang.org/x/sys/unix"

// fdatasync flushes written data to a file descriptor.
func fdatasync(db *DB) error {
	return unix.Fdatasync(int(db.file.Fd()))
}
