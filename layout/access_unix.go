//go:build unix

package layout

import "golang.org/x/sys/unix"

func canReadWrite(path string) bool {
	return unix.Access(path, unix.R_OK|unix.W_OK) == nil
}

func canRead(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}
