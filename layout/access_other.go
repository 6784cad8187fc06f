//go:build !unix

package layout

import "os"

func canReadWrite(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		_, err = os.ReadDir(path)
		return err == nil
	}
	return f.Close() == nil
}

func canRead(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	return f.Close() == nil
}
