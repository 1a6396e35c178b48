//go:build windows

package config

import "os"

// atomicWriteFile writes data to a file.
// Windows does not support atomic renames over existing files in all cases,
// so this falls back to a plain write.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}
