//go:build !unix

package filelock

import "os"

// Without flock the in-process mutexes are the only serialization.
func lockFile(f *os.File, exclusive bool) error { return nil }

func unlockFile(f *os.File) error { return nil }
