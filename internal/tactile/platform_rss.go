//go:build !windows && !darwin

package tactile

import "syscall"

// getMaxRSSBytes converts ru_maxrss, which Linux and the BSDs report in kilobytes.
func getMaxRSSBytes(rusage *syscall.Rusage) int64 {
	return int64(rusage.Maxrss) * 1024
}
