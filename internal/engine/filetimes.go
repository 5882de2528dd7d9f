package engine

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// fileTimes returns path's access and modification times as Unix
// timestamps with fractional seconds, matching the precision the manifest
// stores them at (mirroring Python's os.path.getatime/getmtime).
func fileTimes(path string) (atime, mtime float64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("engine: stat %s: %w", path, err)
	}
	mtime = float64(info.ModTime().UnixNano()) / 1e9

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return mtime, mtime, nil
	}
	atime = float64(stat.Atim.Sec) + float64(stat.Atim.Nsec)/1e9
	return atime, mtime, nil
}

// restoreFileTimes sets path's access and modification times from the
// fractional Unix timestamps recorded in a manifest entry.
func restoreFileTimes(path string, atime, mtime float64) error {
	at := time.Unix(0, int64(atime*1e9))
	mt := time.Unix(0, int64(mtime*1e9))
	if err := os.Chtimes(path, at, mt); err != nil {
		return fmt.Errorf("engine: restore times for %s: %w", path, err)
	}
	return nil
}
