package storage

import (
	"fmt"
	"log"

	"github.com/shirou/gopsutil/v3/disk"
)

// CheckFreeSpace verifies the output directory's filesystem has at least
// minFreeGB gigabytes available before a batch starts. A failing stat is
// logged and treated as sufficient; refusing to run on a monitoring error
// would be worse than running low.
func CheckFreeSpace(path string, minFreeGB int) error {
	if minFreeGB <= 0 {
		return nil
	}

	usage, err := disk.Usage(path)
	if err != nil {
		log.Printf("[storage] Warning: cannot check free space on %s: %v", path, err)
		return nil
	}

	freeGB := usage.Free / (1024 * 1024 * 1024)
	if freeGB < uint64(minFreeGB) {
		return fmt.Errorf("only %dGB free on %s, need at least %dGB", freeGB, path, minFreeGB)
	}

	log.Printf("[storage] %dGB free on %s", freeGB, path)
	return nil
}
