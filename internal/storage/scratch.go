package storage

import (
	"log"
	"os"
	"path/filepath"
	"time"
)

// ScratchJanitor periodically removes stale decoded waveforms from the
// scratch directory. Normal runs clean up after themselves; the janitor
// catches what crashed runs leave behind.
type ScratchJanitor struct {
	scratchDir      string
	intervalMinutes int
	maxAgeHours     int
	stopChan        chan struct{}
}

// NewScratchJanitor creates a janitor for the given scratch directory.
func NewScratchJanitor(scratchDir string, intervalMinutes, maxAgeHours int) *ScratchJanitor {
	return &ScratchJanitor{
		scratchDir:      scratchDir,
		intervalMinutes: intervalMinutes,
		maxAgeHours:     maxAgeHours,
		stopChan:        make(chan struct{}),
	}
}

// Start runs an initial sweep and then sweeps on the configured interval.
func (j *ScratchJanitor) Start() {
	j.sweep()

	ticker := time.NewTicker(time.Duration(j.intervalMinutes) * time.Minute)
	go func() {
		for {
			select {
			case <-ticker.C:
				j.sweep()
			case <-j.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Scratch janitor started (interval: %dm, max age: %dh)",
		j.intervalMinutes, j.maxAgeHours)
}

// Stop stops the janitor.
func (j *ScratchJanitor) Stop() {
	close(j.stopChan)
}

// sweep removes files older than maxAgeHours.
func (j *ScratchJanitor) sweep() {
	now := time.Now()
	maxAge := time.Duration(j.maxAgeHours) * time.Hour

	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(j.scratchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if now.Sub(info.ModTime()) > maxAge {
			size := info.Size()
			if err := os.Remove(path); err != nil {
				log.Printf("Failed to delete stale file %s: %v", path, err)
			} else {
				deletedCount++
				deletedSize += size
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("Error sweeping scratch directory: %v", err)
	}

	if deletedCount > 0 {
		log.Printf("Scratch sweep: %d file(s) deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
}
