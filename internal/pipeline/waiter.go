package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// FileWaiter polls the filesystem for a downloaded file
type FileWaiter struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultFileWaiter matches the portal's usual download latency
func DefaultFileWaiter() FileWaiter {
	return FileWaiter{Timeout: 10 * time.Second, Interval: 250 * time.Millisecond}
}

// WaitForFile returns nil once path exists as a regular file. It gives up
// with a DownloadError after Timeout or when ctx is done.
func (w FileWaiter) WaitForFile(ctx context.Context, path string) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}

	deadline := time.NewTimer(w.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if fileReady(path) {
			return nil
		}
		select {
		case <-ctx.Done():
			return models.NewError(models.KindDownload, "wait for "+path, ctx.Err())
		case <-deadline.C:
			// one last look so a file landing on the boundary is not lost
			if fileReady(path) {
				return nil
			}
			return models.NewError(models.KindDownload, "wait for "+path,
				fmt.Errorf("file did not appear within %s", w.Timeout))
		case <-ticker.C:
		}
	}
}

func fileReady(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
