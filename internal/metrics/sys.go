package metrics

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

var startedAt = time.Now()

// SysHealth is a snapshot of process and data-directory health.
type SysHealth struct {
	AllocMB      uint64
	SysMB        uint64
	NumGC        uint32
	Goroutines   int
	Uptime       time.Duration
	DataDiskSize string
}

// GetSysHealth collects runtime stats and the size of dataPath.
func GetSysHealth(dataPath string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SysHealth{
		AllocMB:      m.Alloc / 1024 / 1024,
		SysMB:        m.Sys / 1024 / 1024,
		NumGC:        m.NumGC,
		Goroutines:   runtime.NumGoroutine(),
		Uptime:       time.Since(startedAt).Round(time.Second),
		DataDiskSize: humanSize(dirSize(dataPath)),
	}
}

// Summary renders usage and health as plain lines for chat and CLI output.
func Summary(usage []DailyUsage, h SysHealth) string {
	var b strings.Builder
	b.WriteString("AI usage (per day):\n")
	if len(usage) == 0 {
		b.WriteString("  no calls recorded\n")
	}
	for _, u := range usage {
		fmt.Fprintf(&b, "  %s: %d calls, %d fallbacks, %d prompt / %d completion tokens\n",
			u.Date, u.TotalExecution, u.Fallbacks, u.TotalPrompt, u.TotalCompletion)
	}
	fmt.Fprintf(&b, "Health: %d MB alloc, %d MB sys, %d GCs, %d goroutines, up %s, data %s\n",
		h.AllocMB, h.SysMB, h.NumGC, h.Goroutines, h.Uptime, h.DataDiskSize)
	return b.String()
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		return nil
	})
	return size
}

func humanSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
