// Package diskquota enforces application-level disk usage limits: tracked
// directories are scanned for total size, a cached counter is checked
// before every write, and bumped optimistically after a successful one.
// Grounded on the original disk_quota.rs implementation, carried over with
// the teacher's atomic-counter idiom (sync/atomic over an int64 pointer).
package diskquota

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sync/atomic"
)

// Per-operation size caps, per spec.md §4.9.
const (
	MaxWriteBytes        int64 = 5 << 20   // 5 MiB
	MaxMemoryAppendBytes int64 = 100 << 10 // 100 KiB
	MaxSkillZipBytes     int64 = 10 << 20  // 10 MiB
)

// QuotaError is returned when a write would exceed the configured quota.
type QuotaError struct {
	RequestedBytes int64
	RemainingBytes int64
	QuotaBytes     int64
	UsedBytes      int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf(
		"disk quota exceeded: cannot write %s — only %s remaining out of %s total (%s used)",
		formatBytes(e.RequestedBytes), formatBytes(e.RemainingBytes),
		formatBytes(e.QuotaBytes), formatBytes(e.UsedBytes),
	)
}

// Manager tracks disk usage for a set of directories and enforces a quota
// via a fast, lock-free cached counter.
type Manager struct {
	quotaBytes   int64
	trackedDirs  []string
	cachedUsage  int64 // atomic
}

// New creates a Manager and performs an initial usage scan. quotaMB <= 0
// disables the quota (CheckQuota always succeeds).
func New(quotaMB int, trackedDirs []string) *Manager {
	m := &Manager{
		quotaBytes:  int64(quotaMB) * 1024 * 1024,
		trackedDirs: trackedDirs,
	}
	atomic.StoreInt64(&m.cachedUsage, m.scanUsage())
	return m
}

// IsEnabled reports whether a positive quota is configured.
func (m *Manager) IsEnabled() bool {
	return m.quotaBytes > 0
}

// CheckQuota reports whether writing additionalBytes more would exceed the
// quota, without mutating any state.
func (m *Manager) CheckQuota(additionalBytes int64) error {
	if !m.IsEnabled() {
		return nil
	}
	current := atomic.LoadInt64(&m.cachedUsage)
	after := current + additionalBytes
	if after < current { // overflow guard
		after = m.quotaBytes + 1
	}
	if after > m.quotaBytes {
		remaining := m.quotaBytes - current
		if remaining < 0 {
			remaining = 0
		}
		return &QuotaError{
			RequestedBytes: additionalBytes,
			RemainingBytes: remaining,
			QuotaBytes:     m.quotaBytes,
			UsedBytes:      current,
		}
	}
	return nil
}

// RecordWrite optimistically bumps the cached usage counter after a
// successful write, without triggering a rescan.
func (m *Manager) RecordWrite(bytesWritten int64) {
	if m.IsEnabled() {
		atomic.AddInt64(&m.cachedUsage, bytesWritten)
	}
}

// scanUsage walks every tracked directory and sums file sizes.
func (m *Manager) scanUsage() int64 {
	var total int64
	for _, dir := range m.trackedDirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip unreadable entries, matching the original's filter_map(|e| e.ok())
			}
			if d.Type().IsRegular() {
				if info, err := d.Info(); err == nil {
					total += info.Size()
				}
			}
			return nil
		})
	}
	return total
}

// Refresh re-scans tracked directories and replaces the cached usage.
func (m *Manager) Refresh() int64 {
	usage := m.scanUsage()
	atomic.StoreInt64(&m.cachedUsage, usage)
	return usage
}

// UsageBytes returns the cached usage.
func (m *Manager) UsageBytes() int64 {
	return atomic.LoadInt64(&m.cachedUsage)
}

// RemainingBytes returns bytes left before the quota is hit, or
// math.MaxInt64 if the quota is disabled.
func (m *Manager) RemainingBytes() int64 {
	if !m.IsEnabled() {
		return 1<<63 - 1
	}
	remaining := m.quotaBytes - atomic.LoadInt64(&m.cachedUsage)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// UsagePercentage returns usage as an integer percentage of quota (0-100).
func (m *Manager) UsagePercentage() int64 {
	if !m.IsEnabled() {
		return 0
	}
	used := atomic.LoadInt64(&m.cachedUsage)
	return (used * 100) / m.quotaBytes
}

// QuotaBytes returns the configured quota limit.
func (m *Manager) QuotaBytes() int64 {
	return m.quotaBytes
}

// StatusLine renders a human-readable summary, e.g. "disk quota: 12.3MB / 256.0MB (5%)".
func (m *Manager) StatusLine() string {
	if !m.IsEnabled() {
		return "disk quota: disabled"
	}
	return fmt.Sprintf("disk quota: %s / %s (%d%%)",
		formatBytes(m.UsageBytes()), formatBytes(m.quotaBytes), m.UsagePercentage())
}

func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1fGB", float64(b)/gb)
	case b >= mb:
		return fmt.Sprintf("%.1fMB", float64(b)/mb)
	case b >= kb:
		return fmt.Sprintf("%.1fKB", float64(b)/kb)
	default:
		return fmt.Sprintf("%dB", b)
	}
}
