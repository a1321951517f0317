package diskquota

import (
	"os"
	"path/filepath"
	"testing"
)

func TestQuotaDisabledWhenZero(t *testing.T) {
	m := New(0, nil)
	if m.IsEnabled() {
		t.Fatal("expected quota disabled")
	}
	if err := m.CheckQuota(1 << 40); err != nil {
		t.Fatalf("expected no error when disabled, got %v", err)
	}
}

func TestQuotaAllowsWithinLimit(t *testing.T) {
	dir := t.TempDir()
	m := New(1, []string{dir})
	if !m.IsEnabled() {
		t.Fatal("expected quota enabled")
	}
	if err := m.CheckQuota(500 * 1024); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestQuotaRejectsOverLimit(t *testing.T) {
	dir := t.TempDir()
	m := New(1, []string{dir})
	err := m.CheckQuota(2 * 1024 * 1024)
	if err == nil {
		t.Fatal("expected quota error")
	}
	qe, ok := err.(*QuotaError)
	if !ok {
		t.Fatalf("expected *QuotaError, got %T", err)
	}
	if qe.QuotaBytes != 1024*1024 {
		t.Fatalf("unexpected quota bytes: %d", qe.QuotaBytes)
	}
}

func TestRecordWriteBumpsUsage(t *testing.T) {
	dir := t.TempDir()
	m := New(1, []string{dir})
	if m.UsageBytes() != 0 {
		t.Fatalf("expected 0 initial usage, got %d", m.UsageBytes())
	}
	m.RecordWrite(100_000)
	if m.UsageBytes() != 100_000 {
		t.Fatalf("expected 100000, got %d", m.UsageBytes())
	}
	remaining := m.RemainingBytes()
	if err := m.CheckQuota(remaining + 1); err == nil {
		t.Fatal("expected error exceeding remaining")
	}
	if err := m.CheckQuota(remaining); err != nil {
		t.Fatalf("expected exact remaining to be allowed, got %v", err)
	}
}

func TestScanUsageCountsFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "test.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := New(1, []string{dir})
	if m.UsageBytes() != 11 {
		t.Fatalf("expected 11 bytes, got %d", m.UsageBytes())
	}
}

func TestRefreshUpdatesCachedUsage(t *testing.T) {
	dir := t.TempDir()
	m := New(1, []string{dir})
	if m.UsageBytes() != 0 {
		t.Fatal("expected 0 before write")
	}
	if err := os.WriteFile(filepath.Join(dir, "data.bin"), make([]byte, 1000), 0o644); err != nil {
		t.Fatal(err)
	}
	if m.UsageBytes() != 0 {
		t.Fatal("cached usage should not change until refresh")
	}
	if got := m.Refresh(); got != 1000 {
		t.Fatalf("expected refresh to report 1000, got %d", got)
	}
	if m.UsageBytes() != 1000 {
		t.Fatalf("expected cached usage 1000, got %d", m.UsageBytes())
	}
}

func TestUsagePercentage(t *testing.T) {
	dir := t.TempDir()
	m := New(1, []string{dir})
	if m.UsagePercentage() != 0 {
		t.Fatal("expected 0%")
	}
	m.RecordWrite(512 * 1024)
	if m.UsagePercentage() != 50 {
		t.Fatalf("expected 50%%, got %d", m.UsagePercentage())
	}
}

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		0:                "0B",
		512:              "512B",
		1024:             "1.0KB",
		1024 * 1024:      "1.0MB",
		1024 * 1024 * 1024: "1.0GB",
		1536 * 1024:      "1.5MB",
	}
	for in, want := range cases {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
