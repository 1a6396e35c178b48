package diagnostics

import (
	"runtime"
	"testing"
)

func TestCollect(t *testing.T) {
	t.Parallel()
	r := Collect("")

	if r.GoVersion != runtime.Version() {
		t.Errorf("go_version = %q", r.GoVersion)
	}
	if r.OS != runtime.GOOS || r.Arch != runtime.GOARCH {
		t.Errorf("os/arch = %s/%s", r.OS, r.Arch)
	}
	if r.NumCPU < 1 {
		t.Errorf("num_cpu = %d", r.NumCPU)
	}
	if r.MemTotalMB <= 0 {
		t.Errorf("mem_total_mb = %f, want positive", r.MemTotalMB)
	}
}

func TestDiskPathFor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if got := diskPathFor(dir); got != dir {
		t.Errorf("diskPathFor(existing dir) = %q, want %q", got, dir)
	}

	got := diskPathFor("/does/not/exist")
	if runtime.GOOS != "windows" && got != "/" {
		t.Errorf("fallback = %q, want /", got)
	}
}
