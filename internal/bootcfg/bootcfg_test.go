package bootcfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsPriorityCooperativeNoInheritance(t *testing.T) {
	c := Default()
	if !c.Scheduler.Priority {
		t.Error("Default() should boot with priority scheduling")
	}
	if c.Scheduler.Inherit {
		t.Error("Default() should not enable priority inheritance")
	}
	if c.Scheduler.Preemption {
		t.Error("Default() should boot cooperative, not preemptive")
	}
	if c.Version != 1 {
		t.Errorf("Version = %d, want 1", c.Version)
	}
}

func TestLoadParsesSchedulerAndSemaphores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, Filename)
	contents := `
version: 2
scheduler:
  priority: true
  inherit: true
  preemption: true
semaphores:
  - index: 0
    count: 3
  - index: 1
    count: 0
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != 2 {
		t.Errorf("Version = %d, want 2", cfg.Version)
	}
	if !cfg.Scheduler.Priority || !cfg.Scheduler.Inherit || !cfg.Scheduler.Preemption {
		t.Errorf("scheduler flags not parsed correctly: %+v", cfg.Scheduler)
	}
	if len(cfg.Semaphores) != 2 || cfg.Semaphores[0].Count != 3 {
		t.Errorf("semaphores not parsed correctly: %+v", cfg.Semaphores)
	}
}

func TestLoadNormalizesZeroVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, Filename)
	if err := os.WriteFile(path, []byte("scheduler:\n  priority: true\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want normalized to 1", cfg.Version)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/preemptos.yaml"); err == nil {
		t.Error("expected an error for a missing file")
	}
}
