package prompt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherStartFailureLeavesStopNonBlocking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "system.txt")
	w, err := NewRulesWatcher(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail for a missing directory")
	}

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after failed Start")
	}
}

func TestWatcherStartStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.txt")
	if err := os.WriteFile(path, []byte("rules"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewRulesWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second Start = %v, want nil", err)
	}
	w.Stop()
	w.Stop()
}
