package confstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type delivery struct {
	data []byte
	stat Stat
}

func collectDeliveries(t *testing.T, buf int) (WatchFunc, chan delivery) {
	t.Helper()
	ch := make(chan delivery, buf)
	return func(data []byte, stat Stat) {
		ch <- delivery{data: data, stat: stat}
	}, ch
}

func waitDelivery(t *testing.T, ch chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config delivery")
		return delivery{}
	}
}

func TestFileWatcher_AbsentEntryDeliveredOnRegistration(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWatcher(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileWatcher: %v", err)
	}
	defer w.Close()

	fn, ch := collectDeliveries(t, 4)
	if err := w.Watch("/statshive/profiling/nodes", fn); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	d := waitDelivery(t, ch)
	if d.data != nil {
		t.Fatalf("expected nil data for absent entry, got %q", d.data)
	}
	if d.stat.Version != 0 {
		t.Fatalf("expected version 0 for absent entry, got %d", d.stat.Version)
	}
}

func TestFileWatcher_ExistingEntryDeliveredOnRegistration(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`{"enabled": true, "interval": 10}`)
	if err := os.WriteFile(filepath.Join(dir, "nodes.json"), content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, err := NewFileWatcher(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileWatcher: %v", err)
	}
	defer w.Close()

	fn, ch := collectDeliveries(t, 4)
	if err := w.Watch("/statshive/profiling/nodes", fn); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	d := waitDelivery(t, ch)
	if string(d.data) != string(content) {
		t.Fatalf("expected %q, got %q", content, d.data)
	}
	if d.stat.Version == 0 {
		t.Fatal("expected non-zero version for existing entry")
	}
}

func TestFileWatcher_ChangeDelivered(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWatcher(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileWatcher: %v", err)
	}
	defer w.Close()

	fn, ch := collectDeliveries(t, 8)
	if err := w.Watch("/statshive/profiling/processes", fn); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Initial delivery: absent.
	if d := waitDelivery(t, ch); d.data != nil {
		t.Fatalf("expected absent entry first, got %q", d.data)
	}

	content := []byte(`{"enabled": true, "interval": 5, "detailed": false}`)
	if err := os.WriteFile(filepath.Join(dir, "processes.json"), content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// File creation can surface as separate Create and Write events;
	// accept any delivery carrying the written content.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case d := <-ch:
			if string(d.data) == string(content) {
				return
			}
		case <-deadline:
			t.Fatal("change was never delivered")
		}
	}
}

func TestFileWatcher_RemovalDeliveredAsAbsent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "proxies.json")
	if err := os.WriteFile(target, []byte(`{"enabled": false}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, err := NewFileWatcher(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileWatcher: %v", err)
	}
	defer w.Close()

	fn, ch := collectDeliveries(t, 8)
	if err := w.Watch("/statshive/profiling/proxies", fn); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if d := waitDelivery(t, ch); d.data == nil {
		t.Fatal("expected initial delivery with content")
	}

	if err := os.Remove(target); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case d := <-ch:
			if d.data == nil {
				return
			}
		case <-deadline:
			t.Fatal("removal was never delivered")
		}
	}
}

func TestEntryFileName(t *testing.T) {
	cases := map[string]string{
		"/statshive/profiling/nodes": "nodes.json",
		"processes":                  "processes.json",
	}
	for entry, want := range cases {
		if got := entryFileName(entry); got != want {
			t.Errorf("entryFileName(%q) = %q, want %q", entry, got, want)
		}
	}
}
