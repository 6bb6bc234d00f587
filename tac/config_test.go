package tac

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigStackPushPop(t *testing.T) {
	base := DefaultConfig()
	s := NewConfigStack(base)

	modified := base
	modified.MaxIterations = 5
	s.Push(modified)
	if s.Current().MaxIterations != 5 {
		t.Fatalf("expected pushed config on top, got %d", s.Current().MaxIterations)
	}
	s.Pop()
	if s.Current().MaxIterations != base.MaxIterations {
		t.Fatalf("expected base config restored after pop")
	}
	// Popping the base entry is a no-op.
	s.Pop()
	if s.Current() != base {
		t.Fatalf("expected the base entry to survive a pop on an empty stack")
	}
}

func TestConfigFileRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 42
	cfg.WidenThreshold = 3
	cfg.GenerateThrows = true

	path := filepath.Join(t.TempDir(), "analysis.toml")
	if err := DumpConfigFile(path, cfg); err != nil {
		t.Fatalf("DumpConfigFile: %v", err)
	}

	loaded, err := LoadConfigFile(path, DefaultConfig())
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("round-tripped config differs:\n got %+v\nwant %+v", loaded, cfg)
	}
}

func TestLoadConfigFileRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("NoSuchOption = true\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := LoadConfigFile(path, DefaultConfig()); err == nil {
		t.Fatalf("expected an unknown key to be rejected")
	}
}
