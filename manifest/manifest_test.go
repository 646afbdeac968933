package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "kumo.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"
version = "0.1.0"

[run]
module = "out/demo.kumo"
trace = true
step-limit = 5000

[store]
path = "kumo.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Project.Name != "demo" || m.Project.Version != "0.1.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if !m.Run.Trace || m.Run.StepLimit != 5000 {
		t.Errorf("run = %+v", m.Run)
	}
	if m.ModulePath() != filepath.Join(m.Dir, "out", "demo.kumo") {
		t.Errorf("ModulePath = %s", m.ModulePath())
	}
	if m.StorePath() != filepath.Join(m.Dir, "kumo.db") {
		t.Errorf("StorePath = %s", m.StorePath())
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "bare"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Run.Module != "bytecode.kumo" {
		t.Errorf("default module = %q", m.Run.Module)
	}
	if m.Run.Trace || m.Run.StepLimit != 0 {
		t.Errorf("run defaults = %+v", m.Run)
	}
	if m.StorePath() != "" {
		t.Errorf("StorePath = %q, want empty", m.StorePath())
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing kumo.toml")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `
[project]
name = "nested"
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m == nil {
		t.Fatal("manifest not found from nested dir")
	}
	if m.Project.Name != "nested" {
		t.Errorf("name = %q", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m != nil {
		t.Errorf("manifest = %+v, want nil", m)
	}
}
