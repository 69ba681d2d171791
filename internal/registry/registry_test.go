package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/screencastd/screencastd/internal/config"
	"github.com/screencastd/screencastd/internal/router"
)

const sampleDoc = `{
  "server": {"path": "/desk"},
  "ffmpeg": {"ffmpeg_path": "/bin/true"},
  "source": {"type": "screen"}
}`

func writeConfig(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(sampleDoc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestCreateAllocatesSequentialPorts(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "desk-one")
	writeConfig(t, dir, "desk-two")

	loader := config.NewLoader(dir, dir)
	rt := router.New()
	reg := New(19000, loader, rt, nil, nil, nil)

	one, err := reg.Create("desk-one")
	if err != nil {
		t.Fatalf("Create desk-one: %v", err)
	}
	two, err := reg.Create("desk-two")
	if err != nil {
		t.Fatalf("Create desk-two: %v", err)
	}

	if one.Port() == two.Port() {
		t.Fatalf("expected distinct ports, got %d and %d", one.Port(), two.Port())
	}
	if one.Port() < 19000 || two.Port() < 19000 {
		t.Fatalf("expected ports >= base port 19000, got %d and %d", one.Port(), two.Port())
	}
}

func TestCreateRejectsDuplicateInstance(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "desk-one")

	loader := config.NewLoader(dir, dir)
	rt := router.New()
	reg := New(19100, loader, rt, nil, nil, nil)

	if _, err := reg.Create("desk-one"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.Create("desk-one"); err == nil {
		t.Fatalf("expected creating the same instance twice to fail")
	}
}

func TestRemoveStoppedInstanceReleasesRoute(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "desk-one")

	loader := config.NewLoader(dir, dir)
	rt := router.New()
	reg := New(19200, loader, rt, nil, nil, nil)

	inst, err := reg.Create("desk-one")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := reg.Remove(inst.Name()); err != nil {
		t.Fatalf("expected removing a stopped instance to succeed, got %v", err)
	}
	if _, ok := rt.Lookup(inst.Port(), inst.Path()); ok {
		t.Fatalf("expected the route to be released on removal")
	}
}

func TestListAllReturnsEverySnapshot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "desk-one")
	writeConfig(t, dir, "desk-two")

	loader := config.NewLoader(dir, dir)
	rt := router.New()
	reg := New(19300, loader, rt, nil, nil, nil)
	_, _ = reg.Create("desk-one")
	_, _ = reg.Create("desk-two")

	snapshots := reg.ListAll()
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snapshots))
	}
}

func TestLoadFromDirectoryCreatesEveryConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "desk-one")
	writeConfig(t, dir, "desk-two")

	loader := config.NewLoader(dir, dir)
	rt := router.New()
	reg := New(19400, loader, rt, nil, nil, nil)

	errs := reg.LoadFromDirectory(context.TODO())
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(reg.ListAll()) != 2 {
		t.Fatalf("expected 2 instances loaded, got %d", len(reg.ListAll()))
	}
}
