package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "appliance.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") expected error")
	}
}

func TestInitCreatesSingletonRecord(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Record(context.Background())
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if rec.InstallDisk != "" || rec.ChangesApplied {
		t.Errorf("fresh record = %+v, want empty", rec)
	}
}

func TestRecordUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetInstallDisk(ctx, "/dev/nvme0n1"); err != nil {
		t.Fatalf("SetInstallDisk() error = %v", err)
	}
	if err := s.SetChangesApplied(ctx, true); err != nil {
		t.Fatalf("SetChangesApplied() error = %v", err)
	}
	if err := s.SetLastBuild(ctx, "install", 0); err != nil {
		t.Fatalf("SetLastBuild() error = %v", err)
	}

	rec, err := s.Record(ctx)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if rec.InstallDisk != "/dev/nvme0n1" {
		t.Errorf("InstallDisk = %q", rec.InstallDisk)
	}
	if !rec.ChangesApplied {
		t.Error("ChangesApplied = false, want true")
	}
	if rec.LastBuildKind != "install" || rec.LastBuildStatus != 0 {
		t.Errorf("LastBuild = %q/%d, want install/0", rec.LastBuildKind, rec.LastBuildStatus)
	}

	// The record is replaced, never appended.
	if err := s.SetChangesApplied(ctx, false); err != nil {
		t.Fatalf("SetChangesApplied() error = %v", err)
	}
	rec, err = s.Record(ctx)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if rec.ChangesApplied {
		t.Error("ChangesApplied = true after reset")
	}
}
