package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"codereview/internal/config"
	"codereview/internal/db"
	"codereview/internal/engine"
)

func TestOpenSQLiteWorkspace(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := Open(ctx, Options{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Backend != "sqlite" {
		t.Fatalf("expected sqlite backend, got %s", a.Backend)
	}
	if _, err := os.Stat(db.Path(dir)); err != nil {
		t.Fatalf("database file missing: %v", err)
	}
	task, err := a.Engine.SubmitTask(ctx, engine.SubmitInput{ActorID: DefaultActor, Title: "t", Description: "d", Code: "c"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := a.Engine.GetTask(ctx, DefaultActor, task.ID)
	if err != nil || got.ID != task.ID {
		t.Fatalf("get task: %v", err)
	}
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte("pricing:\n  amount: 4900\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := Open(context.Background(), Options{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Config.Pricing.Amount != 4900 || a.Engine.Gate().Amount != 4900 {
		t.Fatalf("config not applied: %+v", a.Config.Pricing)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte("pricing:\n  amount: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(context.Background(), Options{Workspace: dir}); err == nil {
		t.Fatalf("expected config error")
	}
}
