package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/zulandar/pedidos/internal/orders"
	"github.com/zulandar/pedidos/internal/storage"
)

// writeFixture creates a config file and a populated snapshot in a temp dir.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	configPath := filepath.Join(dir, "pedidos.yaml")
	cfgYAML := fmt.Sprintf("group:\n  org_keyword: daatcs\nstorage:\n  dir: %s\n", dir)
	if err := os.WriteFile(configPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	store := orders.NewStore(orders.StoreOpts{})
	store.Create("logo empresa", "Ana", "555-0001")
	second, _ := store.Create("tarjetas presentacion", "Luis", "555-0002")
	store.ChangeStatus(second.ID, orders.StatusEntregado, "admin")

	mgr, err := storage.NewManager(storage.ManagerOpts{Dir: dir, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Save(store.Snapshot()); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	return configPath
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("command %v failed: %v", args, err)
	}
	return buf.String()
}

func TestOrdersList(t *testing.T) {
	configPath := writeFixture(t)

	out := runCommand(t, "orders", "list", "-c", configPath)
	if !strings.Contains(out, "#001") {
		t.Errorf("expected #001 in output, got: %s", out)
	}
	if !strings.Contains(out, "logo empresa") {
		t.Errorf("expected description in output, got: %s", out)
	}
	// Delivered orders are not active and must not be listed.
	if strings.Contains(out, "#002") {
		t.Errorf("delivered order should not be listed, got: %s", out)
	}
}

func TestOrdersList_Empty(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "pedidos.yaml")
	cfgYAML := fmt.Sprintf("group:\n  org_keyword: daatcs\nstorage:\n  dir: %s\n", dir)
	if err := os.WriteFile(configPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, _ := storage.NewManager(storage.ManagerOpts{Dir: dir, Logger: zerolog.Nop()})
	store := orders.NewStore(orders.StoreOpts{})
	if err := mgr.Save(store.Snapshot()); err != nil {
		t.Fatal(err)
	}

	out := runCommand(t, "orders", "list", "-c", configPath)
	if !strings.Contains(out, "No active orders") {
		t.Errorf("expected empty message, got: %s", out)
	}
}

func TestOrdersShow(t *testing.T) {
	configPath := writeFixture(t)

	out := runCommand(t, "orders", "show", "#002", "-c", configPath)
	if !strings.Contains(out, "#002") {
		t.Errorf("expected #002 in output, got: %s", out)
	}
	if !strings.Contains(out, "tarjetas presentacion") {
		t.Errorf("expected description, got: %s", out)
	}
	if !strings.Contains(out, orders.StatusEntregado) {
		t.Errorf("expected status entregado, got: %s", out)
	}
	if !strings.Contains(out, "History:") {
		t.Errorf("expected history section, got: %s", out)
	}
}

func TestOrdersShow_NotFound(t *testing.T) {
	configPath := writeFixture(t)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"orders", "show", "#999", "-c", configPath})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown order")
	}
}

func TestOrdersStats(t *testing.T) {
	configPath := writeFixture(t)

	out := runCommand(t, "orders", "stats", "-c", configPath)
	if !strings.Contains(out, "Total orders:  2") {
		t.Errorf("expected total 2, got: %s", out)
	}
	if !strings.Contains(out, "Active orders: 1") {
		t.Errorf("expected active 1, got: %s", out)
	}
	if !strings.Contains(out, orders.StatusPendiente) {
		t.Errorf("expected pendiente row, got: %s", out)
	}
}

func TestOrders_MissingSnapshot(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "pedidos.yaml")
	cfgYAML := fmt.Sprintf("group:\n  org_keyword: daatcs\nstorage:\n  dir: %s\n", dir)
	if err := os.WriteFile(configPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"orders", "list", "-c", configPath})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error when snapshot is missing")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("una descripcion bastante larga", 10); len([]rune(got)) != 10 {
		t.Errorf("truncated length = %d, want 10", len([]rune(got)))
	}
}
