package courier

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/pedidos/internal/orders"
	"github.com/zulandar/pedidos/internal/storage"
)

func newTestDaemon(t *testing.T) (*Daemon, *MockAdapter, *storage.Manager) {
	t.Helper()
	clock := newDispatchClock(12)
	store := orders.NewStore(orders.StoreOpts{Now: clock.Now})
	mgr, err := storage.NewManager(storage.ManagerOpts{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	dispatcher, adapter := newTestDispatcher(t, clock, DispatcherOpts{HourlyCap: 100})
	adapter.SetGroup("PEDIDOS DAATCS", "group@g")

	var out bytes.Buffer
	daemon, err := NewDaemon(DaemonOpts{
		Store:         store,
		Storage:       mgr,
		Adapter:       adapter,
		Dispatcher:    dispatcher,
		OrdersKeyword: "pedidos",
		OrgKeyword:    "daatcs",
		Out:           &out,
	})
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	return daemon, adapter, mgr
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- NewDaemon tests ---

func TestNewDaemon_MissingDeps(t *testing.T) {
	if _, err := NewDaemon(DaemonOpts{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}

// --- Run tests ---

func TestDaemon_AnnouncesAndHandlesCommands(t *testing.T) {
	daemon, adapter, mgr := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- daemon.Run(ctx) }()

	// Startup banner reaches the resolved group despite the hour gate.
	waitFor(t, func() bool { return adapter.SentCount() >= 1 }, "online announcement")
	first := adapter.AllSent()[0]
	if first.Address != "group@g" || !strings.Contains(first.Text, "CONECTADO") {
		t.Errorf("announcement = %+v", first)
	}
	if daemon.Status() != StatusConnected {
		t.Errorf("status = %q, want connected", daemon.Status())
	}
	if daemon.GroupAddress() != "group@g" {
		t.Errorf("group address = %q", daemon.GroupAddress())
	}

	adapter.SimulateInbound(InboundMessage{
		Address:    "group@g",
		SenderID:   "555@c",
		SenderName: "Ana",
		Text:       "/nuevo Camiseta M azul",
		IsGroup:    true,
		GroupName:  "PEDIDOS DAATCS",
	})

	waitFor(t, func() bool {
		last, ok := adapter.LastSent()
		return ok && strings.Contains(last.Text, "#001")
	}, "command reply")

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	// Shutdown flushed a final snapshot.
	snap, err := mgr.Load()
	if err != nil {
		t.Fatalf("load after shutdown: %v", err)
	}
	if len(snap.Orders) != 1 {
		t.Errorf("persisted orders = %d, want 1", len(snap.Orders))
	}
	if daemon.Status() != StatusDisconnected {
		t.Errorf("status after shutdown = %q", daemon.Status())
	}
}

func TestDaemon_ProcessesInArrivalOrder(t *testing.T) {
	daemon, adapter, _ := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- daemon.Run(ctx) }()
	waitFor(t, func() bool { return adapter.SentCount() >= 1 }, "online announcement")

	for i := 0; i < 3; i++ {
		adapter.SimulateInbound(InboundMessage{
			Address:    "group@g",
			SenderID:   "555@c",
			SenderName: "Ana",
			Text:       "/nuevo pedido",
			IsGroup:    true,
			GroupName:  "PEDIDOS DAATCS",
		})
	}

	waitFor(t, func() bool { return adapter.SentCount() >= 4 }, "three replies")

	// Replies carry strictly increasing order IDs: no reordering happened.
	var ids []string
	for _, s := range adapter.AllSent()[1:] {
		for _, want := range []string{"#001", "#002", "#003"} {
			if strings.Contains(s.Text, want) {
				ids = append(ids, want)
			}
		}
	}
	if len(ids) != 3 || ids[0] != "#001" || ids[1] != "#002" || ids[2] != "#003" {
		t.Errorf("reply order = %v", ids)
	}

	cancel()
	<-done
}

func TestStats_UsesInjectedClock(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	current := base
	stats := NewStats(func() time.Time { return current })

	current = base.Add(45 * time.Minute)
	stats.Received()

	_, _, _, _, start, last := stats.view()
	if !start.Equal(base) {
		t.Errorf("startTime = %v, want %v", start, base)
	}
	if !last.Equal(current) {
		t.Errorf("lastActivity = %v, want %v", last, current)
	}
}

func TestDaemon_StatsTrackActivity(t *testing.T) {
	daemon, adapter, _ := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- daemon.Run(ctx) }()
	waitFor(t, func() bool { return adapter.SentCount() >= 1 }, "online announcement")

	adapter.SimulateInbound(InboundMessage{
		Address:    "group@g",
		SenderID:   "555@c",
		SenderName: "Ana",
		Text:       "/lista",
		IsGroup:    true,
		GroupName:  "PEDIDOS DAATCS",
	})
	waitFor(t, func() bool { return adapter.SentCount() >= 2 }, "lista reply")

	h := daemon.Health()
	if h.MessagesReceived != 1 || h.CommandsExecuted != 1 {
		t.Errorf("health = %+v", h)
	}
	if h.MessagesSent < 2 {
		t.Errorf("messagesSent = %d, want >= 2", h.MessagesSent)
	}

	cancel()
	<-done
}
