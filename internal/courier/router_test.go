package courier

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/zulandar/pedidos/internal/orders"
	"github.com/zulandar/pedidos/internal/storage"
)

func newTestRouter(t *testing.T, botUserID string) (*Router, *MockAdapter, *orders.Store) {
	t.Helper()
	clock := newDispatchClock(12)
	store := orders.NewStore(orders.StoreOpts{Now: clock.Now})
	mgr, err := storage.NewManager(storage.ManagerOpts{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	dispatcher, adapter := newTestDispatcher(t, clock, DispatcherOpts{HourlyCap: 100})
	handler, err := NewCommandHandler(CommandHandlerOpts{
		Store:      store,
		Saver:      mgr,
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("new command handler: %v", err)
	}

	var out bytes.Buffer
	router, err := NewRouter(RouterOpts{
		CmdHandler:    handler,
		Dispatcher:    dispatcher,
		OrdersKeyword: "pedidos",
		OrgKeyword:    "daatcs",
		BotUserID:     botUserID,
		Out:           &out,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router, adapter, store
}

// --- NewRouter tests ---

func TestNewRouter_MissingDeps(t *testing.T) {
	if _, err := NewRouter(RouterOpts{}); err == nil {
		t.Fatal("expected error for nil command handler")
	}
}

func TestNewRouter_MissingKeywords(t *testing.T) {
	clock := newDispatchClock(12)
	dispatcher, _ := newTestDispatcher(t, clock, DispatcherOpts{})
	_, err := NewRouter(RouterOpts{
		CmdHandler: &CommandHandler{},
		Dispatcher: dispatcher,
	})
	if err == nil {
		t.Fatal("expected error for missing keywords")
	}
}

// --- gating tests ---

func TestAuthorized(t *testing.T) {
	router, _, _ := newTestRouter(t, "")

	tests := []struct {
		name      string
		isGroup   bool
		groupName string
		want      bool
	}{
		{"authorized group", true, "PEDIDOS DAATCS", true},
		{"case-insensitive", true, "pedidos daatcs oficial", true},
		{"keywords embedded", true, "Grupo de Pedidos - DAATCS 2025", true},
		{"missing org keyword", true, "PEDIDOS GENERALES", false},
		{"missing orders keyword", true, "EQUIPO DAATCS", false},
		{"direct chat", false, "", false},
	}
	for _, tt := range tests {
		msg := InboundMessage{IsGroup: tt.isGroup, GroupName: tt.groupName}
		if got := router.Authorized(msg); got != tt.want {
			t.Errorf("%s: Authorized = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHandle_IgnoresUnauthorizedGroup(t *testing.T) {
	router, adapter, store := newTestRouter(t, "")

	router.Handle(context.Background(), InboundMessage{
		Address:   "other@g",
		SenderID:  "x@c",
		Text:      "/nuevo Camiseta",
		IsGroup:   true,
		GroupName: "OTRO GRUPO",
	})

	if store.TotalCount() != 0 {
		t.Error("command executed from unauthorized group")
	}
	if adapter.SentCount() != 0 {
		t.Error("reply sent to unauthorized group")
	}
}

func TestHandle_IgnoresSelfMessages(t *testing.T) {
	router, adapter, store := newTestRouter(t, "bot-1")

	router.Handle(context.Background(), InboundMessage{
		Address:   "group@g",
		SenderID:  "bot-1",
		Text:      "/nuevo Camiseta",
		IsGroup:   true,
		GroupName: "PEDIDOS DAATCS",
	})

	if store.TotalCount() != 0 || adapter.SentCount() != 0 {
		t.Error("self-message processed")
	}
}

func TestHandle_IgnoresPlainChatter(t *testing.T) {
	router, adapter, _ := newTestRouter(t, "")

	router.Handle(context.Background(), InboundMessage{
		Address:   "group@g",
		SenderID:  "x@c",
		Text:      "buenos días a todos",
		IsGroup:   true,
		GroupName: "PEDIDOS DAATCS",
	})

	if adapter.SentCount() != 0 {
		t.Error("replied to plain chatter")
	}
}

func TestHandle_CommandRepliesToGroup(t *testing.T) {
	router, adapter, store := newTestRouter(t, "")

	router.Handle(context.Background(), InboundMessage{
		Address:    "group@g",
		SenderID:   "555@c",
		SenderName: "Ana",
		Text:       "/nuevo Camiseta M azul",
		IsGroup:    true,
		GroupName:  "PEDIDOS DAATCS",
	})

	if store.TotalCount() != 1 {
		t.Fatal("order not created")
	}
	last, ok := adapter.LastSent()
	if !ok {
		t.Fatal("no reply sent")
	}
	if last.Address != "group@g" || !strings.Contains(last.Text, "#001") {
		t.Errorf("reply = %+v", last)
	}
}
