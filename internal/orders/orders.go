// Package orders owns the order book: the order model, its lifecycle state
// machine, and the in-memory store the rest of the bot mutates. It performs
// no I/O; persistence is layered on top via Snapshot/Restore.
package orders

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Valid order statuses. The state machine is deliberately fully connected:
// any status may move to any other, including out of entregado/cancelado
// (reopening a delivered or cancelled order is allowed).
const (
	StatusPendiente  = "pendiente"
	StatusConfirmado = "confirmado"
	StatusProceso    = "proceso"
	StatusDiseno     = "diseño"
	StatusProduccion = "produccion"
	StatusControl    = "control"
	StatusListo      = "listo"
	StatusEntregado  = "entregado"
	StatusCancelado  = "cancelado"
	StatusPausado    = "pausado"
)

// AllStatuses lists every valid status in display order.
var AllStatuses = []string{
	StatusPendiente,
	StatusConfirmado,
	StatusProceso,
	StatusDiseno,
	StatusProduccion,
	StatusControl,
	StatusListo,
	StatusEntregado,
	StatusCancelado,
	StatusPausado,
}

// IsValidStatus reports whether s is one of the known statuses.
func IsValidStatus(s string) bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status counts as terminal for the active-order
// counter. Terminal here only affects counting — transitions out of a
// terminal status remain legal.
func IsTerminal(status string) bool {
	return status == StatusEntregado || status == StatusCancelado
}

// SeedActor is the actor recorded on the initial history entry of every order.
const SeedActor = "sistema"

// HistoryEntry records one status change on an order.
type HistoryEntry struct {
	Status string    `json:"estado"`
	At     time.Time `json:"fecha"`
	Actor  string    `json:"usuario"`
}

// Order is a tracked customer request.
type Order struct {
	ID              string         `json:"id"`
	Description     string         `json:"descripcion"`
	CustomerName    string         `json:"cliente"`
	CustomerContact string         `json:"telefono"`
	Status          string         `json:"estado"`
	CreatedAt       time.Time      `json:"fechaCreacion"`
	UpdatedAt       time.Time      `json:"fechaActualizacion"`
	History         []HistoryEntry `json:"historial"`
}

// clone returns a deep copy so callers can't mutate store-owned state.
func (o *Order) clone() *Order {
	cp := *o
	cp.History = make([]HistoryEntry, len(o.History))
	copy(cp.History, o.History)
	return &cp
}

// Snapshot is the full serialized state of the store at a point in time.
// Its JSON shape is the durable on-disk format.
type Snapshot struct {
	Orders      []*Order `json:"pedidos"`
	NextID      int      `json:"nextId"`
	TotalCount  int      `json:"total"`
	ActiveCount int      `json:"activos"`
}

// ValidationError signals malformed user input (e.g. an empty description).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("orders: invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError signals an unknown order ID.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("orders: order %s not found", e.ID)
}

// InvalidStatusError signals a status outside the fixed enumeration.
type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("orders: invalid status %q (valid: %s)",
		e.Status, strings.Join(AllStatuses, ", "))
}

// Store is the in-memory order book. All methods are safe for concurrent
// use; a single mutex guards the whole book (throughput is a handful of
// chat commands per minute).
type Store struct {
	mu          sync.Mutex
	orders      []*Order
	nextID      int
	totalCount  int
	activeCount int
	now         func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	Now func() time.Time // test clock; defaults to time.Now
}

// NewStore creates an empty Store.
func NewStore(opts StoreOpts) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		nextID: 1,
		now:    now,
	}
}

// PadID normalizes an order ID to the zero-padded form used by the store,
// so "1" and "001" address the same order.
func PadID(id string) string {
	id = strings.TrimPrefix(strings.TrimSpace(id), "#")
	if len(id) >= 3 {
		return id
	}
	return strings.Repeat("0", 3-len(id)) + id
}

// Create allocates the next order ID and adds a new order in status
// pendiente with its seed history entry.
func (s *Store) Create(description, customerName, customerContact string) (*Order, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, &ValidationError{Field: "descripcion", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	o := &Order{
		ID:              fmt.Sprintf("%03d", s.nextID),
		Description:     description,
		CustomerName:    customerName,
		CustomerContact: customerContact,
		Status:          StatusPendiente,
		CreatedAt:       now,
		UpdatedAt:       now,
		History: []HistoryEntry{
			{Status: StatusPendiente, At: now, Actor: SeedActor},
		},
	}

	s.orders = append(s.orders, o)
	s.nextID++
	s.totalCount++
	s.activeCount++

	return o.clone(), nil
}

// ChangeStatus moves an order to newStatus, appends a history entry, and
// adjusts the active counter when the transition crosses the terminal
// boundary. Returns the updated order and the previous status.
func (s *Store) ChangeStatus(id, newStatus, actor string) (*Order, string, error) {
	newStatus = strings.ToLower(strings.TrimSpace(newStatus))
	if !IsValidStatus(newStatus) {
		return nil, "", &InvalidStatusError{Status: newStatus}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.find(PadID(id))
	if o == nil {
		return nil, "", &NotFoundError{ID: id}
	}

	prev := o.Status
	now := s.now()
	o.Status = newStatus
	o.UpdatedAt = now
	o.History = append(o.History, HistoryEntry{Status: newStatus, At: now, Actor: actor})

	// The counter moves only when the transition crosses into or out of
	// the terminal set; terminal→terminal and active→active are no-ops.
	switch {
	case IsTerminal(newStatus) && !IsTerminal(prev):
		s.activeCount--
	case !IsTerminal(newStatus) && IsTerminal(prev):
		s.activeCount++
	}

	return o.clone(), prev, nil
}

// Get returns the order with the given (possibly unpadded) ID.
func (s *Store) Get(id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.find(PadID(id))
	if o == nil {
		return nil, &NotFoundError{ID: id}
	}
	return o.clone(), nil
}

// find must be called with s.mu held.
func (s *Store) find(paddedID string) *Order {
	for _, o := range s.orders {
		if o.ID == paddedID {
			return o
		}
	}
	return nil
}

// ListActive returns every non-terminal order, most recently updated first.
// Display truncation is the caller's concern.
func (s *Store) ListActive() []*Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*Order
	for _, o := range s.orders {
		if !IsTerminal(o.Status) {
			active = append(active, o.clone())
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].UpdatedAt.After(active[j].UpdatedAt)
	})
	return active
}

// StatusHistogram counts orders per status by scanning the full book.
func (s *Store) StatusHistogram() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := make(map[string]int)
	for _, o := range s.orders {
		hist[o.Status]++
	}
	return hist
}

// ActiveCount returns the cached count of non-terminal orders.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCount
}

// TotalCount returns the number of orders ever created.
func (s *Store) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCount
}

// NextID returns the ID that the next created order will receive.
func (s *Store) NextID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID
}

// Snapshot returns a deep copy of the full store state for persistence.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Orders:      make([]*Order, len(s.orders)),
		NextID:      s.nextID,
		TotalCount:  s.totalCount,
		ActiveCount: s.activeCount,
	}
	for i, o := range s.orders {
		snap.Orders[i] = o.clone()
	}
	return snap
}

// Restore replaces the store contents from a persisted snapshot. The active
// counter is re-derived from the order list rather than trusted from disk,
// and nextID is floored to one past the highest order ID present, so a stale
// or hand-edited snapshot can't leave the cache out of sync or reissue an
// ID that is already taken.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = make([]*Order, len(snap.Orders))
	active := 0
	maxID := 0
	for i, o := range snap.Orders {
		s.orders[i] = o.clone()
		if !IsTerminal(o.Status) {
			active++
		}
		if n, err := strconv.Atoi(strings.TrimLeft(o.ID, "0")); err == nil && n > maxID {
			maxID = n
		}
	}
	s.activeCount = active
	s.totalCount = snap.TotalCount
	if s.totalCount < len(snap.Orders) {
		s.totalCount = len(snap.Orders)
	}
	s.nextID = snap.NextID
	if s.nextID <= maxID {
		s.nextID = maxID + 1
	}
	if s.nextID < 1 {
		s.nextID = 1
	}
}
