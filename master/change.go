package master

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ChangeKind names the mutation that produced a ChangeEvent.
type ChangeKind string

const (
	ChangeAdded         ChangeKind = "ADDED"
	ChangeUpdated       ChangeKind = "UPDATED"
	ChangeCorrected     ChangeKind = "CORRECTED"
	ChangeRemoved       ChangeKind = "REMOVED"
	ChangePointsUpdated ChangeKind = "POINTS_UPDATED"
)

// ParseChangeKind validates the textual form of a ChangeKind.
func ParseChangeKind(text string) (ChangeKind, error) {
	switch kind := ChangeKind(text); kind {
	case ChangeAdded, ChangeUpdated, ChangeCorrected, ChangeRemoved, ChangePointsUpdated:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: unknown change kind %q", ErrInvalidArgument, text)
	}
}

// ChangeEvent is emitted once per committed mutation. Listeners must be idempotent on
// (ObjectID, Kind, AsOf) because delivery is at-least-once.
type ChangeEvent struct {
	ObjectID ObjectID   `json:"objectId"`
	Kind     ChangeKind `json:"changeKind"`
	AsOf     time.Time  `json:"asOfInstant"`
}

// EncodeChangeEvent encodes the wire form of an event.
func EncodeChangeEvent(event ChangeEvent) ([]byte, error) {
	return codec.Marshal(event)
}

// DecodeChangeEvent decodes the wire form of an event.
func DecodeChangeEvent(data []byte) (ChangeEvent, error) {
	var event ChangeEvent
	if err := codec.Unmarshal(data, &event); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if _, err := ParseChangeKind(string(event.Kind)); err != nil {
		return ChangeEvent{}, err
	}

	return event, nil
}

// ChangeNotifier receives committed changes. Errors are logged by the master and never
// undo the commit.
type ChangeNotifier interface {
	Notify(ctx context.Context, event ChangeEvent) error
}

// ChangeListener is an in-process subscriber.
type ChangeListener func(ctx context.Context, event ChangeEvent) error

// BasicChangeManager fans events out to in-process listeners.
type BasicChangeManager struct {
	mu        sync.RWMutex
	listeners map[uint64]ChangeListener
	nextID    uint64
}

// NewBasicChangeManager creates a manager without listeners.
func NewBasicChangeManager() *BasicChangeManager {
	return &BasicChangeManager{listeners: make(map[uint64]ChangeListener)}
}

// Subscribe registers listener and returns the function that removes it again.
func (m *BasicChangeManager) Subscribe(listener ChangeListener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = listener

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Notify calls every listener and joins their errors. A failing listener does not stop the others.
func (m *BasicChangeManager) Notify(ctx context.Context, event ChangeEvent) error {
	m.mu.RLock()
	listeners := make([]ChangeListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := l(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// FanOut forwards each event to all notifiers.
type FanOut []ChangeNotifier

// Notify forwards event and joins the errors.
func (f FanOut) Notify(ctx context.Context, event ChangeEvent) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
