package thingmsg

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// RegistrationID identifies one live registration. It carries the
// caller-chosen key plus a token unique to the registration, so an id kept
// after Unregister never removes a later registration reusing the same key.
type RegistrationID struct {
	key   string
	token uuid.UUID
}

// Key returns the caller-chosen key.
func (id RegistrationID) Key() string { return id.key }

// IsZero reports whether id was never issued.
func (id RegistrationID) IsZero() bool { return id.token == uuid.Nil }

func (id RegistrationID) String() string {
	return id.key + "#" + id.token.String()
}

// invoker decodes the payload for one registration and calls its handler.
// Decode failures come back as *decodeError.
type invoker func(ctx context.Context, msg InboundMessage) error

// Registration is a handler bound to a scope, a subject pattern and a
// payload type. Registrations are created by Register and owned by a Table.
type Registration struct {
	id      RegistrationID
	scope   Scope
	pattern SubjectPattern
	tag     TypeTag
	filters []Matcher
	invoke  invoker
}

// ID returns the registration id.
func (r *Registration) ID() RegistrationID { return r.id }

// Key returns the caller-chosen key.
func (r *Registration) Key() string { return r.id.key }

// Scope returns the address scope.
func (r *Registration) Scope() Scope { return r.scope }

// Pattern returns the subject pattern.
func (r *Registration) Pattern() SubjectPattern { return r.pattern }

// Type returns the payload type handlers receive.
func (r *Registration) Type() TypeTag { return r.tag }

// passesFilters runs the payload filters. Filters are user code and run
// without the table lock held.
func (r *Registration) passesFilters(msg InboundMessage) bool {
	for _, f := range r.filters {
		if !f.Match(msg) {
			return false
		}
	}
	return true
}

// Table holds the live registrations of a router. It is safe for
// concurrent use; lookups take a read lock and return a snapshot.
type Table struct {
	mu    sync.RWMutex
	byKey map[string]*Registration
	regs  []*Registration
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{byKey: make(map[string]*Registration)}
}

func (t *Table) add(reg *Registration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byKey[reg.id.key]; exists {
		return &RegistrationError{Key: reg.id.key, Err: ErrDuplicateKey}
	}
	t.byKey[reg.id.key] = reg
	t.regs = append(t.regs, reg)
	return nil
}

// Unregister removes the registration with the given id. Unknown or stale
// ids are ignored.
func (t *Table) Unregister(id RegistrationID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	reg, ok := t.byKey[id.key]
	if !ok || reg.id != id {
		return
	}
	t.removeLocked(reg)
}

// UnregisterKey removes whatever registration currently holds key.
func (t *Table) UnregisterKey(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if reg, ok := t.byKey[key]; ok {
		t.removeLocked(reg)
	}
}

func (t *Table) removeLocked(reg *Registration) {
	delete(t.byKey, reg.id.key)
	t.regs = slices.DeleteFunc(t.regs, func(r *Registration) bool { return r == reg })
}

// Match returns the registrations that should receive msg, in registration
// order. The slice is a snapshot; callers may use it without holding locks.
func (t *Table) Match(msg InboundMessage) []*Registration {
	t.mu.RLock()
	var candidates []*Registration
	for _, reg := range t.regs {
		if Matches(reg.scope, reg.pattern, msg.Address, msg.Subject) {
			candidates = append(candidates, reg)
		}
	}
	t.mu.RUnlock()

	out := candidates[:0]
	for _, reg := range candidates {
		if reg.passesFilters(msg) {
			out = append(out, reg)
		}
	}
	return out
}

// Lookup returns the registration holding key.
func (t *Table) Lookup(key string) (*Registration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	reg, ok := t.byKey[key]
	return reg, ok
}

// Len returns the number of live registrations.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.regs)
}

// Keys returns the keys of the live registrations in registration order.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, len(t.regs))
	for i, reg := range t.regs {
		keys[i] = reg.id.key
	}
	return keys
}
