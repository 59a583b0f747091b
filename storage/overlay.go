package storage

import "sync"

// Overlay buffers writes on top of a base database until Commit, so one
// top-level protocol operation spanning several aggregates either lands in
// full or not at all. Reads see buffered writes first. The overlay is not
// safe for concurrent operations; the orchestrator serialises access.
type Overlay struct {
	mu      sync.Mutex
	base    Database
	writes  map[string][]byte
	deletes map[string]bool
}

func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		writes:  make(map[string][]byte),
		deletes: make(map[string]bool),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	o.writes[string(key)] = stored
	delete(o.deletes, string(key))
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.Lock()
	if o.deletes[string(key)] {
		o.mu.Unlock()
		return nil, ErrKeyNotFound
	}
	if value, ok := o.writes[string(key)]; ok {
		out := make([]byte, len(value))
		copy(out, value)
		o.mu.Unlock()
		return out, nil
	}
	o.mu.Unlock()
	return o.base.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.writes, string(key))
	o.deletes[string(key)] = true
	return nil
}

func (o *Overlay) Close() {}

// Commit flushes buffered writes and deletes to the base database and resets
// the overlay.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, value := range o.writes {
		if err := o.base.Put([]byte(key), value); err != nil {
			return err
		}
	}
	for key := range o.deletes {
		if err := o.base.Delete([]byte(key)); err != nil {
			return err
		}
	}
	o.reset()
	return nil
}

// Discard drops buffered mutations, leaving the base untouched.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reset()
}

func (o *Overlay) reset() {
	o.writes = make(map[string][]byte)
	o.deletes = make(map[string]bool)
}
