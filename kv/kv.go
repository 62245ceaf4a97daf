// Package kv is the persisted configuration store: byte blobs addressed by
// string keys, with atomic multi-key writes and deletes.
package kv

import (
	"errors"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is a key-value blob store. Delete of a missing key is not an error.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Entry is a key and its value.
type Entry struct {
	Key   string
	Value []byte
}

// Batcher is implemented by stores able to apply several mutations atomically.
type Batcher interface {
	SetAll(entries []Entry) error
	DeleteAll(keys []string) error
}

// SetAll writes every entry or none of them. Stores that do not implement
// [Batcher] are written key by key and restored to their previous contents on failure.
func SetAll(s Store, entries ...Entry) error {
	if b, ok := s.(Batcher); ok {
		return b.SetAll(entries)
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	prev, err := Snapshot(s, keys...)
	if err != nil {
		return err
	}
	for i, e := range entries {
		err := s.Set(e.Key, e.Value)
		if err != nil {
			rollback(s, prev[:i])
			return pkgerrors.Wrapf(err, "writing %q", e.Key)
		}
	}
	return nil
}

func rollback(s Store, prev []Entry) {
	for _, e := range prev {
		if e.Value == nil {
			s.Delete(e.Key)
		} else {
			s.Set(e.Key, e.Value)
		}
	}
}

// Snapshot reads the current contents of keys. Missing keys get a nil Value.
func Snapshot(s Store, keys ...string) ([]Entry, error) {
	prev := make([]Entry, 0, len(keys))
	for _, k := range keys {
		v, err := s.Get(k)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, pkgerrors.Wrapf(err, "reading %q", k)
		}
		prev = append(prev, Entry{Key: k, Value: v})
	}
	return prev, nil
}

// Restore writes back a [Snapshot], deleting the keys that were missing.
func Restore(s Store, prev []Entry) error {
	var set []Entry
	var del []string
	for _, e := range prev {
		if e.Value == nil {
			del = append(del, e.Key)
		} else {
			set = append(set, e)
		}
	}
	if len(set) > 0 {
		if err := SetAll(s, set...); err != nil {
			return err
		}
	}
	if len(del) > 0 {
		return DeleteAll(s, del...)
	}
	return nil
}

// DeleteAll removes every key. Missing keys are ignored.
func DeleteAll(s Store, keys ...string) error {
	if b, ok := s.(Batcher); ok {
		return b.DeleteAll(keys)
	}
	for _, k := range keys {
		err := s.Delete(k)
		if err != nil {
			return pkgerrors.Wrapf(err, "deleting %q", k)
		}
	}
	return nil
}

// Mem is an in-memory [Store]. The zero value is ready to use.
type Mem struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (m *Mem) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, v...), nil
}

func (m *Mem) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, value)
	return nil
}

func (m *Mem) set(key string, value []byte) {
	if m.m == nil {
		m.m = make(map[string][]byte)
	}
	m.m[key] = append([]byte{}, value...)
}

func (m *Mem) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
	return nil
}

func (m *Mem) SetAll(entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.set(e.Key, e.Value)
	}
	return nil
}

func (m *Mem) DeleteAll(keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.m, k)
	}
	return nil
}

// Len returns the amount of keys stored.
func (m *Mem) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}
