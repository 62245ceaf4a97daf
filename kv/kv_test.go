package kv

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garyburd/redigo/redis"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	_, err := s.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key: want ErrNotFound, got %v", err)
	}
	err = s.Delete("missing")
	if err != nil {
		t.Fatalf("delete of missing key: %v", err)
	}
	err = s.Set("a", []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	v, err := s.Get("a")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte{1, 2, 3, 4}) {
		t.Fatalf("got %v", v)
	}
	err = SetAll(s, Entry{"x", []byte{1}}, Entry{"y", []byte{2}}, Entry{"z", []byte{3}})
	if err != nil {
		t.Fatal(err)
	}
	for i, k := range []string{"x", "y", "z"} {
		v, err := s.Get(k)
		if err != nil || len(v) != 1 || v[0] != byte(i+1) {
			t.Fatalf("%s: %v %v", k, v, err)
		}
	}
	err = DeleteAll(s, "x", "y", "z", "never-set")
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"x", "y", "z"} {
		if _, err := s.Get(k); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s still present: %v", k, err)
		}
	}
	if _, err := s.Get("a"); err != nil {
		t.Fatal("unrelated key deleted")
	}
}

func TestMem(t *testing.T) {
	var m Mem
	testStore(t, &m)
	if m.Len() != 1 {
		t.Fatalf("len=%d", m.Len())
	}
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "sub", "kv.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testStore(t, s)
}

// failStore fails writes to one key.
type failStore struct {
	Mem
	failKey string
}

var errWrite = errors.New("write failed")

func (f *failStore) Set(key string, v []byte) error {
	if key == f.failKey {
		return errWrite
	}
	return f.Mem.Set(key, v)
}

// Hide the Mem batch methods so SetAll takes the key by key path.
type plainStore struct{ s Store }

func (p plainStore) Get(k string) ([]byte, error) { return p.s.Get(k) }
func (p plainStore) Set(k string, v []byte) error { return p.s.Set(k, v) }
func (p plainStore) Delete(k string) error        { return p.s.Delete(k) }

func TestSetAllRollback(t *testing.T) {
	fs := &failStore{failKey: "c"}
	fs.Mem.Set("a", []byte("old"))
	s := plainStore{fs}
	err := SetAll(s, Entry{"a", []byte("new")}, Entry{"b", []byte("new")}, Entry{"c", []byte("new")})
	if !errors.Is(err, errWrite) {
		t.Fatalf("want write error, got %v", err)
	}
	v, _ := s.Get("a")
	if string(v) != "old" {
		t.Errorf("a not restored: %q", v)
	}
	if _, err := s.Get("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("b not removed: %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := &Mem{}
	s.Set("a", []byte("old"))
	prev, err := Snapshot(s, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	SetAll(s, Entry{"a", []byte("new")}, Entry{"b", []byte("new")})
	if err := Restore(s, prev); err != nil {
		t.Fatal(err)
	}
	v, _ := s.Get("a")
	if string(v) != "old" {
		t.Errorf("a = %q", v)
	}
	if _, err := s.Get("b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("b not removed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("len %d", s.Len())
	}
}

// fakeRedis is an in-memory redis.Conn understanding GET, SET, DEL, MULTI and EXEC.
type fakeRedis struct {
	data    map[string][]byte
	queued  [][]interface{}
	inMulti bool
	execs   int
}

func (f *fakeRedis) Close() error { return nil }
func (f *fakeRedis) Err() error   { return nil }
func (f *fakeRedis) Flush() error { return nil }

func (f *fakeRedis) Receive() (interface{}, error) { return nil, nil }

func (f *fakeRedis) Send(cmd string, args ...interface{}) error {
	if strings.EqualFold(cmd, "MULTI") {
		f.inMulti = true
		return nil
	}
	f.queued = append(f.queued, append([]interface{}{cmd}, args...))
	return nil
}

func (f *fakeRedis) Do(cmd string, args ...interface{}) (interface{}, error) {
	switch strings.ToUpper(cmd) {
	case "EXEC":
		f.execs++
		var replies []interface{}
		for _, q := range f.queued {
			r, err := f.exec(q[0].(string), q[1:]...)
			if err != nil {
				return nil, err
			}
			replies = append(replies, r)
		}
		f.queued = f.queued[:0]
		f.inMulti = false
		return replies, nil
	case "DISCARD":
		f.queued = f.queued[:0]
		f.inMulti = false
		return "OK", nil
	}
	return f.exec(cmd, args...)
}

func (f *fakeRedis) exec(cmd string, args ...interface{}) (interface{}, error) {
	switch strings.ToUpper(cmd) {
	case "GET":
		v, ok := f.data[args[0].(string)]
		if !ok {
			return nil, nil
		}
		return v, nil
	case "SET":
		f.data[args[0].(string)] = append([]byte{}, args[1].([]byte)...)
		return "OK", nil
	case "DEL":
		n := int64(0)
		for _, a := range args {
			if _, ok := f.data[a.(string)]; ok {
				delete(f.data, a.(string))
				n++
			}
		}
		return n, nil
	}
	return nil, errors.New("unknown command " + cmd)
}

func TestRedis(t *testing.T) {
	fake := &fakeRedis{data: make(map[string][]byte)}
	s := NewRedis(func() (redis.Conn, error) { return fake, nil }, "ethat:")
	testStore(t, s)
	if fake.execs != 1 {
		t.Errorf("SetAll should use one transaction, got %d EXEC", fake.execs)
	}
	if _, ok := fake.data["ethat:a"]; !ok {
		t.Error("key prefix not applied")
	}
}
