package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type payload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestCache_MemoryRoundTrip(t *testing.T) {
	c := New(NewMemoryStore(time.Minute, time.Minute), 50*time.Millisecond, nil)
	ctx := context.Background()

	var got payload
	if c.GetJSON(ctx, "k", &got) {
		t.Fatalf("expected miss on empty cache")
	}

	c.SetJSON(ctx, "k", payload{Name: "a", Value: 1.5}, time.Minute)
	if !c.GetJSON(ctx, "k", &got) {
		t.Fatalf("expected hit")
	}
	if got.Name != "a" || got.Value != 1.5 {
		t.Errorf("got %+v", got)
	}
}

func TestCache_Expiry(t *testing.T) {
	c := New(NewMemoryStore(time.Minute, time.Minute), 0, nil)
	ctx := context.Background()

	c.SetJSON(ctx, "k", payload{Name: "a"}, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	var got payload
	if c.GetJSON(ctx, "k", &got) {
		t.Errorf("entry should have expired")
	}
}

type failingStore struct{}

var errDown = errors.New("store down")

func (failingStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errDown
}
func (failingStore) Close() error { return nil }

func TestCache_FailuresAreAbsorbed(t *testing.T) {
	c := New(failingStore{}, 10*time.Millisecond, nil)
	ctx := context.Background()

	c.SetJSON(ctx, "k", payload{Name: "a"}, time.Minute)
	var got payload
	if c.GetJSON(ctx, "k", &got) {
		t.Errorf("failing store should read as miss")
	}
}

func TestCache_UnreachableRedisIsMiss(t *testing.T) {
	store, err := NewRedisStore("redis://127.0.0.1:1/0")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	c := New(store, 100*time.Millisecond, nil)
	defer c.Close()
	ctx := context.Background()

	c.SetJSON(ctx, "k", payload{Name: "a"}, time.Minute)
	var got payload
	if c.GetJSON(ctx, "k", &got) {
		t.Errorf("unreachable redis should read as miss")
	}
}

func TestCache_UndecodableEntryIsMiss(t *testing.T) {
	store := NewMemoryStore(time.Minute, time.Minute)
	store.Set(context.Background(), "k", []byte("{not json"), time.Minute)
	c := New(store, 0, nil)

	var got payload
	if c.GetJSON(context.Background(), "k", &got) {
		t.Errorf("undecodable entry should read as miss")
	}
}

func TestNoop(t *testing.T) {
	c := New(nil, 0, nil)
	c.SetJSON(context.Background(), "k", payload{Name: "a"}, time.Minute)
	var got payload
	if c.GetJSON(context.Background(), "k", &got) {
		t.Errorf("noop store should never hit")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("stations", map[string]string{"lat": "1", "lon": "2"})
	b := Fingerprint("stations", map[string]string{"lon": "2", "lat": "1"})
	if a != b {
		t.Errorf("fingerprint should not depend on parameter order")
	}
	if a == Fingerprint("stations", map[string]string{"lat": "1", "lon": "3"}) {
		t.Errorf("different parameters must give different keys")
	}
	if a == Fingerprint("temperatures", map[string]string{"lat": "1", "lon": "2"}) {
		t.Errorf("different endpoints must give different keys")
	}
	// "a=b" + "c" vs "a" + "b=c" must not collide.
	if Fingerprint("e", map[string]string{"a": "b=c"}) == Fingerprint("e", map[string]string{"a=b": "c"}) {
		t.Errorf("ambiguous encodings collide")
	}
}
