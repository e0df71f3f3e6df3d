package audiocache

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

func newTestCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := New(capacity, 0, log)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("Hello there", "en-US-GuyNeural", 1.0)
	b := Fingerprint("Hello there", "en-US-GuyNeural", 1.0)
	if a != b {
		t.Fatalf("identical inputs produced different keys: %d != %d", a, b)
	}
	if Fingerprint("Hello there", "en-US-GuyNeural", 1.25) == a {
		t.Fatal("speed change should alter the key")
	}
	if Fingerprint("Hello there ", "en-US-GuyNeural", 1.0) == a {
		t.Fatal("exact text must be distinguished, not a trimmed form")
	}
	if Fingerprint("Hello there", "en-US-JennyNeural", 1.0) == a {
		t.Fatal("voice change should alter the key")
	}
}

func TestGetAfterPut(t *testing.T) {
	c := newTestCache(t, 10)
	key := Fingerprint("hi", "en-US-GuyNeural", 1.0)
	audio := []byte("AUDIO")

	if got := c.Get(key); got != nil {
		t.Fatalf("expected miss, got %q", got)
	}
	c.Put(key, audio, Metadata{TextPrefix: "hi", Voice: "en-US-GuyNeural", Speed: 1.0})
	if got := c.Get(key); !bytes.Equal(got, audio) {
		t.Fatalf("expected cached audio back, got %q", got)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEvictsLeastRecentlyAccessed(t *testing.T) {
	c := newTestCache(t, 3)
	keys := make([]Key, 4)
	for i := range keys {
		keys[i] = Fingerprint(fmt.Sprintf("text-%d", i), "v", 1.0)
	}
	c.Put(keys[0], []byte("0"), Metadata{})
	c.Put(keys[1], []byte("1"), Metadata{})
	c.Put(keys[2], []byte("2"), Metadata{})

	// Touch the oldest insert so key 1 becomes least recently accessed.
	if c.Get(keys[0]) == nil {
		t.Fatal("expected hit on key 0")
	}
	c.Put(keys[3], []byte("3"), Metadata{})

	if c.Len() != 3 {
		t.Fatalf("expected capacity entries, got %d", c.Len())
	}
	if c.Get(keys[1]) != nil {
		t.Fatal("expected least recently accessed entry evicted")
	}
	if c.Get(keys[0]) == nil || c.Get(keys[3]) == nil {
		t.Fatal("expected recently used entries retained")
	}
}

func TestPutOverwritesAndTracksBytes(t *testing.T) {
	c := newTestCache(t, 3)
	key := Fingerprint("again", "v", 1.0)
	c.Put(key, []byte("aaaa"), Metadata{})
	c.Put(key, []byte("bb"), Metadata{})

	if got := c.Get(key); !bytes.Equal(got, []byte("bb")) {
		t.Fatalf("expected overwrite, got %q", got)
	}
	if stats := c.Stats(); stats.Entries != 1 || stats.Bytes != 2 {
		t.Fatalf("unexpected stats after overwrite: %+v", stats)
	}
}

func TestSweepHalvesCache(t *testing.T) {
	c := newTestCache(t, 4)
	for i := 0; i < 4; i++ {
		c.Put(Fingerprint(fmt.Sprintf("s-%d", i), "v", 1.0), []byte{byte(i)}, Metadata{})
	}
	removed := c.sweep()
	if removed != 2 || c.Len() != 2 {
		t.Fatalf("expected sweep to halve cache, removed=%d len=%d", removed, c.Len())
	}
}
