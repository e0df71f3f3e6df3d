package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestWindowReturnsMostRecentInOrder(t *testing.T) {
	s := NewStore(50)
	id := NewSessionID()
	for i := 0; i < 12; i++ {
		s.Append(id, Message{Role: "user", Content: fmt.Sprintf("msg-%d", i)})
	}

	window := s.Window(id, 10)
	if len(window) != 10 {
		t.Fatalf("expected window of 10, got %d", len(window))
	}
	if window[0].Content != "msg-2" || window[9].Content != "msg-11" {
		t.Fatalf("unexpected window bounds: %q .. %q", window[0].Content, window[9].Content)
	}
}

func TestAppendEvictsOldestPastCap(t *testing.T) {
	s := NewStore(5)
	id := "capped"
	for i := 0; i < 8; i++ {
		s.Append(id, Message{Role: "user", Content: fmt.Sprintf("m%d", i)})
	}
	if got := s.Len(id); got != 5 {
		t.Fatalf("expected 5 messages after eviction, got %d", got)
	}
	window := s.Window(id, 5)
	if window[0].Content != "m3" {
		t.Fatalf("expected oldest surviving message m3, got %q", window[0].Content)
	}
}

func TestAppendExchangeKeepsPairsAdjacent(t *testing.T) {
	s := NewStore(100)
	id := "pairs"
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendExchange(id,
				Message{Role: "user", Content: fmt.Sprintf("u%d", i)},
				Message{Role: "assistant", Content: fmt.Sprintf("a%d", i)},
			)
		}(i)
	}
	wg.Wait()

	window := s.Window(id, 20)
	if len(window) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(window))
	}
	for i := 0; i < len(window); i += 2 {
		if window[i].Role != "user" || window[i+1].Role != "assistant" {
			t.Fatalf("interleaved exchange at %d: %s/%s", i, window[i].Role, window[i+1].Role)
		}
		if "a"+window[i].Content[1:] != window[i+1].Content {
			t.Fatalf("mismatched pair at %d: %q/%q", i, window[i].Content, window[i+1].Content)
		}
	}
}

func TestDeleteDropsSession(t *testing.T) {
	s := NewStore(10)
	s.Append("gone", Message{Role: "user", Content: "hi"})
	s.Delete("gone")
	if s.Len("gone") != 0 {
		t.Fatal("expected session to be gone")
	}
	if s.Count() != 0 {
		t.Fatalf("expected no live sessions, got %d", s.Count())
	}
}
