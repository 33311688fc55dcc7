package session

import (
	"strings"
	"testing"
)

func TestNameRegexp(t *testing.T) {
	valid := []string{"s1", "my session", "a.b~c_d-9", "X"}
	invalid := []string{"", " leading-space", strings.Repeat("a", 65)}

	for _, n := range valid {
		if !NameRegexp.MatchString(n) {
			t.Errorf("expected %q to be valid", n)
		}
	}
	for _, n := range invalid {
		if NameRegexp.MatchString(n) {
			t.Errorf("expected %q to be invalid", n)
		}
	}
}

func TestAppendBufferEvictsOldChunksUnderCap(t *testing.T) {
	s := &Session{}

	// Each chunk is small relative to the cap, so eviction removes whole
	// chunks from the front rather than cutting mid-chunk.
	line := []byte(strings.Repeat("a", 50) + "\n")
	for written := 0; written < BufferMaxBytes+500; written += len(line) {
		s.appendBuffer(append([]byte(nil), line...))
	}

	if s.bufLen > BufferMaxBytes+len(line) {
		t.Fatalf("buffer len %d exceeds cap %d by more than one chunk", s.bufLen, BufferMaxBytes)
	}
	if got := len(s.GetBuffer()); got != s.bufLen {
		t.Fatalf("GetBuffer length %d does not match bufLen %d", got, s.bufLen)
	}
}

func TestAppendBufferNeverDropsLastChunk(t *testing.T) {
	s := &Session{}
	oversized := []byte(strings.Repeat("x", BufferMaxBytes+1000))
	s.appendBuffer(oversized)

	if len(s.bufChunks) != 1 {
		t.Fatalf("expected the sole oversized chunk to survive, got %d chunks", len(s.bufChunks))
	}
}

func TestExtractResumeTokenDefaultPattern(t *testing.T) {
	s := &Session{}
	s.appendBuffer([]byte("some output\nUse --resume ABC123 to continue.\n"))

	got := s.extractResumeToken()
	if got != "ABC123" {
		t.Fatalf("got %q, want ABC123", got)
	}
}

func TestExtractResumeTokenStripsANSI(t *testing.T) {
	s := &Session{}
	s.appendBuffer([]byte("\x1b[32mUse --resume \x1b[0mXYZ\x1b[0m to continue.\n"))

	got := s.extractResumeToken()
	if got != "XYZ" {
		t.Fatalf("got %q, want XYZ", got)
	}
}

func TestExtractResumeTokenNoMatch(t *testing.T) {
	s := &Session{}
	s.appendBuffer([]byte("nothing interesting here\n"))

	if got := s.extractResumeToken(); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestBroadcastDropsForFullSubscriber(t *testing.T) {
	s := &Session{subscribers: make(map[*Subscriber]struct{})}
	slow := &Subscriber{Ch: make(chan []byte, 1)}
	fast := &Subscriber{Ch: make(chan []byte, 2)}
	s.subscribers[slow] = struct{}{}
	s.subscribers[fast] = struct{}{}

	s.broadcast([]byte("a"))
	s.broadcast([]byte("b")) // slow's channel (cap 1) is now full; this drops for slow

	if len(fast.Ch) != 2 {
		t.Fatalf("fast subscriber should have received both chunks, got %d", len(fast.Ch))
	}
	if len(slow.Ch) != 1 {
		t.Fatalf("slow subscriber should have only the first chunk buffered, got %d", len(slow.Ch))
	}
}
