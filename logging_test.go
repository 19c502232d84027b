package of

import (
	"bytes"
	"log"
	"testing"
	"time"
)

func TestRateLimitedLoggerSuppressesBurstsAndReportsCount(t *testing.T) {
	var buf bytes.Buffer
	base := log.New(&buf, "", 0)

	l := NewRateLimitedLogger(base, time.Hour, 1)
	l.Printf("boom %d", 1)
	l.Printf("boom %d", 2)
	l.Printf("boom %d", 3)

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	if lines != 1 {
		t.Fatalf("logged lines = %d; want 1 (burst of 1, rest suppressed)", lines)
	}
	if got := buf.String(); got != "boom 1\n" {
		t.Fatalf("logged = %q; want %q", got, "boom 1\n")
	}

	// Once a token is refilled, the next admitted line carries the
	// number of calls suppressed in between.
	buf.Reset()
	l = NewRateLimitedLogger(base, 50*time.Millisecond, 1)
	l.Printf("boom %d", 1)
	l.Printf("boom %d", 2)
	time.Sleep(120 * time.Millisecond)
	l.Printf("boom %d", 3)
	want := "boom 1\n(suppressed 1 similar messages) boom 3\n"
	if got := buf.String(); got != want {
		t.Fatalf("logged = %q; want %q", got, want)
	}
}

func TestRateLimitedLoggerDefaultsToLogDefault(t *testing.T) {
	l := NewRateLimitedLogger(nil, time.Second, 1)
	if l.log != log.Default() {
		t.Fatal("expected a nil logger to default to log.Default()")
	}
}
