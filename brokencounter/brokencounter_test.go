package brokencounter

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer so the reporter goroutine and the test
// goroutine can safely write to / read from it concurrently.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestLabelFormatsStateAndTLSState(t *testing.T) {
	got := Label("TlsHandshaking", "tls13 alert handshake_failure")
	want := "TlsHandshaking with SSL state tls13 alert handshake_failure"
	if got != want {
		t.Fatalf("Label = %q, want %q", got, want)
	}
}

func TestLabelFallsBackToNullTLSState(t *testing.T) {
	got := Label("Connecting", "")
	want := "Connecting with SSL state null"
	if got != want {
		t.Fatalf("Label = %q, want %q", got, want)
	}
}

func TestRecordBrokenIncrementsCount(t *testing.T) {
	c := New()
	c.RecordBroken("TlsHandshaking", "tls13 alert handshake_failure")
	c.RecordBroken("TlsHandshaking", "tls13 alert handshake_failure")
	c.RecordBroken("OrHandshakingV3", "")

	top := c.TopN(0)
	if len(top) != 2 {
		t.Fatalf("got %d labels, want 2", len(top))
	}
	if top[0].Count != 2 {
		t.Fatalf("top label count = %d, want 2", top[0].Count)
	}
}

func TestSetEnabledFalseClearsCounts(t *testing.T) {
	c := New()
	c.RecordBroken("TlsHandshaking", "")
	c.SetEnabled(false)

	if len(c.TopN(0)) != 0 {
		t.Fatalf("expected counts cleared after disabling")
	}
	c.RecordBroken("TlsHandshaking", "")
	if len(c.TopN(0)) != 0 {
		t.Fatalf("expected recording to be a no-op while disabled")
	}
}

func TestSetEnabledTrueResumesRecording(t *testing.T) {
	c := New()
	c.SetEnabled(false)
	c.SetEnabled(true)
	c.RecordBroken("Connecting", "")

	if len(c.TopN(0)) != 1 {
		t.Fatalf("expected recording to resume once re-enabled")
	}
}

func TestTopNCapsAndOrdersDescending(t *testing.T) {
	c := New()
	c.RecordBroken("A", "")
	for i := 0; i < 3; i++ {
		c.RecordBroken("B", "")
	}
	for i := 0; i < 2; i++ {
		c.RecordBroken("C", "")
	}

	top := c.TopN(2)
	if len(top) != 2 {
		t.Fatalf("got %d labels, want 2", len(top))
	}
	if top[0].Label != Label("B", "") || top[1].Label != Label("C", "") {
		t.Fatalf("top = %v, want [B, C] descending by count", top)
	}
}

func TestReporterEmitsTopLabels(t *testing.T) {
	c := New()
	c.RecordBroken("TlsHandshaking", "")

	var buf syncBuffer
	logger := log.New(&buf, "", 0)
	r := NewReporter(c, logger, time.Millisecond, 5)
	go r.Run()
	defer r.Stop()

	deadline := time.After(time.Second)
	for {
		if strings.Contains(buf.String(), "TlsHandshaking") {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("reporter never logged the recorded label; got %q", buf.String())
		case <-time.After(time.Millisecond):
		}
	}
}

/* vim :set ts=4 sw=4 sts=4 noet : */
