package conn

import (
	"errors"
	"io"
	"testing"
	"time"
)

// pipeSocket is a minimal in-memory Socket backed by two byte slices, used
// so tests don't need a real net.Conn.
type pipeSocket struct {
	readBuf  []byte
	writeBuf []byte
	readErr  error
	blocked  bool
}

func (p *pipeSocket) Read(b []byte) (int, error) {
	if len(p.readBuf) == 0 {
		if p.readErr != nil {
			return 0, p.readErr
		}
		return 0, io.EOF
	}
	n := copy(b, p.readBuf)
	p.readBuf = p.readBuf[n:]
	return n, nil
}

func (p *pipeSocket) Write(b []byte) (int, error) {
	if p.blocked {
		return 0, nil
	}
	p.writeBuf = append(p.writeBuf, b...)
	return len(b), nil
}

func (p *pipeSocket) Close() error { return nil }

type recordingHooks struct {
	NoopHooks
	processed       [][]byte
	finishedFlush   bool
	closeRequested  bool
	aboutToClose    bool
	reachedEOF      bool
}

func (h *recordingHooks) ProcessInbuf(c *Connection, allowPartial bool) error {
	h.processed = append(h.processed, c.Inbuf.Drain(c.Inbuf.Len()))
	return nil
}

func (h *recordingHooks) FinishedFlushing(c *Connection) bool {
	h.finishedFlush = true
	return h.closeRequested
}

func (h *recordingHooks) AboutToClose(c *Connection) { h.aboutToClose = true }
func (h *recordingHooks) ReachedEOF(c *Connection)   { h.reachedEOF = true }

func TestDoReadAppendsAndDispatches(t *testing.T) {
	hooks := &recordingHooks{}
	sock := &pipeSocket{readBuf: []byte("hello")}
	c := New(ApStream, hooks, sock)

	if err := c.DoRead(1024); err != nil {
		t.Fatalf("DoRead: %v", err)
	}
	if len(hooks.processed) != 1 || string(hooks.processed[0]) != "hello" {
		t.Fatalf("ProcessInbuf not dispatched with expected data: %+v", hooks.processed)
	}
	if c.TimestampLastRead.IsZero() {
		t.Fatalf("TimestampLastRead not updated")
	}
}

func TestDoReadEOFCallsReachedEOF(t *testing.T) {
	hooks := &recordingHooks{}
	sock := &pipeSocket{}
	c := New(ApStream, hooks, sock)

	if err := c.DoRead(16); err != nil {
		t.Fatalf("DoRead: %v", err)
	}
	if !hooks.reachedEOF {
		t.Fatalf("expected ReachedEOF to be invoked")
	}
}

func TestDoReadPropagatesNonEOFError(t *testing.T) {
	hooks := &recordingHooks{}
	sock := &pipeSocket{readErr: errors.New("boom")}
	c := New(ApStream, hooks, sock)

	if err := c.DoRead(16); err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestDoWriteDrainsAndFlushedSome(t *testing.T) {
	hooks := &recordingHooks{}
	sock := &pipeSocket{}
	c := New(ApStream, hooks, sock)
	c.AppendOutbuf([]byte("payload"))

	if err := c.DoWrite(1024); err != nil {
		t.Fatalf("DoWrite: %v", err)
	}
	if string(sock.writeBuf) != "payload" {
		t.Fatalf("socket got %q, want %q", sock.writeBuf, "payload")
	}
	if c.OutbufFlushLen != 0 {
		t.Fatalf("OutbufFlushLen = %d, want 0", c.OutbufFlushLen)
	}
	if !hooks.finishedFlush {
		t.Fatalf("expected FinishedFlushing to be invoked once outbuf drains")
	}
}

func TestDoWritePartialRespectsMaxToWrite(t *testing.T) {
	hooks := &recordingHooks{}
	sock := &pipeSocket{}
	c := New(ApStream, hooks, sock)
	c.AppendOutbuf([]byte("0123456789"))

	if err := c.DoWrite(4); err != nil {
		t.Fatalf("DoWrite: %v", err)
	}
	if string(sock.writeBuf) != "0123" {
		t.Fatalf("socket got %q, want %q", sock.writeBuf, "0123")
	}
	if c.OutbufFlushLen != 6 {
		t.Fatalf("OutbufFlushLen = %d, want 6", c.OutbufFlushLen)
	}
	if hooks.finishedFlush {
		t.Fatalf("FinishedFlushing should not fire until outbuf is empty")
	}
}

func TestFinishedFlushingCloseRequestTearsDown(t *testing.T) {
	hooks := &recordingHooks{closeRequested: true}
	sock := &pipeSocket{}
	c := New(ApStream, hooks, sock)
	c.AppendOutbuf([]byte("bye"))

	if err := c.DoWrite(1024); err != nil {
		t.Fatalf("DoWrite: %v", err)
	}
	if !c.IsMarkedForClose() {
		t.Fatalf("expected connection to be marked for close")
	}
	if c.State != StateClosed {
		t.Fatalf("expected CloseImmediate to set StateClosed")
	}
}

func TestHoldOpenUntilFlushedDeadline(t *testing.T) {
	hooks := &recordingHooks{}
	sock := &pipeSocket{}
	c := New(ApStream, hooks, sock)
	c.HoldOpenUntilFlushed = true
	c.AppendOutbuf([]byte("stuck"))
	c.lastWriteProgress = time.Now().Add(-20 * time.Second)
	sock.blocked = true // outbuf can never drain

	if err := c.DoWrite(1024); err != nil {
		t.Fatalf("DoWrite: %v", err)
	}
	if !c.IsMarkedForClose() {
		t.Fatalf("expected deadline to force close")
	}
}

func TestMarkForCloseIsIdempotent(t *testing.T) {
	c := New(ApStream, NoopHooks{}, &pipeSocket{})
	c.MarkForClose(nil)
	c.MarkForClose(nil) // must not panic or flip any additional state
	if !c.IsMarkedForClose() {
		t.Fatalf("expected marked for close")
	}
}

func TestLinkedPairPumpsBytesWithoutSocket(t *testing.T) {
	aHooks := &recordingHooks{}
	bHooks := &recordingHooks{}
	a := New(DirStream, aHooks, nil)
	b := New(DirStream, bHooks, nil)
	LinkTo(a, b)

	if !a.IsLinked() || !b.IsLinked() {
		t.Fatalf("expected both ends to report linked")
	}

	a.AppendOutbuf([]byte("tunnel"))
	if len(bHooks.processed) != 1 || string(bHooks.processed[0]) != "tunnel" {
		t.Fatalf("peer did not receive pumped bytes: %+v", bHooks.processed)
	}
}

func TestTeardownUnlinksAndNotifies(t *testing.T) {
	aHooks := &recordingHooks{}
	bHooks := &recordingHooks{}
	a := New(DirStream, aHooks, nil)
	b := New(DirStream, bHooks, nil)
	LinkTo(a, b)

	a.Teardown()
	if !aHooks.aboutToClose {
		t.Fatalf("expected AboutToClose to be invoked")
	}
	if a.IsLinked() || b.IsLinked() {
		t.Fatalf("expected both ends unlinked after teardown")
	}
}
