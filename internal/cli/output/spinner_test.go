package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer shared with the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_StartStop(t *testing.T) {
	buf := &syncBuffer{}
	s := NewSpinner(buf, "waiting for transponder")

	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	out := buf.String()
	if !strings.Contains(out, "waiting for transponder") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.HasSuffix(out, "\r\033[K") {
		t.Errorf("Stop should clear the line: %q", out)
	}
}

func TestSpinner_SetMessage(t *testing.T) {
	buf := &syncBuffer{}
	s := NewSpinner(buf, "first")
	s.Start()
	s.SetMessage("second")
	time.Sleep(250 * time.Millisecond)
	s.Stop()

	if !strings.Contains(buf.String(), "second") {
		t.Errorf("output missing updated message: %q", buf.String())
	}
}

func TestSpinner_SuccessAndFail(t *testing.T) {
	buf := &syncBuffer{}
	s := NewSpinner(buf, "joining")
	s.Start()
	s.Success("joined")
	if !strings.HasSuffix(buf.String(), "✓ joined\n") {
		t.Errorf("Success output = %q", buf.String())
	}

	buf = &syncBuffer{}
	s = NewSpinner(buf, "joining")
	s.Start()
	s.Fail("timed out")
	if !strings.HasSuffix(buf.String(), "✗ timed out\n") {
		t.Errorf("Fail output = %q", buf.String())
	}
}

func TestSpinner_StopIdempotent(t *testing.T) {
	buf := &syncBuffer{}
	s := NewSpinner(buf, "x")

	s.Stop()
	s.Stop()
	s.Fail("ignored")

	if strings.Contains(buf.String(), "ignored") {
		t.Errorf("second finish wrote output: %q", buf.String())
	}
}
