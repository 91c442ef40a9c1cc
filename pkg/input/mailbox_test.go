package input

import (
	"sync"
	"testing"
	"time"
)

func frameSeq(n int64) *Frame {
	return &Frame{Sequence: n, Width: 1, Height: 1, Format: FormatBGR24, Data: []byte{0, 0, 0}}
}

func TestMailboxLatestWins(t *testing.T) {
	mb := NewMailbox(2)
	mb.Publish(frameSeq(1))
	mb.Publish(frameSeq(2))
	mb.Publish(frameSeq(3))

	if mb.Len() != 2 {
		t.Fatalf("Len = %d, want 2", mb.Len())
	}
	if mb.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", mb.Dropped())
	}

	first, ok := mb.Take(0)
	if !ok || first.Sequence != 2 {
		t.Fatalf("first take = %+v, want seq 2", first)
	}
	second, ok := mb.Take(0)
	if !ok || second.Sequence != 3 {
		t.Fatalf("second take = %+v, want seq 3", second)
	}
}

func TestMailboxTakeTimeout(t *testing.T) {
	mb := NewMailbox(2)
	start := time.Now()
	if _, ok := mb.Take(20 * time.Millisecond); ok {
		t.Fatal("expected timeout on empty mailbox")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Take returned before the timeout elapsed")
	}
}

func TestMailboxPublishNeverBlocks(t *testing.T) {
	mb := NewMailbox(1)
	done := make(chan struct{})
	go func() {
		for i := int64(0); i < 1000; i++ {
			mb.Publish(frameSeq(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked with no consumer")
	}
	f, ok := mb.Take(0)
	if !ok || f.Sequence != 999 {
		t.Errorf("got %+v, want newest frame 999", f)
	}
}

func TestMailboxConcurrentConsumer(t *testing.T) {
	mb := NewMailbox(2)
	var wg sync.WaitGroup
	wg.Add(1)
	var last int64 = -1
	go func() {
		defer wg.Done()
		for {
			f, ok := mb.Take(50 * time.Millisecond)
			if !ok {
				return
			}
			if f.Sequence <= last {
				t.Errorf("out of order: %d after %d", f.Sequence, last)
			}
			last = f.Sequence
		}
	}()
	for i := int64(0); i < 500; i++ {
		mb.Publish(frameSeq(i))
	}
	wg.Wait()
}

func TestMailboxDrain(t *testing.T) {
	mb := NewMailbox(2)
	mb.Publish(frameSeq(1))
	mb.Publish(frameSeq(2))
	if n := mb.Drain(); n != 2 {
		t.Errorf("Drain = %d, want 2", n)
	}
	if mb.Len() != 0 {
		t.Error("mailbox not empty after drain")
	}
}

func TestFrameSize(t *testing.T) {
	if got := FormatBGR24.FrameSize(4, 2); got != 24 {
		t.Errorf("bgr24 = %d", got)
	}
	if got := FormatYUYV.FrameSize(4, 2); got != 16 {
		t.Errorf("yuyv = %d", got)
	}
	if got := FormatNV12.FrameSize(4, 2); got != 12 {
		t.Errorf("nv12 = %d", got)
	}
}

func TestRegistry(t *testing.T) {
	Register("test-null", func() Backend { return nil })
	if _, err := New("test-null"); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New("missing"); err == nil {
		t.Fatal("expected ErrUnknownBackend")
	}
}
