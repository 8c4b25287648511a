package queue

import (
	"sync"
	"testing"

	"github.com/searchktools/netcore/core/poller"
)

type fakePoller struct {
	mu      sync.Mutex
	signals int
}

func (f *fakePoller) Add(w *poller.Watcher) error   { return nil }
func (f *fakePoller) Stop(w *poller.Watcher) error  { return nil }
func (f *fakePoller) RunOnce(u *poller.Userdata) error { return nil }
func (f *fakePoller) Break()                        {}
func (f *fakePoller) AsyncWatcher() *poller.Watcher { return nil }
func (f *fakePoller) SetAsyncCallback(fn func())    {}
func (f *fakePoller) Close() error                  { return nil }

func (f *fakePoller) Signal() {
	f.mu.Lock()
	f.signals++
	f.mu.Unlock()
}

func (f *fakePoller) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signals
}

func TestScheduleSignalsPoller(t *testing.T) {
	fp := &fakePoller{}
	q := New(fp)

	q.ScheduleExit()
	q.ScheduleWatcher(&poller.Watcher{})

	if got := fp.signalCount(); got != 2 {
		t.Fatalf("signalCount() = %d, want 2", got)
	}
}

func TestDrainReturnsAllPendingAndClearsList(t *testing.T) {
	fp := &fakePoller{}
	q := New(fp)

	q.ScheduleExit()
	q.ScheduleWatcher(&poller.Watcher{})
	q.ScheduleExit()

	cmds := q.Drain()
	if len(cmds) != 3 {
		t.Fatalf("Drain() returned %d commands, want 3", len(cmds))
	}

	if more := q.Drain(); len(more) != 0 {
		t.Fatalf("second Drain() returned %d commands, want 0", len(more))
	}
}

func TestDrainOrderIsLIFO(t *testing.T) {
	fp := &fakePoller{}
	q := New(fp)

	first := NewExit()
	second := NewScheduleWatcher(&poller.Watcher{})
	q.Schedule(first)
	q.Schedule(second)

	cmds := q.Drain()
	if len(cmds) != 2 {
		t.Fatalf("Drain() returned %d commands, want 2", len(cmds))
	}
	if cmds[0] != second || cmds[1] != first {
		t.Fatal("Drain() did not return commands in LIFO order")
	}
}

func TestConcurrentScheduleIsRaceFree(t *testing.T) {
	fp := &fakePoller{}
	q := New(fp)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.ScheduleExit()
		}()
	}
	wg.Wait()

	if got := len(q.Drain()); got != 50 {
		t.Fatalf("Drain() returned %d commands, want 50", got)
	}
}
