package admission

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestImmediateAcquireWithinLimits(t *testing.T) {
	c := New(1, 1, 2)

	ticketC, waitC := c.TryAcquire(ClassC, "task-c", "/p")
	if waitC != nil || ticketC == nil {
		t.Fatalf("expected immediate C admission")
	}
	ticketX, waitX := c.TryAcquire(ClassX, "task-x", "/p")
	if waitX != nil || ticketX == nil {
		t.Fatalf("expected immediate X admission")
	}

	snap := c.Status()
	if snap.Running[ClassC] != 1 || snap.Running[ClassX] != 1 {
		t.Fatalf("unexpected running counts: %+v", snap.Running)
	}
}

func TestAdmissionQueueFIFOAndRelease(t *testing.T) {
	// limit(C)=1, limit(X)=1, global_cap=2: both classes full, queueing kicks in.
	c := New(1, 1, 2)

	tC, _ := c.TryAcquire(ClassC, "c1", "/p")
	tX1, _ := c.TryAcquire(ClassX, "x1", "/p")
	if tC == nil || tX1 == nil {
		t.Fatalf("expected both immediate admissions")
	}

	// A second X acquire must queue.
	_, waitX2 := c.TryAcquire(ClassX, "x2", "/p")
	if waitX2 == nil {
		t.Fatalf("expected second X acquire to queue")
	}

	// Releasing the running X admits the queued X (FIFO).
	tX1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tX2, err := waitX2.Wait(ctx)
	if err != nil || tX2 == nil {
		t.Fatalf("expected queued X to be admitted: %v", err)
	}

	// A third X acquire now queues again (X's slot is taken by tX2).
	_, waitX3 := c.TryAcquire(ClassX, "x3", "/p")
	if waitX3 == nil {
		t.Fatalf("expected third X acquire to queue")
	}

	snap := c.Status()
	if len(snap.Queue) != 1 || snap.Queue[0].TaskID != waitX3.TaskID() {
		t.Fatalf("unexpected queue state: %+v", snap.Queue)
	}

	tC.Release()
	tX2.Release()
}

func TestCancelQueued(t *testing.T) {
	c := New(1, 1, 1)
	t1, _ := c.TryAcquire(ClassC, "c1", "/p")
	_, wait := c.TryAcquire(ClassC, "c2", "/p")

	if ok := c.CancelQueued(wait.TaskID()); !ok {
		t.Fatalf("expected cancel to find the queued task")
	}
	if ok := c.CancelQueued(wait.TaskID()); ok {
		t.Fatalf("expected second cancel to report not-present")
	}
	t1.Release()
}

func TestGlobalCapBlocksEvenWithClassCapacity(t *testing.T) {
	c := New(5, 5, 1)
	t1, _ := c.TryAcquire(ClassC, "c1", "/p")
	if t1 == nil {
		t.Fatal("expected first acquire to succeed")
	}
	_, wait := c.TryAcquire(ClassX, "x1", "/p")
	if wait == nil {
		t.Fatalf("expected global cap to force a queue despite per-class headroom")
	}
	t1.Release()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := wait.Wait(ctx); err != nil {
		t.Fatalf("expected eventual admission: %v", err)
	}
}

// TestNoTicketLeakUnderConcurrency asserts that after N acquire/release
// cycles under concurrent callers, running(class) equals acquires minus
// releases, and it never goes negative or over limit.
func TestNoTicketLeakUnderConcurrency(t *testing.T) {
	c := New(3, 3, 5)
	const workers = 20
	const iterations = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			class := ClassC
			if id%2 == 0 {
				class = ClassX
			}
			for j := 0; j < iterations; j++ {
				ticket, wait := c.TryAcquire(class, "w", "/p")
				if ticket == nil {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					var err error
					ticket, err = wait.Wait(ctx)
					cancel()
					if err != nil {
						continue
					}
				}
				snap := c.Status()
				if snap.Running[ClassC] > 3 || snap.Running[ClassX] > 3 {
					t.Errorf("class limit violated: %+v", snap.Running)
				}
				if snap.Running[ClassC]+snap.Running[ClassX] > 5 {
					t.Errorf("global cap violated: %+v", snap.Running)
				}
				ticket.Release()
			}
		}(i)
	}
	wg.Wait()

	snap := c.Status()
	if snap.Running[ClassC] != 0 || snap.Running[ClassX] != 0 {
		t.Fatalf("ticket leak detected: %+v", snap.Running)
	}
}

func TestSetLimitsDoesNotAffectIssuedTickets(t *testing.T) {
	c := New(1, 1, 2)
	t1, _ := c.TryAcquire(ClassC, "c1", "/p")
	c.SetLimits(0, 0, 0)
	// Issued ticket unaffected: release still just decrements.
	t1.Release()
	snap := c.Status()
	if snap.Running[ClassC] != 0 {
		t.Fatalf("expected release to proceed despite lowered limits: %+v", snap)
	}
}
