// Package admission implements the shared concurrency admission controller:
// per-class limits, a hard global cap, and a FIFO wait queue, race-free
// under concurrent callers.
package admission

import (
	"context"
	"errors"
	"sync"
)

// Class identifies which coding-agent flavor a ticket is for.
type Class string

const (
	ClassC Class = "C"
	ClassX Class = "X"
)

// ErrNotQueued describes a cancellation whose task id is not (or is no
// longer) waiting in the queue. CancelQueued itself reports this case by
// returning false; the Command Surface uses this error as its reply.
var ErrNotQueued = errors.New("admission: task not queued")

// Ticket proves the holder has an admitted slot of some class. It is
// non-reassignable: Release may only be called once; subsequent calls are
// no-ops, since releasing destroys the ticket.
type Ticket struct {
	class   Class
	ctrl    *Controller
	once    sync.Once
}

// Class reports which class this ticket was admitted under.
func (t *Ticket) Class() Class { return t.class }

// Release drops the ticket, decrementing the class counter and admitting
// the first eligible queued task, if any.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.ctrl.release(t.class)
	})
}

// WaitHandle is returned by TryAcquire when no slot is immediately
// available. Its completion (via Wait) delivers a Ticket once admitted.
type WaitHandle struct {
	taskID uint64
	class  Class
	ch     chan *Ticket
	ctrl   *Controller
}

// TaskID is the FIFO queue position identifier, usable with CancelQueued.
func (w *WaitHandle) TaskID() uint64 { return w.taskID }

// Wait blocks until a Ticket is admitted or ctx is cancelled. On
// cancellation the task is removed from the queue (best-effort — it may
// already have been admitted concurrently, in which case the ticket is
// returned instead of the context error).
func (w *WaitHandle) Wait(ctx context.Context) (*Ticket, error) {
	select {
	case t := <-w.ch:
		return t, nil
	case <-ctx.Done():
		w.ctrl.CancelQueued(w.taskID)
		select {
		case t := <-w.ch:
			return t, nil
		default:
			return nil, ctx.Err()
		}
	}
}

type queuedTask struct {
	taskID      uint64
	class       Class
	description string
	projectRoot string
	deliver     chan *Ticket
}

// Controller guards all admission state under a single mutex; wakeups are
// delivered via one-shot channels so waiters never poll.
type Controller struct {
	mu sync.Mutex

	limits    map[Class]int
	globalCap int
	running   map[Class]int

	queue      []*queuedTask
	nextTaskID uint64
}

// New creates a Controller with the given per-class limits and global cap.
func New(limitC, limitX, globalCap int) *Controller {
	return &Controller{
		limits:    map[Class]int{ClassC: limitC, ClassX: limitX},
		globalCap: globalCap,
		running:   map[Class]int{ClassC: 0, ClassX: 0},
	}
}

func (c *Controller) totalRunningLocked() int {
	total := 0
	for _, n := range c.running {
		total += n
	}
	return total
}

// TryAcquire admits immediately if the class and global cap both have
// capacity, returning a Ticket. Otherwise it enqueues a FIFO wait task and
// returns a WaitHandle whose completion later delivers a Ticket.
func (c *Controller) TryAcquire(class Class, description, projectRoot string) (*Ticket, *WaitHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running[class] < c.limits[class] && c.totalRunningLocked() < c.globalCap {
		c.running[class]++
		return &Ticket{class: class, ctrl: c}, nil
	}

	c.nextTaskID++
	task := &queuedTask{
		taskID:      c.nextTaskID,
		class:       class,
		description: description,
		projectRoot: projectRoot,
		deliver:     make(chan *Ticket, 1),
	}
	c.queue = append(c.queue, task)
	return nil, &WaitHandle{taskID: task.taskID, class: class, ch: task.deliver, ctrl: c}
}

// CancelQueued removes a not-yet-admitted task from the queue. Returns
// whether it was present.
func (c *Controller) CancelQueued(taskID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.queue {
		if t.taskID == taskID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// SetLimits updates the per-class limits and global cap. Already-issued
// tickets are unaffected. New TryAcquire calls see the new limits at once;
// queued tasks are admitted under them starting with the next Release call
// (no eager rescan).
func (c *Controller) SetLimits(limitC, limitX, globalCap int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits[ClassC] = limitC
	c.limits[ClassX] = limitX
	c.globalCap = globalCap
}

// release decrements the class counter (saturating at zero) and admits
// the first eligible queued task, scanning head to tail exactly once.
func (c *Controller) release(class Class) {
	c.mu.Lock()
	if c.running[class] > 0 {
		c.running[class]--
	}

	for i, t := range c.queue {
		if c.running[t.class] < c.limits[t.class] && c.totalRunningLocked() < c.globalCap {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.running[t.class]++
			ticket := &Ticket{class: t.class, ctrl: c}
			c.mu.Unlock()
			t.deliver <- ticket
			return
		}
	}
	c.mu.Unlock()
}

// QueuedTask describes one entry of the FIFO wait queue for Status.
type QueuedTask struct {
	TaskID      uint64
	Class       Class
	Description string
	ProjectRoot string
	Position    int // 1-based position within the full queue
}

// Snapshot is the Status() result: current counters, limits and queue.
type Snapshot struct {
	Running   map[Class]int `json:"running"`
	Limits    map[Class]int `json:"limits"`
	GlobalCap int           `json:"global_cap"`
	Queue     []QueuedTask  `json:"queue"`
}

// Status returns a point-in-time snapshot of controller state.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Running:   map[Class]int{ClassC: c.running[ClassC], ClassX: c.running[ClassX]},
		Limits:    map[Class]int{ClassC: c.limits[ClassC], ClassX: c.limits[ClassX]},
		GlobalCap: c.globalCap,
	}
	for i, t := range c.queue {
		s.Queue = append(s.Queue, QueuedTask{
			TaskID:      t.taskID,
			Class:       t.class,
			Description: t.description,
			ProjectRoot: t.projectRoot,
			Position:    i + 1,
		})
	}
	return s
}
