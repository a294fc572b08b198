// tools/leakdetector/detector.go
package leakdetector

import (
	"log"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Detector tracks in-flight tool executions and reports ones that outlive
// a threshold
type Detector struct {
	mu        sync.Mutex
	routines  map[uint64]routine
	nextID    atomic.Uint64
	threshold time.Duration
	logger    *log.Logger
	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

type routine struct {
	label   string
	stack   string
	created time.Time
}

// Leak describes one execution that has been running longer than the threshold
type Leak struct {
	ID    uint64
	Label string
	Age   time.Duration
	Stack string
}

// New creates a detector that checks every interval; an interval of zero
// disables background monitoring and leaves checks to Check
func New(logger *log.Logger, threshold, interval time.Duration) *Detector {
	if logger == nil {
		logger = log.Default()
	}
	d := &Detector{
		routines:  make(map[uint64]routine),
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
		done:      make(chan struct{}),
	}

	if interval > 0 {
		go d.monitor(interval)
	}
	return d
}

// Track starts tracking an execution and returns its id
func (d *Detector) Track(label string) uint64 {
	id := d.nextID.Add(1)
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.routines[id] = routine{
		label:   label,
		stack:   string(stack[:n]),
		created: d.now(),
	}
	return id
}

// Done marks an execution as completed
func (d *Detector) Done(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.routines, id)
}

// Active reports how many executions are in flight
func (d *Detector) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.routines)
}

// monitor periodically checks for potential leaks
func (d *Detector) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Check()
		case <-d.done:
			return
		}
	}
}

// Check logs and returns every execution older than the threshold, oldest first
func (d *Detector) Check() []Leak {
	d.mu.Lock()
	now := d.now()
	var leaks []Leak
	for id, r := range d.routines {
		if age := now.Sub(r.created); age > d.threshold {
			leaks = append(leaks, Leak{ID: id, Label: r.label, Age: age, Stack: r.stack})
		}
	}
	d.mu.Unlock()

	sort.Slice(leaks, func(i, j int) bool { return leaks[i].Age > leaks[j].Age })
	for _, l := range leaks {
		d.logger.Printf("Potential goroutine leak detected: id=%d label=%s age=%v\n%s", l.ID, l.Label, l.Age, l.Stack)
	}
	return leaks
}

// Close stops the leak detector
func (d *Detector) Close() error {
	d.closeOnce.Do(func() { close(d.done) })
	return nil
}
