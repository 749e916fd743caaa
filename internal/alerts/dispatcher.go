package alerts

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/savegress/vitalsense/internal/metrics"
	"github.com/savegress/vitalsense/pkg/models"
)

// Dispatcher delivery defaults
const (
	defaultDispatchWorkers = 4
	defaultDispatchQueue   = 64
)

type delivery struct {
	notifier Notifier
	alert    *models.Alert
}

// Dispatcher delivers alerts to notification channels on a bounded worker
// pool, so a slow channel cannot pile up unbounded goroutines during an
// alert storm. Submission never blocks; deliveries that find the queue
// full are dropped and counted.
type Dispatcher struct {
	queue   chan delivery
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

// NewDispatcher creates a dispatcher with the given worker count and queue
// size. Non-positive values fall back to the defaults.
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = defaultDispatchWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultDispatchQueue
	}

	d := &Dispatcher{queue: make(chan delivery, queueSize)}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Submit enqueues one delivery. Returns false when the queue is full and
// the delivery was dropped.
func (d *Dispatcher) Submit(n Notifier, alert *models.Alert) bool {
	select {
	case d.queue <- delivery{notifier: n, alert: alert}:
		return true
	default:
		d.dropped.Add(1)
		metrics.NotificationsSent.WithLabelValues(n.Name(), "dropped").Inc()
		log.Printf("alerts: %s delivery queue full, dropped alert %s", n.Name(), alert.ID)
		return false
	}
}

// Dropped returns how many deliveries were discarded due to a full queue
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Stop drains the queue and waits for in-flight deliveries to finish.
// Submitting after Stop panics.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.queue)
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for del := range d.queue {
		if err := del.notifier.Notify(del.alert); err != nil {
			metrics.NotificationsSent.WithLabelValues(del.notifier.Name(), "failed").Inc()
			log.Printf("alerts: %s notification for alert %s failed: %v",
				del.notifier.Name(), del.alert.ID, err)
			continue
		}
		metrics.NotificationsSent.WithLabelValues(del.notifier.Name(), "sent").Inc()
	}
}
