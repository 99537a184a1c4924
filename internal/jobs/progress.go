package jobs

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// progress turns unit counts into a percentage that never regresses.
// Intermediate values stop at 99 and emissions are rate limited; 100 is
// reserved for done.
type progress struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	total   int
	last    int // last recorded value
	emitted int // last emitted value
	emit    func(int)
	record  func(int)
}

func newProgress(total int, interval time.Duration, record, emit func(int)) *progress {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &progress{
		limiter: rate.NewLimiter(limit, 1),
		total:   total,
		emitted: -1,
		record:  record,
		emit:    emit,
	}
}

func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	p := done * 100 / total
	if p > 99 {
		p = 99
	}
	return p
}

// advance records done of total units.
func (p *progress) advance(done int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == 100 {
		return
	}
	v := percent(done, p.total)
	if v <= p.last && p.emitted >= 0 {
		return
	}
	if v > p.last {
		p.last = v
		p.record(v)
	}
	if v > p.emitted && p.limiter.Allow() {
		p.emitted = v
		p.emit(v)
	}
}

// done records and emits 100 exactly once.
func (p *progress) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == 100 {
		return
	}
	p.last = 100
	p.emitted = 100
	p.record(100)
	p.emit(100)
}
