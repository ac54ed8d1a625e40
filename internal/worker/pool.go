package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrStopped   = errors.New("worker pool stopped")
	ErrQueueFull = errors.New("too many pending jobs for session")
)

const stripeCount = 32

// Job is one unit of work belonging to a session.
type Job struct {
	SessionID uuid.UUID
	Run       func(ctx context.Context)
}

// lane holds the pending jobs of one session. A lane exists only while its
// goroutine is draining it.
type lane struct {
	pending []Job
}

type stripe struct {
	mu    sync.Mutex
	lanes map[uuid.UUID]*lane
}

// Pool runs each session's jobs one at a time in submission order on a
// goroutine of its own. Sessions never share a goroutine, so a job that hangs
// only holds up later jobs of the same session.
type Pool struct {
	stripes   []*stripe
	queueSize int
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	stopMu  sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool builds a pool that accepts up to queueSize pending jobs per session
// on top of the one running.
func NewPool(queueSize int, logger *zap.Logger) *Pool {
	if queueSize < 1 {
		queueSize = 1
	}

	stripes := make([]*stripe, stripeCount)
	for i := range stripes {
		stripes[i] = &stripe{lanes: make(map[uuid.UUID]*lane)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		stripes:   stripes,
		queueSize: queueSize,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Stop cancels in-flight jobs and waits for every lane to exit. Queued jobs
// that have not started are dropped.
func (p *Pool) Stop() {
	p.stopMu.Lock()
	p.stopped = true
	p.stopMu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Submit queues job behind the session's earlier jobs and returns at once.
func (p *Pool) Submit(job Job) error {
	p.stopMu.RLock()
	defer p.stopMu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	s := p.stripeFor(job.SessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[job.SessionID]
	if !ok {
		l = &lane{}
		s.lanes[job.SessionID] = l
		p.wg.Add(1)
		go p.drain(s, job.SessionID, l)
	} else if len(l.pending) >= p.queueSize {
		return ErrQueueFull
	}
	l.pending = append(l.pending, job)
	return nil
}

// Active returns the number of sessions with a running or pending job.
func (p *Pool) Active() int {
	n := 0
	for _, s := range p.stripes {
		s.mu.Lock()
		n += len(s.lanes)
		s.mu.Unlock()
	}
	return n
}

func (p *Pool) stripeFor(sessionID uuid.UUID) *stripe {
	return p.stripes[xxhash.Sum64(sessionID[:])%uint64(len(p.stripes))]
}

func (p *Pool) drain(s *stripe, sessionID uuid.UUID, l *lane) {
	defer p.wg.Done()

	for {
		s.mu.Lock()
		if len(l.pending) == 0 || p.ctx.Err() != nil {
			delete(s.lanes, sessionID)
			s.mu.Unlock()
			return
		}
		job := l.pending[0]
		l.pending = l.pending[1:]
		s.mu.Unlock()

		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				zap.String("session_id", job.SessionID.String()),
				zap.Any("panic", r),
			)
		}
	}()
	job.Run(p.ctx)
}
