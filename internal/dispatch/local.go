package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Executor sends a serialized request to a separate execution context and
// returns its serialized response.
type Executor interface {
	Execute(ctx context.Context, payload []byte) ([]byte, error)
	Available() bool
}

type job struct {
	ctx     context.Context
	payload []byte
	reply   chan jobResult
}

type jobResult struct {
	data []byte
	err  error
}

// LocalExecutor is a fixed pool of goroutines that serve requests from a
// shared queue. Requests and responses cross the pool boundary as bytes only.
type LocalExecutor struct {
	handler HandlerFunc
	jobs    chan job
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	logger  *zap.Logger
}

func NewLocalExecutor(handler HandlerFunc, workers int, logger *zap.Logger) *LocalExecutor {
	if workers < 1 {
		workers = 1
	}
	e := &LocalExecutor{
		handler: handler,
		jobs:    make(chan job),
		quit:    make(chan struct{}),
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.work(i)
	}
	return e
}

func (e *LocalExecutor) work(id int) {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			e.logger.Debug("Offload worker stopped", zap.Int("worker", id))
			return
		case j := <-e.jobs:
			data, err := e.handler(j.ctx, j.payload)
			j.reply <- jobResult{data: data, err: err}
		}
	}
}

func (e *LocalExecutor) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	j := job{
		ctx:     ctx,
		payload: append([]byte(nil), payload...),
		reply:   make(chan jobResult, 1),
	}

	select {
	case <-e.quit:
		return nil, ErrOffloadUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	case e.jobs <- j:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-j.reply:
		return r.data, r.err
	}
}

func (e *LocalExecutor) Available() bool {
	select {
	case <-e.quit:
		return false
	default:
		return true
	}
}

// Close stops the pool and waits for in-flight jobs to finish.
func (e *LocalExecutor) Close() error {
	e.once.Do(func() {
		close(e.quit)
	})
	e.wg.Wait()
	return nil
}
