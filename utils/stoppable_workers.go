// Package utils contains helpers shared by the sink's components.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers is a group of goroutines sharing one context that is cancelled by Stop.
type StoppableWorkers interface {
	// AddWorkers starts each function in its own goroutine. It does nothing once Stop has been
	// called.
	AddWorkers(...func(context.Context))
	// Stop cancels the workers' context and waits for all of them to return. It may be called more
	// than once.
	Stop()
	Context() context.Context
}

type stoppableWorkersImpl struct {
	mu                      sync.Mutex
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewStoppableWorkers starts funcs with a context derived from ctx. The workers stop when ctx is
// done or Stop is called, whichever is first.
func NewStoppableWorkers(ctx context.Context, funcs ...func(context.Context)) StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(ctx)
	workers := &stoppableWorkersImpl{cancelCtx: cancelCtx, cancelFunc: cancelFunc}
	workers.AddWorkers(funcs...)
	return workers
}

func (sw *stoppableWorkersImpl) AddWorkers(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.cancelCtx.Err() != nil {
		return
	}

	sw.activeBackgroundWorkers.Add(len(funcs))
	for _, f := range funcs {
		// Workers are not restarted: a panic is logged and the worker counts as finished.
		goutils.PanicCapturingGo(func() {
			defer sw.activeBackgroundWorkers.Done()
			f(sw.cancelCtx)
		})
	}
}

func (sw *stoppableWorkersImpl) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.cancelFunc()
	sw.activeBackgroundWorkers.Wait()
}

func (sw *stoppableWorkersImpl) Context() context.Context {
	return sw.cancelCtx
}
