package securenote

import (
	"context"
	"sync"
	"sync/atomic"
)

// asyncWorker is the delivery loop shared by the audit and mail dispatchers:
// items are queued on a buffered channel and handed to deliver by a single
// goroutine. close drains whatever is still queued before returning.
type asyncWorker[T any] struct {
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	deliver   func(T)
}

func newAsyncWorker[T any](bufferSize int, deliver func(T)) *asyncWorker[T] {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	w := &asyncWorker[T]{
		ch:      make(chan T, bufferSize),
		done:    make(chan struct{}),
		deliver: deliver,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *asyncWorker[T]) run() {
	defer w.wg.Done()

	for {
		select {
		case item := <-w.ch:
			w.deliver(item)
		case <-w.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case item := <-w.ch:
					w.deliver(item)
				default:
					return
				}
			}
		}
	}
}

// enqueue queues without blocking; a full queue drops the item and counts it.
func (w *asyncWorker[T]) enqueue(item T) {
	if w.closed.Load() {
		return
	}
	select {
	case w.ch <- item:
	case <-w.done:
	default:
		w.dropped.Add(1)
	}
}

// enqueueWait blocks until the item is queued, the context is done, or the
// worker is closed.
func (w *asyncWorker[T]) enqueueWait(ctx context.Context, item T) {
	if w.closed.Load() {
		return
	}
	select {
	case w.ch <- item:
	case <-ctx.Done():
	case <-w.done:
	}
}

func (w *asyncWorker[T]) close() {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
		w.wg.Wait()
	})
}

func (w *asyncWorker[T]) droppedCount() uint64 {
	return w.dropped.Load()
}
