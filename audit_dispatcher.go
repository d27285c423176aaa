package securenote

import "context"

// auditDispatcher decouples engine operations from the sink by queueing
// events on an asyncWorker. With DropIfFull the queue sheds load instead of
// back-pressuring callers.
type auditDispatcher struct {
	cfg    AuditConfig
	worker *asyncWorker[AuditEvent]
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	return &auditDispatcher{
		cfg: cfg,
		worker: newAsyncWorker(cfg.BufferSize, func(event AuditEvent) {
			sink.Emit(context.Background(), event)
		}),
	}
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	if d.cfg.DropIfFull {
		d.worker.enqueue(event)
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.worker.enqueueWait(ctx, event)
}

func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.worker.close()
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.worker.droppedCount()
}
