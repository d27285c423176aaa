package securenote

import "context"

// MailTemplate selects the message body a Mailer renders.
type MailTemplate string

const (
	// MailVerificationApproved carries the one-time confirmation token
	// issued when an admin approves a verification request.
	MailVerificationApproved MailTemplate = "verification_approved"
	// MailVerificationRejected informs the identity of a rejection; the
	// token field is empty and the reason travels in the detail argument.
	MailVerificationRejected MailTemplate = "verification_rejected"
)

// Mailer delivers workflow mail. Delivery is best-effort and retryable by
// the implementation; the engine never consumes a return value and never
// rolls back a state transition because of a send failure.
type Mailer interface {
	Send(ctx context.Context, recipientEmail string, template MailTemplate, token string) error
}

// NoOpMailer discards all mail.
type NoOpMailer struct{}

// Send implements Mailer.
func (NoOpMailer) Send(context.Context, string, MailTemplate, string) error { return nil }

type mailJob struct {
	recipient string
	template  MailTemplate
	token     string
}

// mailDispatcher queues mail on an asyncWorker so a slow SMTP backend
// cannot stall verification decisions.
type mailDispatcher struct {
	worker *asyncWorker[mailJob]
}

func newMailDispatcher(cfg MailConfig, mailer Mailer) *mailDispatcher {
	if !cfg.Enabled || mailer == nil {
		return nil
	}
	return &mailDispatcher{
		worker: newAsyncWorker(cfg.BufferSize, func(job mailJob) {
			_ = mailer.Send(context.Background(), job.recipient, job.template, job.token)
		}),
	}
}

// Dispatch queues a message without blocking. A full queue drops the job and
// counts it; the workflow state machine is the source of truth, not the mail.
func (d *mailDispatcher) Dispatch(recipient string, template MailTemplate, token string) {
	if d == nil {
		return
	}
	d.worker.enqueue(mailJob{recipient: recipient, template: template, token: token})
}

func (d *mailDispatcher) Close() {
	if d == nil {
		return
	}
	d.worker.close()
}

func (d *mailDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.worker.droppedCount()
}
