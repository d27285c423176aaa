package securenote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type captureMailer struct {
	mu    sync.Mutex
	sends []capturedMail
}

type capturedMail struct {
	recipient string
	template  MailTemplate
	token     string
}

func (m *captureMailer) Send(_ context.Context, recipient string, template MailTemplate, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, capturedMail{recipient, template, token})
	return nil
}

func (m *captureMailer) waitForMail(t *testing.T) capturedMail {
	t.Helper()
	return m.waitForNthMail(t, 1)
}

// waitForNthMail blocks until at least n messages were delivered and returns
// the n-th one.
func (m *captureMailer) waitForNthMail(t *testing.T, n int) capturedMail {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		if len(m.sends) >= n {
			sent := m.sends[n-1]
			m.mu.Unlock()
			return sent
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("mail %d not dispatched before deadline", n)
	return capturedMail{}
}

func newVerificationEngine(t *testing.T) (*Engine, *memoryProvider, *captureMailer, func()) {
	t.Helper()
	return newVerificationEngineWithConfig(t, testConfig())
}

func newVerificationEngineWithConfig(t *testing.T, cfg Config) (*Engine, *memoryProvider, *captureMailer, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	provider := newMemoryProvider()
	mailer := &captureMailer{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(provider).
		WithDocumentStore(newMemoryDocStore()).
		WithMailer(mailer).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}

	done := func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	}
	return engine, provider, mailer, done
}

func TestVerificationApproveConfirmLifecycle(t *testing.T) {
	engine, provider, mailer, done := newVerificationEngine(t)
	defer done()

	bobID := registerTestIdentity(t, engine, "bob")
	adminID := registerTestIdentity(t, engine, "root_admin")
	admin := Session{IdentityID: adminID, Role: RoleAdmin}

	request, err := engine.RequestVerification(context.Background(), bobID)
	if err != nil {
		t.Fatalf("RequestVerification failed: %v", err)
	}
	if request.Status != RequestPending {
		t.Fatalf("expected pending request, got %d", request.Status)
	}

	record, _ := provider.GetIdentityByID(context.Background(), bobID)
	if record.Status != StatusPending {
		t.Fatalf("expected identity status pending, got %s", record.Status)
	}

	// A second request while one is open conflicts.
	if _, err := engine.RequestVerification(context.Background(), bobID); !errors.Is(err, ErrVerificationConflict) {
		t.Fatalf("expected ErrVerificationConflict, got %v", err)
	}

	if err := engine.DecideVerification(context.Background(), admin, request.RequestID, DecisionApprove, ""); err != nil {
		t.Fatalf("DecideVerification approve failed: %v", err)
	}

	sent := mailer.waitForMail(t)
	if sent.recipient != "bob@example.com" {
		t.Fatalf("expected mail to bob, got %q", sent.recipient)
	}
	if sent.template != MailVerificationApproved {
		t.Fatalf("expected approval template, got %v", sent.template)
	}
	if sent.token == "" {
		t.Fatal("expected a confirmation token in the mail")
	}

	if err := engine.ConfirmVerification(context.Background(), sent.token); err != nil {
		t.Fatalf("ConfirmVerification failed: %v", err)
	}

	record, _ = provider.GetIdentityByID(context.Background(), bobID)
	if record.Status != StatusVerified {
		t.Fatalf("expected identity status verified, got %s", record.Status)
	}

	// The token is single use.
	if err := engine.ConfirmVerification(context.Background(), sent.token); !errors.Is(err, ErrConfirmationInvalid) {
		t.Fatalf("expected ErrConfirmationInvalid on reuse, got %v", err)
	}
	if Classify(ErrConfirmationInvalid) != ClassValidation {
		t.Fatal("expected ErrConfirmationInvalid to classify as validation")
	}

	// Verified identities cannot re-enter the workflow.
	if _, err := engine.RequestVerification(context.Background(), bobID); !errors.Is(err, ErrVerificationConflict) {
		t.Fatalf("expected ErrVerificationConflict for verified identity, got %v", err)
	}
}

func TestVerificationRejectAllowsReRequest(t *testing.T) {
	engine, provider, _, done := newVerificationEngine(t)
	defer done()

	bobID := registerTestIdentity(t, engine, "bob")
	adminID := registerTestIdentity(t, engine, "root_admin")
	admin := Session{IdentityID: adminID, Role: RoleSuperadmin}

	request, err := engine.RequestVerification(context.Background(), bobID)
	if err != nil {
		t.Fatalf("RequestVerification failed: %v", err)
	}
	if err := engine.DecideVerification(context.Background(), admin, request.RequestID, DecisionReject, "blurry document"); err != nil {
		t.Fatalf("DecideVerification reject failed: %v", err)
	}

	record, _ := provider.GetIdentityByID(context.Background(), bobID)
	if record.Status != StatusRejected {
		t.Fatalf("expected identity status rejected, got %s", record.Status)
	}
	stored, err := provider.GetVerificationRequest(context.Background(), request.RequestID)
	if err != nil {
		t.Fatalf("GetVerificationRequest failed: %v", err)
	}
	if stored.Status != RequestRejected || stored.Reason != "blurry document" {
		t.Fatalf("expected rejected request with reason, got %+v", stored)
	}

	// Rejection is terminal for the request, not the identity.
	if _, err := engine.RequestVerification(context.Background(), bobID); err != nil {
		t.Fatalf("re-request after rejection failed: %v", err)
	}

	// A decided request cannot be decided again.
	if err := engine.DecideVerification(context.Background(), admin, request.RequestID, DecisionApprove, ""); !errors.Is(err, ErrVerificationConflict) {
		t.Fatalf("expected ErrVerificationConflict for settled request, got %v", err)
	}
}

func TestDecideVerificationGatedOnRole(t *testing.T) {
	engine, _, _, done := newVerificationEngine(t)
	defer done()

	bobID := registerTestIdentity(t, engine, "bob")
	request, err := engine.RequestVerification(context.Background(), bobID)
	if err != nil {
		t.Fatalf("RequestVerification failed: %v", err)
	}

	user := Session{IdentityID: bobID, Role: RoleUser}
	if err := engine.DecideVerification(context.Background(), user, request.RequestID, DecisionApprove, ""); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	admin := Session{IdentityID: "a", Role: RoleAdmin}
	if err := engine.DecideVerification(context.Background(), admin, request.RequestID, Decision("maybe"), ""); !errors.Is(err, ErrDecisionInvalid) {
		t.Fatalf("expected ErrDecisionInvalid, got %v", err)
	}
	if err := engine.DecideVerification(context.Background(), admin, "missing", DecisionApprove, ""); !errors.Is(err, ErrVerificationRequestNotFound) {
		t.Fatalf("expected ErrVerificationRequestNotFound, got %v", err)
	}
}

func TestLapsedApprovalSupersededByNewRequest(t *testing.T) {
	cfg := testConfig()
	cfg.Verification.ConfirmTTL = 30 * time.Millisecond
	engine, provider, mailer, done := newVerificationEngineWithConfig(t, cfg)
	defer done()

	bobID := registerTestIdentity(t, engine, "bob")
	adminID := registerTestIdentity(t, engine, "root_admin")
	admin := Session{IdentityID: adminID, Role: RoleAdmin}

	first, err := engine.RequestVerification(context.Background(), bobID)
	if err != nil {
		t.Fatalf("RequestVerification failed: %v", err)
	}
	if err := engine.DecideVerification(context.Background(), admin, first.RequestID, DecisionApprove, ""); err != nil {
		t.Fatalf("DecideVerification approve failed: %v", err)
	}
	firstMail := mailer.waitForNthMail(t, 1)

	// Let the confirmation window close without redeeming the token.
	time.Sleep(60 * time.Millisecond)

	second, err := engine.RequestVerification(context.Background(), bobID)
	if err != nil {
		t.Fatalf("re-request after lapsed approval failed: %v", err)
	}
	if second.RequestID == first.RequestID {
		t.Fatal("expected a fresh request, got the old one")
	}

	stored, err := provider.GetVerificationRequest(context.Background(), first.RequestID)
	if err != nil {
		t.Fatalf("GetVerificationRequest failed: %v", err)
	}
	if stored.Status != RequestExpired {
		t.Fatalf("expected superseded request to be expired, got %d", stored.Status)
	}

	// The superseded request's token no longer confirms anything, and the
	// request itself can no longer be decided.
	if err := engine.ConfirmVerification(context.Background(), firstMail.token); !errors.Is(err, ErrConfirmationInvalid) {
		t.Fatalf("expected ErrConfirmationInvalid for superseded token, got %v", err)
	}
	if err := engine.DecideVerification(context.Background(), admin, first.RequestID, DecisionApprove, ""); !errors.Is(err, ErrVerificationConflict) {
		t.Fatalf("expected ErrVerificationConflict for expired request, got %v", err)
	}

	// The fresh request runs the workflow to completion.
	if err := engine.DecideVerification(context.Background(), admin, second.RequestID, DecisionApprove, ""); err != nil {
		t.Fatalf("DecideVerification on fresh request failed: %v", err)
	}
	secondMail := mailer.waitForNthMail(t, 2)
	if err := engine.ConfirmVerification(context.Background(), secondMail.token); err != nil {
		t.Fatalf("ConfirmVerification on fresh token failed: %v", err)
	}
	record, _ := provider.GetIdentityByID(context.Background(), bobID)
	if record.Status != StatusVerified {
		t.Fatalf("expected identity status verified, got %s", record.Status)
	}
}

func TestConfirmVerificationRetriesAfterBackendFailure(t *testing.T) {
	engine, provider, mailer, done := newVerificationEngine(t)
	defer done()

	bobID := registerTestIdentity(t, engine, "bob")
	adminID := registerTestIdentity(t, engine, "root_admin")
	admin := Session{IdentityID: adminID, Role: RoleAdmin}

	request, err := engine.RequestVerification(context.Background(), bobID)
	if err != nil {
		t.Fatalf("RequestVerification failed: %v", err)
	}
	if err := engine.DecideVerification(context.Background(), admin, request.RequestID, DecisionApprove, ""); err != nil {
		t.Fatalf("DecideVerification approve failed: %v", err)
	}
	sent := mailer.waitForMail(t)

	provider.failNextRequestUpdate(errors.New("storage offline"))
	if err := engine.ConfirmVerification(context.Background(), sent.token); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	// The token was put back, so the same presentation succeeds on retry.
	if err := engine.ConfirmVerification(context.Background(), sent.token); err != nil {
		t.Fatalf("retry after backend failure failed: %v", err)
	}
	stored, err := provider.GetVerificationRequest(context.Background(), request.RequestID)
	if err != nil {
		t.Fatalf("GetVerificationRequest failed: %v", err)
	}
	if stored.Status != RequestConfirmed {
		t.Fatalf("expected confirmed request, got %d", stored.Status)
	}
	record, _ := provider.GetIdentityByID(context.Background(), bobID)
	if record.Status != StatusVerified {
		t.Fatalf("expected identity status verified, got %s", record.Status)
	}

	// Still single use once redeemed.
	if err := engine.ConfirmVerification(context.Background(), sent.token); !errors.Is(err, ErrConfirmationInvalid) {
		t.Fatalf("expected ErrConfirmationInvalid on reuse, got %v", err)
	}
}

func TestMailDispatcherDropsWhenQueueFull(t *testing.T) {
	blocker := make(chan struct{})
	mailer := &blockingMailer{release: blocker}

	d := newMailDispatcher(MailConfig{Enabled: true, BufferSize: 1}, mailer)

	// First job occupies the worker, second fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		d.Dispatch("bob@example.com", MailVerificationApproved, "")
	}

	waitFor(t, func() bool { return d.Dropped() >= 1 })
	close(blocker)
	d.Close()

	if got := mailer.sent.Load() + d.Dropped(); got != 10 {
		t.Fatalf("expected every job delivered or counted dropped, got %d of 10", got)
	}
}

type blockingMailer struct {
	release chan struct{}
	sent    atomic.Uint64
}

func (m *blockingMailer) Send(context.Context, string, MailTemplate, string) error {
	<-m.release
	m.sent.Add(1)
	return nil
}

func TestConfirmVerificationRejectsGarbageTokens(t *testing.T) {
	engine, _, _, done := newVerificationEngine(t)
	defer done()

	for _, token := range []string{"", "no-dot", "not-a-uuid.secret", "c2b9e7f0-0000-0000-0000-000000000000.AAAA"} {
		if err := engine.ConfirmVerification(context.Background(), token); !errors.Is(err, ErrConfirmationInvalid) {
			t.Fatalf("expected ErrConfirmationInvalid for %q, got %v", token, err)
		}
	}
}
