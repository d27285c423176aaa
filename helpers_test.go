package securenote

import (
	"context"
	"encoding/base32"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	// Cheap argon2 parameters keep the suite fast.
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *memoryProvider, *memoryDocStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	provider := newMemoryProvider()
	docs := newMemoryDocStore()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityProvider(provider).
		WithDocumentStore(docs).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}

	done := func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	}
	return engine, provider, docs, mr, done
}

func registerTestIdentity(t *testing.T, engine *Engine, username string) string {
	t.Helper()

	result, err := engine.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("Register %q failed: %v", username, err)
	}
	return result.IdentityID
}

func enableTestTOTP(t *testing.T, engine *Engine, identityID string, cfg Config) string {
	t.Helper()

	setup, err := engine.ProvisionTOTP(context.Background(), Session{IdentityID: identityID})
	if err != nil {
		t.Fatalf("ProvisionTOTP failed: %v", err)
	}
	code := codeForOffset(t, setup.SecretBase32, cfg.TOTP, 0)
	if err := engine.ConfirmTOTPSetup(context.Background(), Session{IdentityID: identityID}, code); err != nil {
		t.Fatalf("ConfirmTOTPSetup failed: %v", err)
	}
	return setup.SecretBase32
}

func codeForOffset(t *testing.T, secret string, cfg TOTPConfig, offset int64) string {
	t.Helper()

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	counter := (time.Now().Unix() / int64(cfg.Period)) + offset
	code, err := hotpCode(key, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

/*
====================================
IN-MEMORY IDENTITY PROVIDER
====================================
*/

type memoryIdentity struct {
	record     IdentityRecord
	privateKey []byte
	totp       TOTPRecord
}

type memoryProvider struct {
	mu       sync.RWMutex
	byID     map[string]*memoryIdentity
	requests map[string]*VerificationRequest

	// requestUpdateErr fails the next UpdateVerificationRequest once.
	requestUpdateErr error
}

func (p *memoryProvider) failNextRequestUpdate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestUpdateErr = err
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{
		byID:     make(map[string]*memoryIdentity),
		requests: make(map[string]*VerificationRequest),
	}
}

func (p *memoryProvider) GetIdentityByIdentifier(_ context.Context, identifier string) (IdentityRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.byID {
		if m.record.Username == identifier || m.record.Email == identifier {
			return m.record, nil
		}
	}
	return IdentityRecord{}, ErrIdentityNotFound
}

func (p *memoryProvider) GetIdentityByID(_ context.Context, identityID string) (IdentityRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.byID[identityID]
	if !ok {
		return IdentityRecord{}, ErrIdentityNotFound
	}
	return m.record, nil
}

func (p *memoryProvider) CreateIdentity(_ context.Context, input CreateIdentityInput) (IdentityRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.byID {
		if m.record.Username == input.Username || m.record.Email == input.Email {
			return IdentityRecord{}, ErrIdentityExists
		}
	}
	record := IdentityRecord{
		IdentityID:     uuid.NewString(),
		Username:       input.Username,
		Email:          input.Email,
		PasswordHash:   input.PasswordHash,
		Role:           input.Role,
		Status:         input.Status,
		AccountVersion: 1,
		PublicKeyPEM:   input.PublicKeyPEM,
	}
	p.byID[record.IdentityID] = &memoryIdentity{
		record:     record,
		privateKey: input.PrivateKeyPEM,
		totp:       TOTPRecord{LastUsedCounter: -1},
	}
	return record, nil
}

func (p *memoryProvider) UpdatePasswordHash(_ context.Context, identityID, newHash string) error {
	return p.mutate(identityID, func(m *memoryIdentity) {
		m.record.PasswordHash = newHash
		m.record.AccountVersion++
	})
}

func (p *memoryProvider) UpdateRole(_ context.Context, identityID string, role Role) error {
	return p.mutate(identityID, func(m *memoryIdentity) {
		m.record.Role = role
		m.record.AccountVersion++
	})
}

func (p *memoryProvider) SetVerificationStatus(_ context.Context, identityID string, status VerificationStatus) error {
	return p.mutate(identityID, func(m *memoryIdentity) {
		m.record.Status = status
	})
}

func (p *memoryProvider) GetTOTPSecret(_ context.Context, identityID string) (*TOTPRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.byID[identityID]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	totp := m.totp
	return &totp, nil
}

func (p *memoryProvider) SetTOTPSecret(_ context.Context, identityID string, secret []byte) error {
	return p.mutate(identityID, func(m *memoryIdentity) {
		m.totp = TOTPRecord{Secret: secret, LastUsedCounter: -1}
		m.record.TOTPEnabled = false
	})
}

func (p *memoryProvider) EnableTOTP(_ context.Context, identityID string) error {
	return p.mutate(identityID, func(m *memoryIdentity) {
		m.totp.Enabled = true
		m.record.TOTPEnabled = true
	})
}

func (p *memoryProvider) DisableTOTP(_ context.Context, identityID string) error {
	return p.mutate(identityID, func(m *memoryIdentity) {
		m.totp = TOTPRecord{LastUsedCounter: -1}
		m.record.TOTPEnabled = false
	})
}

func (p *memoryProvider) UpdateTOTPLastUsedCounter(_ context.Context, identityID string, counter int64) error {
	return p.mutate(identityID, func(m *memoryIdentity) {
		if counter > m.totp.LastUsedCounter {
			m.totp.LastUsedCounter = counter
		}
	})
}

func (p *memoryProvider) GetPrivateKey(_ context.Context, identityID string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.byID[identityID]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return m.privateKey, nil
}

func (p *memoryProvider) CreateVerificationRequest(_ context.Context, req *VerificationRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := *req
	p.requests[req.RequestID] = &clone
	return nil
}

func (p *memoryProvider) GetVerificationRequest(_ context.Context, requestID string) (*VerificationRequest, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	req, ok := p.requests[requestID]
	if !ok {
		return nil, nil
	}
	clone := *req
	return &clone, nil
}

func (p *memoryProvider) ActiveVerificationRequest(_ context.Context, identityID string) (*VerificationRequest, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, req := range p.requests {
		if req.IdentityID == identityID && !req.Status.Terminal() {
			clone := *req
			return &clone, nil
		}
	}
	return nil, nil
}

func (p *memoryProvider) UpdateVerificationRequest(_ context.Context, req *VerificationRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.requestUpdateErr != nil {
		err := p.requestUpdateErr
		p.requestUpdateErr = nil
		return err
	}
	if _, ok := p.requests[req.RequestID]; !ok {
		return ErrVerificationRequestNotFound
	}
	clone := *req
	p.requests[req.RequestID] = &clone
	return nil
}

func (p *memoryProvider) mutate(identityID string, fn func(*memoryIdentity)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.byID[identityID]
	if !ok {
		return ErrIdentityNotFound
	}
	fn(m)
	return nil
}

/*
====================================
IN-MEMORY DOCUMENT STORE
====================================
*/

type memoryDocStore struct {
	mu   sync.Mutex
	docs map[string]*DocumentRecord
}

func newMemoryDocStore() *memoryDocStore {
	return &memoryDocStore{docs: make(map[string]*DocumentRecord)}
}

func cloneDoc(doc *DocumentRecord) *DocumentRecord {
	clone := *doc
	clone.Tags = append([]string(nil), doc.Tags...)
	clone.Grants = append([]ShareGrant(nil), doc.Grants...)
	return &clone
}

func (s *memoryDocStore) CreateDocument(_ context.Context, doc *DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.DocumentID]; ok {
		return fmt.Errorf("document %s already exists", doc.DocumentID)
	}
	s.docs[doc.DocumentID] = cloneDoc(doc)
	return nil
}

func (s *memoryDocStore) GetDocument(_ context.Context, documentID string) (*DocumentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return cloneDoc(doc), nil
}

func (s *memoryDocStore) ReplaceDocument(_ context.Context, doc *DocumentRecord, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.docs[doc.DocumentID]
	if !ok {
		return ErrDocumentNotFound
	}
	if stored.Version != expectedVersion {
		return ErrDocumentConflict
	}
	s.docs[doc.DocumentID] = cloneDoc(doc)
	return nil
}

func (s *memoryDocStore) AddGrant(_ context.Context, documentID string, grant *ShareGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return ErrDocumentNotFound
	}
	if doc.GrantFor(grant.RecipientID) != nil {
		return ErrGrantExists
	}
	doc.Grants = append(doc.Grants, *grant)
	return nil
}

func (s *memoryDocStore) UpdateGrantTier(_ context.Context, documentID, recipientID string, tier Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return ErrDocumentNotFound
	}
	grant := doc.GrantFor(recipientID)
	if grant == nil {
		return ErrGrantNotFound
	}
	grant.Tier = tier
	return nil
}

func (s *memoryDocStore) DeleteGrant(_ context.Context, documentID, recipientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return false, ErrDocumentNotFound
	}
	for i := range doc.Grants {
		if doc.Grants[i].RecipientID == recipientID {
			doc.Grants = append(doc.Grants[:i], doc.Grants[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryDocStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, documentID)
	return nil
}
