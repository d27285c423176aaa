package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/StealthMoud/securenote"
)

type identityRow struct {
	ID              string    `db:"ID"`
	Username        string    `db:"Username"`
	Email           string    `db:"Email"`
	PasswordHash    string    `db:"PasswordHash"`
	Role            uint8     `db:"Role"`
	Status          uint8     `db:"Status"`
	TOTPSecret      []byte    `db:"TOTPSecret"`
	TOTPEnabled     bool      `db:"TOTPEnabled"`
	TOTPLastCounter int64     `db:"TOTPLastCounter"`
	AccountVersion  uint32    `db:"AccountVersion"`
	PublicKey       []byte    `db:"PublicKey"`
	PrivateKey      []byte    `db:"PrivateKey"`
	CreatedAt       time.Time `db:"CreatedAt"`
	UpdatedAt       time.Time `db:"UpdatedAt"`
}

func (r *identityRow) record() securenote.IdentityRecord {
	return securenote.IdentityRecord{
		IdentityID:     r.ID,
		Username:       r.Username,
		Email:          r.Email,
		PasswordHash:   r.PasswordHash,
		Role:           securenote.Role(r.Role),
		Status:         securenote.VerificationStatus(r.Status),
		TOTPEnabled:    r.TOTPEnabled,
		AccountVersion: r.AccountVersion,
		PublicKeyPEM:   r.PublicKey,
	}
}

const identityColumns = `ID, Username, Email, PasswordHash, Role, Status,
	TOTPSecret, TOTPEnabled, TOTPLastCounter, AccountVersion,
	PublicKey, PrivateKey, CreatedAt, UpdatedAt`

func (s *Store) GetIdentityByIdentifier(ctx context.Context, identifier string) (securenote.IdentityRecord, error) {
	row := identityRow{}
	err := s.db.GetContext(ctx, &row,
		`select `+identityColumns+` from identities where Username = ? or Email = ?`,
		identifier, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return securenote.IdentityRecord{}, securenote.ErrIdentityNotFound
		}
		return securenote.IdentityRecord{}, fmt.Errorf("fetching identity: %w", err)
	}
	return row.record(), nil
}

func (s *Store) GetIdentityByID(ctx context.Context, identityID string) (securenote.IdentityRecord, error) {
	row := identityRow{}
	err := s.db.GetContext(ctx, &row,
		`select `+identityColumns+` from identities where ID = ?`, identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return securenote.IdentityRecord{}, securenote.ErrIdentityNotFound
		}
		return securenote.IdentityRecord{}, fmt.Errorf("fetching identity: %w", err)
	}
	return row.record(), nil
}

func (s *Store) CreateIdentity(ctx context.Context, input securenote.CreateIdentityInput) (securenote.IdentityRecord, error) {
	now := time.Now().UTC()
	row := identityRow{
		ID:              uuid.NewString(),
		Username:        input.Username,
		Email:           input.Email,
		PasswordHash:    input.PasswordHash,
		Role:            uint8(input.Role),
		Status:          uint8(input.Status),
		TOTPLastCounter: -1,
		AccountVersion:  1,
		PublicKey:       input.PublicKeyPEM,
		PrivateKey:      input.PrivateKeyPEM,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := s.db.ExecContext(ctx,
		`insert into identities (`+identityColumns+`)
		 values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Username, row.Email, row.PasswordHash, row.Role, row.Status,
		row.TOTPSecret, row.TOTPEnabled, row.TOTPLastCounter, row.AccountVersion,
		row.PublicKey, row.PrivateKey, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return securenote.IdentityRecord{}, securenote.ErrIdentityExists
		}
		return securenote.IdentityRecord{}, fmt.Errorf("creating identity: %w", err)
	}
	return row.record(), nil
}

// UpdatePasswordHash stores the new hash and advances the account version in
// the same statement so outstanding sessions go stale atomically.
func (s *Store) UpdatePasswordHash(ctx context.Context, identityID, newHash string) error {
	return s.updateIdentity(ctx,
		`update identities
		 set PasswordHash = ?, AccountVersion = AccountVersion + 1, UpdatedAt = ?
		 where ID = ?`,
		newHash, time.Now().UTC(), identityID)
}

func (s *Store) UpdateRole(ctx context.Context, identityID string, role securenote.Role) error {
	return s.updateIdentity(ctx,
		`update identities
		 set Role = ?, AccountVersion = AccountVersion + 1, UpdatedAt = ?
		 where ID = ?`,
		uint8(role), time.Now().UTC(), identityID)
}

func (s *Store) SetVerificationStatus(ctx context.Context, identityID string, status securenote.VerificationStatus) error {
	return s.updateIdentity(ctx,
		`update identities set Status = ?, UpdatedAt = ? where ID = ?`,
		uint8(status), time.Now().UTC(), identityID)
}

func (s *Store) GetTOTPSecret(ctx context.Context, identityID string) (*securenote.TOTPRecord, error) {
	row := struct {
		TOTPSecret      []byte `db:"TOTPSecret"`
		TOTPEnabled     bool   `db:"TOTPEnabled"`
		TOTPLastCounter int64  `db:"TOTPLastCounter"`
	}{}
	err := s.db.GetContext(ctx, &row,
		`select TOTPSecret, TOTPEnabled, TOTPLastCounter from identities where ID = ?`,
		identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, securenote.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("fetching totp secret: %w", err)
	}
	return &securenote.TOTPRecord{
		Secret:          row.TOTPSecret,
		Enabled:         row.TOTPEnabled,
		LastUsedCounter: row.TOTPLastCounter,
	}, nil
}

// SetTOTPSecret stores a fresh secret disabled and resets the replay counter.
func (s *Store) SetTOTPSecret(ctx context.Context, identityID string, secret []byte) error {
	return s.updateIdentity(ctx,
		`update identities
		 set TOTPSecret = ?, TOTPEnabled = 0, TOTPLastCounter = -1, UpdatedAt = ?
		 where ID = ?`,
		secret, time.Now().UTC(), identityID)
}

func (s *Store) EnableTOTP(ctx context.Context, identityID string) error {
	return s.updateIdentity(ctx,
		`update identities set TOTPEnabled = 1, UpdatedAt = ? where ID = ?`,
		time.Now().UTC(), identityID)
}

func (s *Store) DisableTOTP(ctx context.Context, identityID string) error {
	return s.updateIdentity(ctx,
		`update identities
		 set TOTPEnabled = 0, TOTPSecret = null, TOTPLastCounter = -1, UpdatedAt = ?
		 where ID = ?`,
		time.Now().UTC(), identityID)
}

// UpdateTOTPLastUsedCounter only moves the counter forward so a concurrent
// confirm cannot reopen an already-used step.
func (s *Store) UpdateTOTPLastUsedCounter(ctx context.Context, identityID string, counter int64) error {
	_, err := s.db.ExecContext(ctx,
		`update identities set TOTPLastCounter = ? where ID = ? and TOTPLastCounter < ?`,
		counter, identityID, counter)
	if err != nil {
		return fmt.Errorf("updating totp counter: %w", err)
	}
	return nil
}

func (s *Store) GetPrivateKey(ctx context.Context, identityID string) ([]byte, error) {
	var pem []byte
	err := s.db.GetContext(ctx, &pem,
		`select PrivateKey from identities where ID = ?`, identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, securenote.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("fetching private key: %w", err)
	}
	return pem, nil
}

func (s *Store) updateIdentity(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating identity: %w", err)
	}
	if n == 0 {
		return securenote.ErrIdentityNotFound
	}
	return nil
}

/*
====================================
VERIFICATION REQUESTS
====================================
*/

type requestRow struct {
	ID         string       `db:"ID"`
	IdentityID string       `db:"IdentityID"`
	Status     uint8        `db:"Status"`
	Reason     string       `db:"Reason"`
	CreatedAt  time.Time    `db:"CreatedAt"`
	DecidedAt  sql.NullTime `db:"DecidedAt"`
}

func (r *requestRow) request() *securenote.VerificationRequest {
	req := &securenote.VerificationRequest{
		RequestID:  r.ID,
		IdentityID: r.IdentityID,
		Status:     securenote.VerificationRequestStatus(r.Status),
		Reason:     r.Reason,
		CreatedAt:  r.CreatedAt,
	}
	if r.DecidedAt.Valid {
		req.DecidedAt = r.DecidedAt.Time
	}
	return req
}

func (s *Store) CreateVerificationRequest(ctx context.Context, req *securenote.VerificationRequest) error {
	_, err := s.db.ExecContext(ctx,
		`insert into verification_requests (ID, IdentityID, Status, Reason, CreatedAt)
		 values (?, ?, ?, ?, ?)`,
		req.RequestID, req.IdentityID, uint8(req.Status), req.Reason, req.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating verification request: %w", err)
	}
	return nil
}

func (s *Store) GetVerificationRequest(ctx context.Context, requestID string) (*securenote.VerificationRequest, error) {
	row := requestRow{}
	err := s.db.GetContext(ctx, &row,
		`select * from verification_requests where ID = ?`, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching verification request: %w", err)
	}
	return row.request(), nil
}

func (s *Store) ActiveVerificationRequest(ctx context.Context, identityID string) (*securenote.VerificationRequest, error) {
	row := requestRow{}
	err := s.db.GetContext(ctx,
		&row,
		`select * from verification_requests
		 where IdentityID = ? and Status in (?, ?)
		 order by CreatedAt desc limit 1`,
		identityID,
		uint8(securenote.RequestPending), uint8(securenote.RequestApproved))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching active verification request: %w", err)
	}
	return row.request(), nil
}

func (s *Store) UpdateVerificationRequest(ctx context.Context, req *securenote.VerificationRequest) error {
	decidedAt := sql.NullTime{}
	if !req.DecidedAt.IsZero() {
		decidedAt = sql.NullTime{Time: req.DecidedAt.UTC(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`update verification_requests
		 set Status = ?, Reason = ?, DecidedAt = ?
		 where ID = ?`,
		uint8(req.Status), req.Reason, decidedAt, req.RequestID)
	if err != nil {
		return fmt.Errorf("updating verification request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating verification request: %w", err)
	}
	if n == 0 {
		return securenote.ErrVerificationRequestNotFound
	}
	return nil
}
