package securenote

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	confirmRecordVersion1 = 1
	confirmSecretBytes    = 32
)

var (
	errConfirmNotFound = errors.New("confirmation token not found")
	errConfirmExpired  = errors.New("confirmation token expired")
	errConfirmMismatch = errors.New("confirmation secret mismatch")
	errConfirmBackend  = errors.New("confirmation token backend unavailable")
)

// confirmTokenRecord is the Redis payload behind one verification
// confirmation token. The token handed to the mailer is "<id>.<secret>";
// only the secret's SHA-256 is stored.
type confirmTokenRecord struct {
	RequestID  string
	IdentityID string
	SecretHash [32]byte
	ExpiresAt  int64
}

type confirmTokenStore struct {
	redis  *redis.Client
	prefix string
}

func newConfirmTokenStore(redisClient *redis.Client, prefix string) *confirmTokenStore {
	return &confirmTokenStore{redis: redisClient, prefix: prefix}
}

func (s *confirmTokenStore) key(confirmID string) string {
	return s.prefix + ":" + confirmID
}

// Issue creates a confirmation token for the given request and returns the
// opaque token string to hand to the mailer.
func (s *confirmTokenStore) Issue(ctx context.Context, requestID, identityID string, ttl time.Duration) (string, error) {
	confirmID := uuid.NewString()

	secret := make([]byte, confirmSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	encodedSecret := base64.RawURLEncoding.EncodeToString(secret)

	record := &confirmTokenRecord{
		RequestID:  requestID,
		IdentityID: identityID,
		SecretHash: sha256.Sum256([]byte(encodedSecret)),
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	}
	encoded, err := encodeConfirmTokenRecord(record)
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, s.key(confirmID), encoded, ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", errConfirmBackend, err)
	}

	return confirmID + "." + encodedSecret, nil
}

// Consume burns the token and returns its record when the secret matches.
// The GETDEL removes the record on the first attempt regardless of outcome:
// a confirmation token is valid for exactly one presentation.
func (s *confirmTokenStore) Consume(ctx context.Context, token string) (*confirmTokenRecord, error) {
	confirmID, secret, ok := strings.Cut(token, ".")
	if !ok || confirmID == "" || secret == "" {
		return nil, errConfirmNotFound
	}
	if _, err := uuid.Parse(confirmID); err != nil {
		return nil, errConfirmNotFound
	}

	data, err := s.redis.GetDel(ctx, s.key(confirmID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errConfirmNotFound
		}
		return nil, fmt.Errorf("%w: %v", errConfirmBackend, err)
	}

	record, err := decodeConfirmTokenRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		return nil, errConfirmExpired
	}

	presented := sha256.Sum256([]byte(secret))
	if subtle.ConstantTimeCompare(presented[:], record.SecretHash[:]) != 1 {
		return nil, errConfirmMismatch
	}
	return record, nil
}

// Restore puts a consumed token back with its remaining lifetime, so a
// confirmation that failed on the provider side can be retried with the same
// token. Best-effort: a token past its expiry stays consumed, and a Redis
// failure here is not reported — the caller already has an error to return.
func (s *confirmTokenStore) Restore(ctx context.Context, token string, record *confirmTokenRecord) {
	confirmID, _, ok := strings.Cut(token, ".")
	if !ok || confirmID == "" {
		return
	}
	ttl := time.Until(time.Unix(record.ExpiresAt, 0))
	if ttl <= 0 {
		return
	}
	encoded, err := encodeConfirmTokenRecord(record)
	if err != nil {
		return
	}
	_ = s.redis.Set(ctx, s.key(confirmID), encoded, ttl).Err()
}

func encodeConfirmTokenRecord(record *confirmTokenRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(confirmRecordVersion1)

	buf.Write(record.SecretHash[:])
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.RequestID) > 65535 || len(record.IdentityID) > 65535 {
		return nil, errors.New("confirmation record id length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.RequestID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.RequestID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.IdentityID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.IdentityID)

	return buf.Bytes(), nil
}

func decodeConfirmTokenRecord(data []byte) (*confirmTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != confirmRecordVersion1 {
		return nil, errors.New("invalid confirmation record version")
	}

	record := &confirmTokenRecord{}
	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var reqLen uint16
	if err := binary.Read(reader, binary.BigEndian, &reqLen); err != nil {
		return nil, err
	}
	req := make([]byte, reqLen)
	if _, err := io.ReadFull(reader, req); err != nil {
		return nil, err
	}
	record.RequestID = string(req)

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.IdentityID = string(id)

	return record, nil
}
