package securenote

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingRecordVersion1 = 1

var (
	errPendingNotFound = errors.New("pending token not found")
	errPendingExpired  = errors.New("pending token expired")
	errPendingBackend  = errors.New("pending token backend unavailable")
)

// pendingTokenRecord is the Redis payload behind one pending second-factor
// token. Single use is enforced by consuming with GETDEL: whoever wins the
// atomic delete owns the only verification attempt for this login round.
type pendingTokenRecord struct {
	IdentityID string
	IssuedAt   int64
	ExpiresAt  int64
}

type pendingTokenStore struct {
	redis  *redis.Client
	prefix string
}

func newPendingTokenStore(redisClient *redis.Client, prefix string) *pendingTokenStore {
	return &pendingTokenStore{redis: redisClient, prefix: prefix}
}

func (s *pendingTokenStore) key(token string) string {
	return s.prefix + ":" + token
}

func (s *pendingTokenStore) Save(ctx context.Context, token string, record *pendingTokenRecord, ttl time.Duration) error {
	encoded, err := encodePendingTokenRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errPendingBackend, err)
	}
	return nil
}

// Consume atomically removes and returns the record. The check-and-delete is
// a single GETDEL round-trip, so two concurrent consumers of the same token
// see exactly one success.
func (s *pendingTokenStore) Consume(ctx context.Context, token string) (*pendingTokenRecord, error) {
	data, err := s.redis.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errPendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", errPendingBackend, err)
	}

	record, err := decodePendingTokenRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		return nil, errPendingExpired
	}
	return record, nil
}

func encodePendingTokenRecord(record *pendingTokenRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pendingRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.IdentityID) > 65535 {
		return nil, errors.New("pending token identity id length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.IdentityID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.IdentityID)

	return buf.Bytes(), nil
}

func decodePendingTokenRecord(data []byte) (*pendingTokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pendingRecordVersion1 {
		return nil, errors.New("invalid pending token record version")
	}

	record := &pendingTokenRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

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
