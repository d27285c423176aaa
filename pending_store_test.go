package securenote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newPendingStoreForTest(t *testing.T) (*pendingTokenStore, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	done := func() {
		rdb.Close()
		mr.Close()
	}
	return newPendingTokenStore(rdb, "snp"), mr, done
}

func TestPendingTokenStoreSingleUse(t *testing.T) {
	store, mr, done := newPendingStoreForTest(t)
	defer done()

	now := time.Now()
	record := &pendingTokenRecord{
		IdentityID: "id-1",
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(5 * time.Minute).Unix(),
	}
	if err := store.Save(context.Background(), "tok", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !mr.Exists("snp:tok") {
		t.Fatal("expected redis key snp:tok")
	}

	got, err := store.Consume(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if got.IdentityID != "id-1" {
		t.Fatalf("expected identity id-1, got %s", got.IdentityID)
	}
	if mr.Exists("snp:tok") {
		t.Fatal("expected key to be gone after consume")
	}

	if _, err := store.Consume(context.Background(), "tok"); !errors.Is(err, errPendingNotFound) {
		t.Fatalf("expected errPendingNotFound on second consume, got %v", err)
	}
}

func TestPendingTokenStoreExpiry(t *testing.T) {
	store, mr, done := newPendingStoreForTest(t)
	defer done()

	now := time.Now()
	record := &pendingTokenRecord{
		IdentityID: "id-1",
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(time.Minute).Unix(),
	}
	if err := store.Save(context.Background(), "tok", record, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Consume(context.Background(), "tok"); !errors.Is(err, errPendingNotFound) {
		t.Fatalf("expected errPendingNotFound after TTL, got %v", err)
	}
}

func TestPendingTokenRecordCodecRejectsCorruptPayload(t *testing.T) {
	record := &pendingTokenRecord{IdentityID: "id-1", IssuedAt: 100, ExpiresAt: 200}
	encoded, err := encodePendingTokenRecord(record)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodePendingTokenRecord(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *decoded != *record {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, record)
	}

	for _, corrupt := range [][]byte{nil, {}, {99}, encoded[:len(encoded)-2], append([]byte{2}, encoded[1:]...)} {
		if _, err := decodePendingTokenRecord(corrupt); err == nil {
			t.Fatalf("expected decode error for %v", corrupt)
		}
	}
}
