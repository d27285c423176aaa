package password

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(Config{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := testHasher(t)

	encoded, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("expected PHC argon2id encoding, got %q", encoded)
	}

	ok, err := h.Verify("correct-horse-battery", encoded)
	if err != nil || !ok {
		t.Fatalf("expected verify success, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("wrong-password-here", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password to fail verification")
	}
}

func TestHashSaltsAreUnique(t *testing.T) {
	h := testHasher(t)

	a, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct encodings for the same password")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h := testHasher(t)
	if _, err := h.Hash("short"); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestNeedsRehashDetectsWeakerParameters(t *testing.T) {
	weak := testHasher(t)
	encoded, err := weak.Hash("correct-horse-battery")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	stale, err := weak.NeedsRehash(encoded)
	if err != nil || stale {
		t.Fatalf("expected same-parameter hash to be current, stale=%v err=%v", stale, err)
	}

	strong, err := NewHasher(Config{
		Memory:      16384,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	stale, err = strong.NeedsRehash(encoded)
	if err != nil || !stale {
		t.Fatalf("expected weaker hash to need rehash, stale=%v err=%v", stale, err)
	}

	// The stronger hasher still verifies old hashes during the upgrade window.
	ok, err := strong.Verify("correct-horse-battery", encoded)
	if err != nil || !ok {
		t.Fatalf("expected old hash to verify, ok=%v err=%v", ok, err)
	}
}

func TestVerifyRejectsMalformedEncodings(t *testing.T) {
	h := testHasher(t)

	bad := []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$aGFzaA",
	}
	for _, encoded := range bad {
		if _, err := h.Verify("whatever-pass", encoded); err == nil {
			t.Fatalf("expected parse failure for %q", encoded)
		}
	}
}

func TestDummyVerifyCompletes(t *testing.T) {
	h := testHasher(t)
	// Only exercised for timing parity; must not panic on arbitrary input.
	h.DummyVerify("any-password-at-all")
	h.DummyVerify("")
}

func TestNewHasherEnforcesFloors(t *testing.T) {
	cases := []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	}
	for i, cfg := range cases {
		if _, err := NewHasher(cfg); err == nil {
			t.Fatalf("case %d: expected configuration to be rejected", i)
		}
	}
}
