package secure

import (
	"bytes"
	"testing"
)

func TestNewUUIDLooksLikeUUID(t *testing.T) {
	id := NewUUID()
	if len(id) != 36 {
		t.Fatalf("expected a 36-character UUID string, got %q (%d)", id, len(id))
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	var seed [32]byte
	for i := range seed {
		seed[i] = byte(i)
	}
	kp, err := GenerateKeyPair(seed)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	msg := []byte("transfer 10 credits to account 42")
	sig, err := kp.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("expected a 64-byte signature, got %d", len(sig))
	}

	ok, err := Verify(kp.PublicBytes(), msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected the signature to verify against the matching message")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	var seed [32]byte
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	kp, err := GenerateKeyPair(seed)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	sig, err := kp.Sign([]byte("original message"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := Verify(kp.PublicBytes(), []byte("tampered message"), sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected verification to fail against a tampered message")
	}
}

func TestDifferentSeedsProduceDifferentKeys(t *testing.T) {
	var seedA, seedB [32]byte
	seedB[0] = 1

	kpA, err := GenerateKeyPair(seedA)
	if err != nil {
		t.Fatalf("GenerateKeyPair A: %v", err)
	}
	kpB, err := GenerateKeyPair(seedB)
	if err != nil {
		t.Fatalf("GenerateKeyPair B: %v", err)
	}
	if bytes.Equal(kpA.PublicBytes(), kpB.PublicBytes()) {
		t.Fatal("expected distinct seeds to produce distinct public keys")
	}
}
