package security_test

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/angelmondragon/reviewflow-backend/pkg/config"
	"github.com/angelmondragon/reviewflow-backend/pkg/security"
)

func TestHashAndVerifySecret(t *testing.T) {
	cfg := config.PasswordConfig{
		ArgonMemoryKB:    32768,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}

	hash, err := security.HashSecret("rfk_live_inbound_key", cfg)
	if err != nil {
		t.Fatalf("HashSecret returned error: %v", err)
	}
	if strings.Contains(hash, "rfk_live_inbound_key") {
		t.Fatal("hash must not contain the secret")
	}

	ok, err := security.VerifySecret("rfk_live_inbound_key", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}

	ok, err = security.VerifySecret("rfk_live_other_key", hash)
	if err != nil {
		t.Fatalf("VerifySecret returned error for wrong secret: %v", err)
	}
	if ok {
		t.Fatal("VerifySecret returned true for incorrect secret")
	}
}

func TestVerifySecretBadHash(t *testing.T) {
	for _, encoded := range []string{"not-a-hash", "$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA", "$argon2id$v=19$m=0,t=1,p=1$c2FsdA$aGFzaA"} {
		if _, err := security.VerifySecret("irrelevant", encoded); err == nil {
			t.Fatalf("expected error for malformed hash %q", encoded)
		}
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := security.GenerateToken("rfk_", 32)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, _ := security.GenerateToken("rfk_", 32)
	if a == b {
		t.Fatal("expected unique tokens")
	}
	if !strings.HasPrefix(a, "rfk_") || len(a) != len("rfk_")+43 {
		t.Fatalf("unexpected token shape %q", a)
	}
	if _, err := security.GenerateToken("", 8); err == nil {
		t.Fatal("expected low-entropy token request to fail")
	}
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	sig := security.SignHMAC("whsec", body)

	if !security.VerifyHMACBase64("whsec", body, base64.StdEncoding.EncodeToString(sig)) {
		t.Fatal("expected base64 signature to verify")
	}
	if !security.VerifyHMACHex("whsec", body, hex.EncodeToString(sig)) {
		t.Fatal("expected hex signature to verify")
	}
	if security.VerifyHMACBase64("", body, base64.StdEncoding.EncodeToString(sig)) {
		t.Fatal("missing secret must reject")
	}
	if security.VerifyHMACBase64("whsec", []byte(`{"id":"evt_2"}`), base64.StdEncoding.EncodeToString(sig)) {
		t.Fatal("altered body must reject")
	}
	if security.VerifyHMACHex("whsec", body, "zz") {
		t.Fatal("malformed signature must reject")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !security.ConstantTimeEqual("abc", "abc") {
		t.Fatal("expected equal")
	}
	if security.ConstantTimeEqual("", "") {
		t.Fatal("empty expected value must never match")
	}
	if security.ConstantTimeEqual("abc", "abd") {
		t.Fatal("expected mismatch")
	}
}
