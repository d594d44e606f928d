package security

import (
	"testing"
	"time"
)

func TestGenerateVerify(t *testing.T) {
	opts := DefaultOptions([]byte("s3cret"))
	tok, hash, exp, err := Generate(opts, "ops-1", []string{"admin"})
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) <= time.Hour {
		t.Fatalf("exp = %v", exp)
	}
	claims, err := Verify(opts, tok, hash)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject() != "ops-1" {
		t.Errorf("sub = %q", claims.Subject())
	}
	if !claims.HasScope("admin") || claims.HasScope("root") {
		t.Errorf("scope = %v", claims.MapClaims["scope"])
	}
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions([]byte("s3cret"))
	tok, _, _, err := Generate(opts, "ops-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(DefaultOptions([]byte("other")), tok, ""); err == nil {
		t.Error("wrong secret accepted")
	}
	if _, err := Verify(opts, tok, "sha256:deadbeef"); err == nil {
		t.Error("hash mismatch accepted")
	}
	expired := opts
	expired.TTL = -time.Minute
	// TTL<=0 回落到默认值，不会签出过期令牌
	tok2, _, _, _ := Generate(expired, "ops-1", nil)
	if _, err := Verify(opts, tok2, ""); err != nil {
		t.Errorf("default ttl token rejected: %v", err)
	}
	if _, err := Verify(Options{Secret: []byte("s3cret"), Alg: "RS256"}, tok, ""); err == nil {
		t.Error("unsupported alg accepted")
	}
}
