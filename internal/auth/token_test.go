package auth

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestGenerateRegistrationCode_entropyAndEncoding(t *testing.T) {
	code, err := GenerateRegistrationCode()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(code)
	if err != nil {
		t.Fatalf("code should be valid base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("code should carry 32 bytes of entropy, got %d", len(raw))
	}

	other, err := GenerateRegistrationCode()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if code == other {
		t.Error("two generated codes should not collide")
	}
}

func TestGenerateRefreshToken_hashMatchesToken(t *testing.T) {
	token, hashHex, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("token should be valid base64url: %v", err)
	}
	if len(raw) != 64 {
		t.Errorf("token should carry 64 bytes of entropy, got %d", len(raw))
	}
	if HashToken(token) != hashHex {
		t.Error("returned hash should equal HashToken of the token")
	}
}

func TestHashToken_shape(t *testing.T) {
	h1 := HashToken("some-token")
	h2 := HashToken("some-token")
	if h1 != h2 {
		t.Errorf("hash should be deterministic: %q != %q", h1, h2)
	}
	if HashToken("other-token") == h1 {
		t.Error("different tokens should produce different hashes")
	}
	decoded, err := hex.DecodeString(h1)
	if err != nil {
		t.Fatalf("hash should be valid hex: %v", err)
	}
	if len(decoded) != 32 {
		t.Errorf("SHA-256 hash should be 32 bytes, got %d", len(decoded))
	}
}
