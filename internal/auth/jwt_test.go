package auth

import (
	"testing"
	"time"
)

func TestGenerateAndParseToken(t *testing.T) {
	InitJWT("test-secret-key")

	operator := "oncall"
	role := "operator"
	expireAt := time.Now().Add(24 * time.Hour)
	issuer := "certmesh"

	token, err := GenerateToken(operator, role, expireAt, issuer)
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}

	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() failed: %v", err)
	}

	if claims.Operator != operator {
		t.Errorf("Expected operator %s, got %s", operator, claims.Operator)
	}
	if claims.Role != role {
		t.Errorf("Expected role %s, got %s", role, claims.Role)
	}
	if claims.Issuer != issuer {
		t.Errorf("Expected issuer %s, got %s", issuer, claims.Issuer)
	}
}

func TestParseToken_InvalidToken(t *testing.T) {
	InitJWT("test-secret-key")

	_, err := ParseToken("invalid.token.string")
	if err == nil {
		t.Error("ParseToken() should fail for invalid token")
	}
}

func TestParseToken_ExpiredToken(t *testing.T) {
	InitJWT("test-secret-key")

	expireAt := time.Now().Add(-1 * time.Hour)
	token, err := GenerateToken("oncall", "operator", expireAt, "certmesh")
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}

	_, err = ParseToken(token)
	if err == nil {
		t.Error("ParseToken() should fail for expired token")
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	InitJWT("secret-1")

	token, err := GenerateToken("oncall", "operator", time.Now().Add(24*time.Hour), "certmesh")
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}

	InitJWT("secret-2")

	_, err = ParseToken(token)
	if err == nil {
		t.Error("ParseToken() should fail when secret is different")
	}
}

func TestGenerateToken_UninitializedSecret(t *testing.T) {
	jwtSecret = nil

	_, err := GenerateToken("oncall", "operator", time.Now().Add(24*time.Hour), "certmesh")
	if err == nil {
		t.Error("GenerateToken() should fail when secret is not initialized")
	}

	// Restore secret for other tests
	InitJWT("test-secret-key")
}
