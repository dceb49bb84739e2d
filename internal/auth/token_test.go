package auth

import (
	"testing"
	"time"

	"github.com/civicworks/civic-issues/internal/domain"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 15)
	token, exp, err := tm.GenerateToken("user-1", domain.RoleOfficer)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry %v not in the future", exp)
	}

	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != domain.RoleOfficer {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	issuer := NewTokenManager("secret", 15)
	valid, _, err := issuer.GenerateToken("user-1", domain.RoleCitizen)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	badRole, _, err := issuer.GenerateToken("user-1", domain.Role("JANITOR"))
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	expired := NewTokenManager("secret", 15)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _, err := expired.GenerateToken("user-1", domain.RoleCitizen)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name  string
		token string
		tm    *TokenManager
	}{
		{name: "wrong secret", token: valid, tm: NewTokenManager("other", 15)},
		{name: "expired", token: stale, tm: issuer},
		{name: "unknown role", token: badRole, tm: issuer},
		{name: "garbage", token: "not-a-jwt", tm: issuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.tm.ParseToken(tt.token); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPasswordHelpers(t *testing.T) {
	hash, err := HashPassword("correct horse", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := ComparePassword(hash, "correct horse"); err != nil {
		t.Errorf("ComparePassword(valid) = %v", err)
	}
	if err := ComparePassword(hash, "wrong"); err == nil {
		t.Error("ComparePassword(invalid) succeeded")
	}
	if err := ValidatePassword("short"); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Errorf("ValidatePassword(short) = %v", err)
	}
	if err := ValidatePassword("long enough"); err != nil {
		t.Errorf("ValidatePassword(ok) = %v", err)
	}
}
