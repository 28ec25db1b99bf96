package utils

import "testing"

func TestJwtRoundTrip(t *testing.T) {
	token, err := JwtGenerate(42, "b7a3e9c4-0000-0000-0000-000000000001")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	parsed, err := JwtValidate(token)
	if err != nil {
		t.Fatalf("JwtValidate: %v", err)
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok || !parsed.Valid {
		t.Fatalf("expected valid custom claims, got %T valid=%v", parsed.Claims, parsed.Valid)
	}
	if claims.UserId != 42 {
		t.Fatalf("user id = %d, want 42", claims.UserId)
	}
	if claims.BusinessId != "b7a3e9c4-0000-0000-0000-000000000001" {
		t.Fatalf("business id = %q", claims.BusinessId)
	}
}

func TestJwtValidateRejectsGarbage(t *testing.T) {
	if _, err := JwtValidate("not-a-token"); err == nil {
		t.Fatal("expected parse failure")
	}
}
