package auth

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/conduit-lang/admin/internal/admin/perm"
	"github.com/golang-jwt/jwt/v5"
)

func TestAuthServiceRoundTrip(t *testing.T) {
	service := NewAuthService("test-secret-key", time.Hour)

	tests := []struct {
		name string
		id   perm.Identity
	}{
		{"roles", perm.Identity{UserID: 12, Username: "ada", Roles: []string{"editor", "author"}}},
		{"no roles", perm.Identity{UserID: 13, Username: "bob"}},
		{"superuser", perm.Identity{UserID: 1, Username: "root", Superuser: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := service.GenerateToken(tt.id)
			if err != nil {
				t.Fatalf("GenerateToken() error = %v", err)
			}
			if parts := strings.Split(token, "."); len(parts) != 3 {
				t.Fatalf("token has %d parts, want 3", len(parts))
			}

			got, err := service.ValidateToken(token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if got.UserID != tt.id.UserID || got.Username != tt.id.Username || got.Superuser != tt.id.Superuser {
				t.Errorf("ValidateToken() = %+v, want %+v", got, tt.id)
			}
			if len(tt.id.Roles) > 0 && !reflect.DeepEqual(got.Roles, tt.id.Roles) {
				t.Errorf("roles = %v, want %v", got.Roles, tt.id.Roles)
			}
			if got.Key() != tt.id.Key() {
				t.Errorf("Key() = %q, want %q", got.Key(), tt.id.Key())
			}
		})
	}
}

func TestAuthServiceRejects(t *testing.T) {
	service := NewAuthService("secret-key-1", time.Hour)
	ada := perm.Identity{UserID: 12, Username: "ada"}
	valid, _ := service.GenerateToken(ada)
	expired, _ := NewAuthService("secret-key-1", -time.Hour).GenerateToken(ada)
	foreign, _ := NewAuthService("secret-key-2", time.Hour).GenerateToken(ada)

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret-key-1"))
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "12",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret-key-1"))

	tests := []struct {
		name  string
		token string
	}{
		{"tampered", valid + "x"},
		{"malformed", "notavalidtoken"},
		{"empty", ""},
		{"expired", expired},
		{"other secret", foreign},
		{"no subject", noSubject},
		{"other algorithm", wrongAlg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := service.ValidateToken(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("ValidateToken() error = %v, want ErrInvalidToken", err)
			}
			if !id.IsAnonymous() {
				t.Errorf("ValidateToken() = %+v, want anonymous", id)
			}
		})
	}
}

func TestAuthServiceAnonymous(t *testing.T) {
	service := NewAuthService("secret", time.Hour)
	if _, err := service.GenerateToken(perm.Anonymous()); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("GenerateToken(anonymous) error = %v, want ErrInvalidToken", err)
	}
	if service.TTL() != time.Hour {
		t.Errorf("TTL() = %v, want 1h", service.TTL())
	}
}
