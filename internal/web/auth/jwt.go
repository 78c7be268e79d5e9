package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/conduit-lang/admin/internal/admin/perm"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or claim checks
var ErrInvalidToken = errors.New("invalid token")

// AuthService issues and validates identity tokens
type AuthService struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewAuthService creates a new AuthService with the given secret key and token TTL
func NewAuthService(secretKey string, tokenTTL time.Duration) *AuthService {
	return &AuthService{
		secretKey: secretKey,
		tokenTTL:  tokenTTL,
	}
}

// TTL returns how long issued tokens stay valid
func (s *AuthService) TTL() time.Duration { return s.tokenTTL }

// GenerateToken signs a token carrying the identity. Anonymous identities get no token.
func (s *AuthService) GenerateToken(id perm.Identity) (string, error) {
	if id.IsAnonymous() {
		return "", fmt.Errorf("%w: anonymous identity", ErrInvalidToken)
	}
	roles := id.Roles
	if roles == nil {
		roles = []string{}
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":       strconv.FormatInt(id.UserID, 10),
		"username":  id.Username,
		"roles":     roles,
		"superuser": id.Superuser,
		"exp":       now.Add(s.tokenTTL).Unix(),
		"iat":       now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}

// ValidateToken checks a token and returns the identity it carries
func (s *AuthService) ValidateToken(tokenString string) (perm.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verify exact signing method to prevent algorithm confusion attacks
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secretKey), nil
	})
	if err != nil {
		return perm.Anonymous(), fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return perm.Anonymous(), ErrInvalidToken
	}
	return identityFromClaims(claims)
}

func identityFromClaims(claims jwt.MapClaims) (perm.Identity, error) {
	sub, _ := claims["sub"].(string)
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return perm.Anonymous(), fmt.Errorf("%w: bad subject %q", ErrInvalidToken, sub)
	}

	id := perm.Identity{UserID: userID}
	id.Username, _ = claims["username"].(string)
	id.Superuser, _ = claims["superuser"].(bool)
	if raw, ok := claims["roles"].([]interface{}); ok {
		for _, r := range raw {
			if role, ok := r.(string); ok {
				id.Roles = append(id.Roles, role)
			}
		}
	}
	return id, nil
}
