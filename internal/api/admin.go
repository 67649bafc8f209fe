package api

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// adminTokenTTL is how long a minted admin JWT remains valid.
const adminTokenTTL = 15 * time.Minute

var errBadSecret = errors.New("invalid admin secret")

// AdminAuth mints and verifies the bearer credential for `/admin`: a
// single shared secret rather than a multi-user store, bcrypt-hashed at
// rest (`<dataPath>/admin.token`), with `POST /admin/token` exchanging
// it for a short-lived signed JWT.
type AdminAuth struct {
	secretHash []byte
	signingKey []byte
	path       string
}

// NewAdminAuth loads an existing bcrypt hash from path, or derives one
// from seedSecret and persists it when path does not yet exist. A
// random signing key is generated once per process — admin JWTs are a
// convenience on top of the durable shared secret, not a credential
// that itself needs to survive a restart.
func NewAdminAuth(path, seedSecret string) (*AdminAuth, error) {
	signingKey := make([]byte, 32)
	if _, err := rand.Read(signingKey); err != nil {
		return nil, fmt.Errorf("generate admin signing key: %w", err)
	}

	if data, err := os.ReadFile(path); err == nil {
		return &AdminAuth{secretHash: data, signingKey: signingKey, path: path}, nil
	}

	if seedSecret == "" {
		seedSecret = "serengeti-admin"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(seedSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin secret: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create admin token dir: %w", err)
	}
	if err := os.WriteFile(path, hash, 0o600); err != nil {
		return nil, fmt.Errorf("persist admin token hash: %w", err)
	}
	return &AdminAuth{secretHash: hash, signingKey: signingKey, path: path}, nil
}

// MintToken verifies secret against the stored bcrypt hash and, on
// success, signs a short-lived HS256 JWT.
func (a *AdminAuth) MintToken(secret string) (token string, expiresAt time.Time, err error) {
	if bcrypt.CompareHashAndPassword(a.secretHash, []byte(secret)) != nil {
		return "", time.Time{}, errBadSecret
	}
	expiresAt = time.Now().Add(adminTokenTTL)
	claims := jwt.MapClaims{"sub": "admin", "exp": expiresAt.Unix(), "iat": time.Now().Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken reports whether bearer is a currently-valid admin JWT, or
// the raw configured secret — the original single-token design, kept
// working alongside the newer token exchange.
func (a *AdminAuth) VerifyToken(bearer string) bool {
	if bearer == "" {
		return false
	}
	if bcrypt.CompareHashAndPassword(a.secretHash, []byte(bearer)) == nil {
		return true
	}
	token, err := jwt.Parse(bearer, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.signingKey, nil
	})
	return err == nil && token.Valid
}
