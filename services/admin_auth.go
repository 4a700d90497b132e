package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrAdminDisabled      = errors.New("admin editor is not configured")
)

const adminSubject = "admin"

// DefaultAdminTokenTTL is how long an admin login stays valid.
const DefaultAdminTokenTTL = 12 * time.Hour

// AdminAuth gates the passport editor behind one shared password.
type AdminAuth struct {
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	clock        clockwork.Clock
}

// NewAdminAuth accepts either a bcrypt hash or a plain password, which is
// hashed once here. With neither, every login fails with ErrAdminDisabled.
func NewAdminAuth(passwordHash, password, jwtSecret string, ttl time.Duration, clock clockwork.Clock) (*AdminAuth, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultAdminTokenTTL
	}
	a := &AdminAuth{secret: []byte(jwtSecret), ttl: ttl, clock: clock}

	switch {
	case passwordHash != "":
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("ADMIN_PASSWORD_HASH is not a bcrypt hash: %w", err)
		}
		a.passwordHash = []byte(passwordHash)
	case password != "":
		hash, err := HashPassword(password)
		if err != nil {
			return nil, err
		}
		a.passwordHash = []byte(hash)
	}
	if a.passwordHash != nil && len(a.secret) == 0 {
		return nil, errors.New("ADMIN_JWT_SECRET is required when an admin password is set")
	}
	return a, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func (a *AdminAuth) Enabled() bool {
	return a.passwordHash != nil
}

// Login checks the password and returns a signed token and its expiry.
func (a *AdminAuth) Login(password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrAdminDisabled
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := a.clock.Now()
	expires := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   adminSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Validate verifies a token issued by Login.
func (a *AdminAuth) Validate(tokenStr string) error {
	if !a.Enabled() {
		return ErrAdminDisabled
	}
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.clock.Now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || claims.Subject != adminSubject {
		return ErrInvalidToken
	}
	return nil
}
