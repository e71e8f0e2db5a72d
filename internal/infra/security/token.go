package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	domainchat "workly/internal/domain/chat"
)

var (
	ErrSecretRequired = errors.New("token: signing secret is required")
	ErrInvalidToken   = errors.New("token: invalid or expired")
)

// Claims identify the human behind a session and the companies they may act
// for.
type Claims struct {
	Companies []string `json:"companies,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) UserID() string {
	return c.Subject
}

// CanActAs reports whether the token holder may speak as p.
func (c Claims) CanActAs(p domainchat.Participant) bool {
	switch p.Type {
	case domainchat.ParticipantUser:
		return p.ID == c.Subject
	case domainchat.ParticipantCompany:
		for _, id := range c.Companies {
			if id == p.ID {
				return true
			}
		}
	}
	return false
}

// Tokens issues and verifies HS256 bearer tokens.
type Tokens struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

func (t Tokens) Issue(userID string, companies []string) (string, error) {
	if len(t.Secret) == 0 {
		return "", ErrSecretRequired
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domainchat.ErrParticipantIDRequired
	}
	now := t.now()
	claims := Claims{
		Companies: companies,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   t.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if t.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.TTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.Secret)
}

func (t Tokens) Verify(raw string) (Claims, error) {
	if len(t.Secret) == 0 {
		return Claims{}, ErrSecretRequired
	}
	var claims Claims
	parser := jwt.Parser{}
	parser.ValidMethods = []string{jwt.SigningMethodHS256.Alg()}
	token, err := parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.Secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if t.Issuer != "" && !claims.VerifyIssuer(t.Issuer, true) {
		return Claims{}, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

func (t Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// SubjectOf reads the user id out of a token without checking the
// signature. Clients use it to label themselves; servers must call Verify.
func SubjectOf(raw string) (string, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
