package capability

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

// ErrWireInvalid rejects a wire token that fails signature or shape checks.
var ErrWireInvalid = errors.New("invalid wire token")

// wireClaims is the JWT claim shape carrying a capability token across
// process boundaries to an out-of-process delegatee.
type wireClaims struct {
	jwt.RegisteredClaims
	GoalID           string   `json:"goal_id,omitempty"`
	AllowedActions   []string `json:"allowed_actions,omitempty"`
	DeniedActions    []string `json:"denied_actions,omitempty"`
	TimeLimitSeconds int      `json:"time_limit_seconds"`
}

// Codec signs and verifies the wire form of capability tokens (HS256).
// Expiry still belongs to the token itself: decoding an expired wire token
// succeeds and the validator denies it, keeping one source of truth.
type Codec struct {
	secret []byte
	issuer string
}

// NewCodec creates a codec with a shared signing secret.
func NewCodec(secret []byte, issuer string) (*Codec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty signing secret", ErrWireInvalid)
	}
	if issuer == "" {
		issuer = "mandate/capability"
	}
	return &Codec{secret: secret, issuer: issuer}, nil
}

// Encode produces the signed wire form of a token.
func (c *Codec) Encode(tok contracts.CapabilityToken) (string, error) {
	claims := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tok.TokenID,
			Subject:   tok.Delegatee,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt()),
		},
		GoalID:           tok.GoalID,
		AllowedActions:   tok.AllowedActions,
		DeniedActions:    tok.DeniedActions,
		TimeLimitSeconds: tok.TimeLimitSeconds,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign wire token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and reconstructs the token. Expiry is NOT
// enforced here; the validator owns expiry at point of use.
func (c *Codec) Decode(wire string) (contracts.CapabilityToken, error) {
	claims := &wireClaims{}
	_, err := jwt.ParseWithClaims(wire, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return c.secret, nil
		},
		jwt.WithIssuer(c.issuer),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return contracts.CapabilityToken{}, fmt.Errorf("%w: %v", ErrWireInvalid, err)
	}
	if claims.ID == "" || claims.Subject == "" || claims.IssuedAt == nil {
		return contracts.CapabilityToken{}, fmt.Errorf("%w: missing required claims", ErrWireInvalid)
	}
	if claims.Issuer != c.issuer {
		return contracts.CapabilityToken{}, fmt.Errorf("%w: issuer %q", ErrWireInvalid, claims.Issuer)
	}
	return contracts.CapabilityToken{
		TokenID:          claims.ID,
		Delegatee:        claims.Subject,
		GoalID:           claims.GoalID,
		AllowedActions:   claims.AllowedActions,
		DeniedActions:    claims.DeniedActions,
		IssuedAt:         claims.IssuedAt.Time.UTC().Truncate(time.Second),
		TimeLimitSeconds: claims.TimeLimitSeconds,
	}, nil
}
