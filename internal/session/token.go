package session

import (
	"errors"
	"time"

	"callbridge/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager mints the short-lived HS256 access tokens the session
// provider expects on every API call, and verifies tokens the provider
// attaches to webhook deliveries.
type TokenManager struct {
	apiKey    string
	apiSecret []byte
	ttl       time.Duration
}

func NewTokenManager(cfg config.ProviderConfig) (*TokenManager, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("session: provider api key and secret are required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TokenManager{
		apiKey:    cfg.APIKey,
		apiSecret: []byte(cfg.APISecret),
		ttl:       ttl,
	}, nil
}

// RoomGrant scopes a token to the operations needed for one room.
type RoomGrant struct {
	Room       string `json:"room,omitempty"`
	RoomCreate bool   `json:"roomCreate,omitempty"`
	RoomAdmin  bool   `json:"roomAdmin,omitempty"`
	CanDial    bool   `json:"canDial,omitempty"`
}

type providerClaims struct {
	jwt.RegisteredClaims
	Grant RoomGrant `json:"grant"`
}

/* ===================== ISSUE TOKENS ===================== */

// AccessToken mints a token carrying grant, valid from now for the
// configured TTL. One token per API request; never reuse across rooms.
func (m *TokenManager) AccessToken(now time.Time, grant RoomGrant) (string, error) {
	claims := providerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.apiKey,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
		Grant: grant,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.apiSecret)
}

/* ===================== VERIFY WEBHOOKS ===================== */

// VerifyWebhook validates a provider-signed webhook token and returns the
// room the delivery is scoped to.
func (m *TokenManager) VerifyWebhook(tokenString string, now time.Time) (RoomGrant, error) {
	var claims providerClaims

	// Claims are checked by the explicit validator below so the caller's
	// clock is honored; the parser only verifies the signature.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.apiSecret, nil
	})
	if err != nil {
		return RoomGrant{}, err
	}

	validator := jwt.NewValidator(
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(m.apiKey),
	)
	if err := validator.Validate(claims.RegisteredClaims); err != nil {
		return RoomGrant{}, err
	}

	return claims.Grant, nil
}
