package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier turns a raw bearer token into a verified Identity.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (Identity, error)
}

// OIDCVerifier checks tokens issued by the identity provider. Roles are read
// from the Keycloak realm_access claim and a flat roles claim.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{
			ClientID:          clientID,
			SkipClientIDCheck: clientID == "",
		}),
	}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	var claims struct {
		Sub         string   `json:"sub"`
		Name        string   `json:"name"`
		Username    string   `json:"preferred_username"`
		Roles       []string `json:"roles"`
		RealmAccess struct {
			Roles []string `json:"roles"`
		} `json:"realm_access"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Sub == "" {
		return Identity{}, errors.New("subject claim not found in token")
	}

	name := claims.Name
	if name == "" {
		name = claims.Username
	}
	return Identity{
		UserID:    claims.Sub,
		Name:      name,
		Roles:     append(claims.RealmAccess.Roles, claims.Roles...),
		ExpiresAt: idToken.Expiry,
	}, nil
}

// Claims carried by HMAC-signed development tokens.
type Claims struct {
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HMACVerifier accepts HS256 tokens signed with a shared secret. It is meant
// for local runs and tests where no identity provider is available.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, err
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("subject claim not found in token")
	}
	return Identity{
		UserID:    claims.Subject,
		Name:      claims.Name,
		Roles:     claims.Roles,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Sign issues an HS256 token for id, valid for ttl.
func (v *HMACVerifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  id.Name,
		Roles: id.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
