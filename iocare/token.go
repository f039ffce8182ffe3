package iocare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// FallbackLifetime is assumed for access tokens whose exp claim cannot be read
const FallbackLifetime = 30 * time.Minute

var tokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.HS256, jose.HS384, jose.HS512,
}

// Expiry reads the exp claim of a JWT access token. The signature is not checked,
// the token is only ever sent back to the server that issued it.
func Expiry(accessToken string) (time.Time, error) {
	tok, err := jwt.ParseSigned(accessToken, tokenAlgorithms)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}
	var claims jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}, fmt.Errorf("access token claims: %w", err)
	}
	if claims.Expiry == nil {
		return time.Time{}, errors.New("access token has no exp claim")
	}
	return claims.Expiry.Time(), nil
}

func newToken(t token) (*oauth2.Token, error) {
	if t.AccessToken == "" {
		return nil, ErrNoToken
	}
	exp, err := Expiry(t.AccessToken)
	if err != nil {
		log.Warn().Err(err).Dur("assumed", FallbackLifetime).Msg("unable to read token expiry")
		exp = time.Now().Add(FallbackLifetime)
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       exp,
	}, nil
}

// refresher is wrapped by oauth2.ReuseTokenSource, which only calls Token once the
// cached token expired and holds its own lock while doing so
type refresher struct {
	c       *Client
	current *oauth2.Token
}

func (r *refresher) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*r.c.cfg.Timeout)
	defer cancel()

	tok, err := r.c.refresh(ctx, r.current.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("token refresh failed, signing in again")
		tok, err = r.c.signIn(ctx)
		if err != nil {
			return nil, err
		}
	}
	log.Debug().Time("expiry", tok.Expiry).Msg("access token refreshed")
	r.current = tok
	return tok, nil
}
