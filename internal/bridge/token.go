package bridge

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer   = "cobble"
	tokenAudience = "bridge"
	tokenTTL      = time.Minute
)

// signToken issues the bearer token presented on dial. The subject is the
// account the session logs in as.
func signToken(secret, subject string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing bridge token: %w", err)
	}
	return signed, nil
}

func authHeader(secret, subject string) (http.Header, error) {
	if secret == "" {
		return nil, nil
	}
	tok, err := signToken(secret, subject, time.Now())
	if err != nil {
		return nil, err
	}
	return http.Header{"Authorization": []string{"Bearer " + tok}}, nil
}
