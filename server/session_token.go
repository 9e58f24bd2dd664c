package server

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SessionTokenClaims identify the player a socket connects for.
type SessionTokenClaims struct {
	UserID    int64  `json:"uid,omitempty"`
	Login     string `json:"login,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
}

func (stc *SessionTokenClaims) Valid() error {
	// Verify expiry.
	if stc.ExpiresAt <= time.Now().UTC().Unix() {
		vErr := new(jwt.ValidationError)
		vErr.Inner = errors.New("Token is expired")
		vErr.Errors |= jwt.ValidationErrorExpired
		return vErr
	}
	if stc.UserID <= 0 {
		vErr := new(jwt.ValidationError)
		vErr.Inner = errors.New("Token has no user")
		vErr.Errors |= jwt.ValidationErrorClaimsInvalid
		return vErr
	}
	return nil
}

func parseToken(hmacSecretByte []byte, tokenString string) (userID int64, login string, exp int64, ok bool) {
	jwtToken, err := jwt.ParseWithClaims(tokenString, &SessionTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if s, ok := token.Method.(*jwt.SigningMethodHMAC); !ok || s.Hash != crypto.SHA256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return hmacSecretByte, nil
	})
	if err != nil {
		return
	}
	claims, ok := jwtToken.Claims.(*SessionTokenClaims)
	if !ok || !jwtToken.Valid {
		return
	}
	return claims.UserID, claims.Login, claims.ExpiresAt, true
}

func generateTokenWithExpiry(signingKey string, userID int64, login string, expiry time.Time) (string, int64) {
	exp := expiry.UTC().Unix()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &SessionTokenClaims{
		UserID:    userID,
		Login:     login,
		ExpiresAt: exp,
		IssuedAt:  time.Now().UTC().Unix(),
	})
	signedToken, _ := token.SignedString([]byte(signingKey))
	return signedToken, exp
}
