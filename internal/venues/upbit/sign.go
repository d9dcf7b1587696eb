// Package upbit implements the Upbit venue adapter. Upbit authenticates
// every private request with a short-lived JWT rather than signed headers,
// and offers no account push channel, so the adapter is pull-only.
package upbit

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token builds the per-request bearer token. A fresh uuid nonce makes every
// token single-use; when the request carries a query string its SHA-512 hash
// is bound into the claims.
func Token(accessKey, secretKey, rawQuery string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": accessKey,
		"nonce":      uuid.NewString(),
	}
	if rawQuery != "" {
		sum := sha512.Sum512([]byte(rawQuery))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
