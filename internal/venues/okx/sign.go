package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// Sign computes the base64 HMAC-SHA256 signature over
// timestamp+method+path+body, as OKX expects in OK-ACCESS-SIGN. Pure:
// identical inputs always yield identical output.
func Sign(secret, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Timestamp renders t in the ISO-8601 millisecond format OKX requires.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
