package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// Sign computes the HMAC-SHA256 hex signature over the canonical query
// payload. Pure: identical inputs always produce identical output.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedQuery appends the timestamp and signature to params, returning the
// encoded query string ready for a signed endpoint. The timestamp must be
// current; venue tolerance for clock skew is narrow and skewed requests fail
// with auth errors rather than being retried.
func SignedQuery(params url.Values, secret string, ts time.Time) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(ts.UnixMilli(), 10))
	encoded := params.Encode()
	return encoded + "&signature=" + Sign(secret, encoded)
}
