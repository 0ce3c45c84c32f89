// Package signature implements HMAC-SHA256 signing of outbound webhook
// payloads and constant-time verification on the receiving side.
//
// The header format is `t=<unixSeconds>,v1=<hex digest>` where the digest
// covers "<t>.<payload>". Including the timestamp in the signed material
// lets a receiver check both authenticity and freshness from a single
// header value.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the maximum clock skew accepted by Verify when the
// caller passes a zero tolerance.
const DefaultTolerance = 5 * time.Minute

// Sign produces a signature header for payload under secret, timestamped
// at the current time.
func Sign(payload []byte, secret string) string {
	return SignAt(payload, secret, time.Now())
}

// SignAt produces a signature header timestamped at the given time. Tests
// use it to create deliberately stale signatures without sleeping.
func SignAt(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + digest(payload, secret, ts)
}

// Verify checks a signature header against payload and secret. It fails
// closed: any parse failure, timestamp outside the tolerance window, or
// digest mismatch returns false. It never panics on malformed input.
func Verify(payload []byte, header, secret string, tolerance time.Duration) bool {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	ts, sig, ok := parseHeader(header)
	if !ok {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	skew := time.Now().Unix() - unix
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(tolerance.Seconds()) {
		return false
	}
	want := digest(payload, secret, ts)
	// Differing encoded lengths can never match; bail before handing the
	// pair to the constant-time comparison.
	if len(sig) != len(want) {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(want))
}

// digest computes hex(HMAC-SHA256(secret, "<ts>.<payload>")).
func digest(payload []byte, secret, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseHeader extracts the t= and v1= fields from a signature header.
func parseHeader(header string) (ts, sig string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return "", "", false
	}
	return ts, sig, true
}
