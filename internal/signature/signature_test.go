package signature

import (
	"strings"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		secret  string
	}{
		{
			name:    "simple payload",
			payload: `{"event":"user.created","data":{"id":42}}`,
			secret:  "whsec_test_secret",
		},
		{
			name:    "empty payload",
			payload: "",
			secret:  "whsec_test_secret",
		},
		{
			name:    "payload with unicode",
			payload: `{"name":"héllo wörld"}`,
			secret:  "s3cr3t",
		},
		{
			name:    "long secret",
			payload: `{"x":1}`,
			secret:  strings.Repeat("k", 256),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := Sign([]byte(tt.payload), tt.secret)
			if !Verify([]byte(tt.payload), header, tt.secret, 0) {
				t.Errorf("Verify() = false for freshly signed payload, want true")
			}
		})
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{"event":"invoice.paid"}`)
	secret := "whsec_stale"

	// Signed 10 minutes in the past, verified with a 5-minute tolerance.
	header := SignAt(payload, secret, time.Now().Add(-10*time.Minute))
	if Verify(payload, header, secret, 5*time.Minute) {
		t.Errorf("Verify() = true for stale signature, want false")
	}

	// Future timestamps outside the window are rejected too.
	header = SignAt(payload, secret, time.Now().Add(10*time.Minute))
	if Verify(payload, header, secret, 5*time.Minute) {
		t.Errorf("Verify() = true for future-dated signature, want false")
	}

	// Within a wider tolerance the same signature is fine.
	header = SignAt(payload, secret, time.Now().Add(-10*time.Minute))
	if !Verify(payload, header, secret, 15*time.Minute) {
		t.Errorf("Verify() = false inside tolerance window, want true")
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	payload := []byte(`{"event":"user.created"}`)
	secret := "whsec_closed"
	good := Sign(payload, secret)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
	}{
		{
			name:    "empty header",
			payload: payload,
			header:  "",
			secret:  secret,
		},
		{
			name:    "missing t field",
			payload: payload,
			header:  "v1=deadbeef",
			secret:  secret,
		},
		{
			name:    "missing v1 field",
			payload: payload,
			header:  "t=1700000000",
			secret:  secret,
		},
		{
			name:    "non-numeric timestamp",
			payload: payload,
			header:  strings.Replace(good, "t=", "t=notanumber", 1)[:len(good)],
			secret:  secret,
		},
		{
			name:    "garbage header",
			payload: payload,
			header:  "sha256=abc123",
			secret:  secret,
		},
		{
			name:    "wrong secret",
			payload: payload,
			header:  good,
			secret:  "a-different-secret",
		},
		{
			name:    "tampered payload",
			payload: []byte(`{"event":"user.deleted"}`),
			header:  good,
			secret:  secret,
		},
		{
			name:    "truncated signature",
			payload: payload,
			header:  good[:len(good)-8],
			secret:  secret,
		},
		{
			name:    "signature with appended bytes",
			payload: payload,
			header:  good + "ff",
			secret:  secret,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.payload, tt.header, tt.secret, 0) {
				t.Errorf("Verify() = true, want false")
			}
		})
	}
}

func TestHeaderFormat(t *testing.T) {
	at := time.Unix(1700000000, 0)
	header := SignAt([]byte("body"), "secret", at)

	if !strings.HasPrefix(header, "t=1700000000,v1=") {
		t.Fatalf("SignAt() header = %q, want t=1700000000,v1=<hex> prefix", header)
	}
	hexPart := strings.TrimPrefix(header, "t=1700000000,v1=")
	if len(hexPart) != 64 {
		t.Errorf("signature hex length = %d, want 64", len(hexPart))
	}
	for _, c := range hexPart {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("signature contains non-hex character %q", c)
			break
		}
	}
}
