/**
 * @description
 * Webhook signature verification for Stripe events. Stripe signs the raw
 * request body with HMAC-SHA256 over "<timestamp>.<payload>" and presents the
 * result in the Stripe-Signature header as "t=<unix>,v1=<hex>[,v1=<hex>...]".
 * Verification must happen on the raw body before any JSON decoding.
 */
package stripeclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the maximum allowed age of a signed payload.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrInvalidSignatureHeader indicates the Stripe-Signature header was
	// missing or malformed.
	ErrInvalidSignatureHeader = errors.New("invalid stripe signature header")

	// ErrNoValidSignature indicates no v1 signature matched the payload.
	ErrNoValidSignature = errors.New("no valid stripe signature found")

	// ErrTimestampOutsideTolerance indicates the signed timestamp is too far
	// from the current time, which guards against replayed requests.
	ErrTimestampOutsideTolerance = errors.New("stripe signature timestamp outside tolerance")
)

// VerifySignature checks the Stripe-Signature header against the raw payload
// using the endpoint's webhook signing secret.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return ErrTimestampOutsideTolerance
	}

	expected := ComputeSignature(payload, timestamp, secret)
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrNoValidSignature
}

// ComputeSignature produces the HMAC-SHA256 signature Stripe would generate
// for the given payload and timestamp. Exported so tests can sign fixtures.
func ComputeSignature(payload []byte, timestamp int64, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignatureHeader formats a valid Stripe-Signature header value. Used by
// tests to construct signed requests.
func SignatureHeader(payload []byte, timestamp int64, secret string) string {
	sig := ComputeSignature(payload, timestamp, secret)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(sig))
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	if header == "" {
		return 0, nil, ErrInvalidSignatureHeader
	}

	var timestamp int64 = -1
	var signatures [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, ErrInvalidSignatureHeader
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, ErrInvalidSignatureHeader
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				// Skip malformed entries; another v1 may still match.
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, ErrInvalidSignatureHeader
	}
	return timestamp, signatures, nil
}
