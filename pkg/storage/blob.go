package storage

import (
	"encoding/binary"
	"fmt"
	"time"
)

// DefaultBlobTTL bounds cached read projections.
const DefaultBlobTTL = time.Hour

const envelopeHeader = 8

// EncodeBlob prefixes value with its expiry instant (zero means never).
// Both BlobStore implementations store this envelope and evaluate expiry
// against their Clock, so TTL semantics do not depend on backend timers.
func EncodeBlob(value []byte, expiresAt time.Time) []byte {
	out := make([]byte, envelopeHeader+len(value))
	var nanos int64
	if !expiresAt.IsZero() {
		nanos = expiresAt.UnixNano()
	}
	binary.BigEndian.PutUint64(out[:envelopeHeader], uint64(nanos))
	copy(out[envelopeHeader:], value)
	return out
}

// DecodeBlob splits an envelope into its value and expiry.
func DecodeBlob(b []byte) ([]byte, time.Time, error) {
	if len(b) < envelopeHeader {
		return nil, time.Time{}, fmt.Errorf("blob envelope too short (%d bytes)", len(b))
	}
	nanos := int64(binary.BigEndian.Uint64(b[:envelopeHeader]))
	var exp time.Time
	if nanos != 0 {
		exp = time.Unix(0, nanos).UTC()
	}
	return append([]byte(nil), b[envelopeHeader:]...), exp, nil
}

// ExpiresAt computes the expiry for a ttl; ttl <= 0 never expires.
func ExpiresAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Expired reports whether exp has passed at now.
func Expired(exp, now time.Time) bool {
	return !exp.IsZero() && !now.Before(exp)
}
