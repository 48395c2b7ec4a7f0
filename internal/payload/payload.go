// Package payload owns the lifecycle of binary document buffers.
//
// Message passing to an isolated worker transfers ownership of the underlying
// memory, so any payload that must survive a dispatch is cloned first. This
// package exists to make that discipline explicit.
package payload

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mhismail3/pdfcombiner/internal/domain"
)

// fingerprintPrefix bounds how many leading bytes feed the fingerprint.
// Hashing only a prefix keeps fingerprinting O(1) in document size.
const fingerprintPrefix = 1024

// New takes ownership of data and wraps it as an immutable payload.
// The caller must not retain or mutate data afterwards.
func New(name string, data []byte) *domain.DocumentPayload {
	return &domain.DocumentPayload{
		Fingerprint: Fingerprint(data),
		Name:        name,
		Data:        data,
	}
}

// FromBytes copies data into a fresh payload, leaving the caller's slice
// untouched and reusable.
func FromBytes(name string, data []byte) *domain.DocumentPayload {
	owned := make([]byte, len(data))
	copy(owned, data)
	return New(name, owned)
}

// Clone produces a byte-for-byte duplicate that shares nothing with p.
// Callers clone before any operation that could transfer ownership of the
// underlying memory; failing to do so is the defect class this package
// exists to prevent.
func Clone(p *domain.DocumentPayload) *domain.DocumentPayload {
	if p == nil {
		return nil
	}
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	return &domain.DocumentPayload{
		Fingerprint: p.Fingerprint,
		Name:        p.Name,
		Data:        data,
	}
}

// Fingerprint computes the cache-namespace key for a document: SHA-256 over
// the first KiB of content plus the total length. The length term keeps
// truncated copies of the same document apart.
func Fingerprint(data []byte) string {
	h := sha256.New()
	prefix := data
	if len(prefix) > fingerprintPrefix {
		prefix = prefix[:fingerprintPrefix]
	}
	h.Write(prefix)
	var lenBuf [8]byte
	for i, n := 0, len(data); i < 8; i++ {
		lenBuf[i] = byte(n >> (8 * i))
	}
	h.Write(lenBuf[:])
	return hex.EncodeToString(h.Sum(nil)[:16])
}
