package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix
// leaves room for algorithm migration.
const (
	hashDomainTransaction = "patronage/transaction/v1"
	hashDomainEvent       = "patronage/event/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain || 0x00 || data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TransactionID computes the content-addressed ID for a transaction.
//
// The ID is a pure function of what the transaction does (category,
// memo, lines, what it reverses) plus the caller-supplied source key
// identifying the business fact that caused it (an event ID, or a
// period/member pair during close posting). A consumer that re-posts
// the same fact after a crash or redelivery produces the same ID, and
// the store's append suppresses the duplicate.
func TransactionID(sourceKey string, category Category, memo string, lines []Line, reverses string) (string, error) {
	lineList := make([]any, len(lines))
	for i, l := range lines {
		lineList[i] = map[string]any{
			"account": l.AccountID,
			"amount":  l.Amount,
		}
	}
	obj := map[string]any{
		"source":   sourceKey,
		"category": string(category),
		"memo":     memo,
		"lines":    lineList,
		"reverses": reverses,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("TransactionID: %w", err)
	}
	return hashWithDomain(hashDomainTransaction, canonical), nil
}

// MustTransactionID is like TransactionID but panics on error.
// Use only when inputs are known to be canonicalizable.
func MustTransactionID(sourceKey string, category Category, memo string, lines []Line, reverses string) string {
	id, err := TransactionID(sourceKey, category, memo, lines, reverses)
	if err != nil {
		panic(err)
	}
	return id
}

// EventHash computes a content hash over an event's identifying fields.
// Used by tests and by the store to cross-check envelope integrity; the
// envelope ID itself is a UUID assigned at emission.
func EventHash(eventType, aggregateID string, payload []byte) string {
	obj := map[string]any{
		"type":      eventType,
		"aggregate": aggregateID,
		"payload":   string(payload),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		// All inputs are strings; canonicalization cannot fail.
		panic(err)
	}
	return hashWithDomain(hashDomainEvent, canonical)
}
