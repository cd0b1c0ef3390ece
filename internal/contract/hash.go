package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// StableID hashes a canonicalised tuple into a deterministic "sha256:<hex>"
// identifier, the same technique the teacher's checkpoint hashing uses for
// idempotency keys: marshal each part to JSON in order and hash the
// concatenation. Reused here for checkpoint IDs, acceptance proof IDs,
// handoff package hashes, and plan task/run IDs — one shared "stable id
// from tuple" helper instead of one hasher per subsystem. Heartbeat dedup
// keys are plain strings and do not use it.
func StableID(parts ...interface{}) (string, error) {
	h := sha256.New()
	for _, part := range parts {
		data, err := json.Marshal(part)
		if err != nil {
			return "", err
		}
		h.Write(data)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
