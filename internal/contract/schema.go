// Package contract defines the five persisted DAOKit schemas (pipeline
// state, events, leases, heartbeat status, checkpoints) plus the handoff
// package, and their validation rules.
//
// Every record carries SchemaVersion. Top-level shape is closed: new fields
// belong inside payload/role_lifecycle/succession sub-objects, never bolted
// onto the record root, so the 1.0.0 contract family never breaks existing
// readers.
package contract

import "errors"

// SchemaVersion is embedded in every persisted record.
const SchemaVersion = "1.0.0"

var (
	ErrMissingField    = errors.New("contract: required field missing")
	ErrInvalidEnum     = errors.New("contract: value outside closed enum")
	ErrSchemaMismatch  = errors.New("contract: schema_version mismatch")
	ErrDuplicateID     = errors.New("contract: duplicate identifier")
	ErrInvalidPath     = errors.New("contract: path escapes evidence root")
)

// Validator is implemented by every persisted record.
type Validator interface {
	Validate() error
}
