// Package audit defines the AuditRecord appended alongside every entity
// mutation and the SQL used to persist it inside the caller's
// source-of-truth transaction, so the before/after trail can never drift
// from the change it describes.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rlunar/aviation-cache-core/pkg/rowset"
	"github.com/rlunar/aviation-cache-core/pkg/sotstore"
)

// Op identifies the kind of mutation an AuditRecord describes.
type Op string

// Supported mutation kinds.
const (
	OpUpdate Op = "update"
)

// Record is the before/after audit trail entry written in the same
// transaction as the entity mutation it describes.
type Record struct {
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Op         Op        `json:"op"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after"`
	User       string    `json:"user"`
	Comment    string    `json:"comment,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// insertSQL is the parameterized statement used to append a Record to the
// audit_log table. Schema-creation is out of scope here (Design Note
// "Migrations are the operator's responsibility").
const insertSQL = `INSERT INTO audit_log (entity_kind, entity_id, op, before_state, after_state, changed_by, comment, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Append writes rec to the audit log inside tx. rec.Before is the entity's
// pre-mutation state serialized as a string (typically the first row of a
// read-before-write query); it is empty when there is no prior state to
// record.
func Append(ctx context.Context, tx sotstore.Tx, rec Record) error {
	_, err := tx.Exec(ctx, insertSQL,
		rec.EntityKind, rec.EntityID, string(rec.Op), rec.Before, rec.After, rec.User, rec.Comment, rec.OccurredAt)
	return err
}

// RowBefore renders rows (typically a single-row read-before-write result)
// as the Before field of a Record. An empty result yields an empty string.
func RowBefore(rows rowset.Rows) string {
	if len(rows) == 0 {
		return ""
	}
	data, err := json.Marshal(rows[0])
	if err != nil {
		return ""
	}
	return string(data)
}
