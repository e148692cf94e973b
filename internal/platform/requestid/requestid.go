// Package requestid mints ids for requests that arrive without one.
package requestid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 32 character hex id. Ids are UUIDv7, so they sort by
// creation time in logs and the audit table.
func New() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
