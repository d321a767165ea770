// Package jobs holds small helpers shared by task producers and the HTTP edge:
// task id generation and session route parsing.
package jobs

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID creates a new random task ID with the given prefix.
// The prefix is normalised to end with a dash, e.g. "chunk-", "final-".
func GenerateID(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "-") {
		prefix += "-"
	}
	return prefix + uuid.NewString()
}
