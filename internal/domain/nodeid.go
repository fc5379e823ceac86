package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewNodeID generates a new collision-resistant NodeID. A uuid v4 with the
// hyphens stripped yields a 32 character opaque token, comfortably over
// the ≥25 character requirement in spec §3, grounded on the same
// uuid.New().String() call the teacher's node repository uses for primary
// keys.
func NewNodeID() NodeID {
	return NodeID(strings.ReplaceAll(uuid.New().String(), "-", ""))
}
