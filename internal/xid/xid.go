package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random, collision-resistant identifier such as "prd_3f0c9d2e8a1b4c6f9e7d5a3b1c2d4e6f".
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
