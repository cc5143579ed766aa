package utils

import (
	"strings"

	"github.com/google/uuid"
)

const localIDPrefix = "local_"

// GenerateLocalID creates an optimistic client-side message id, assigned
// before the server has accepted the item.
func GenerateLocalID() string {
	return localIDPrefix + uuid.New().String()
}

// IsLocalID reports whether an id was generated client-side.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
