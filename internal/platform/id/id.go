// Package id generates compact identifiers for locally-originated entities.
package id

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TempPrefix marks identifiers minted locally before server acknowledgment.
// Server identifiers never carry it.
const TempPrefix = "tmp_"

// NewID returns a 26-character lowercase base32 encoding of a random UUIDv4.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// NewTempID returns a fresh identifier carrying TempPrefix.
func NewTempID() (string, error) {
	value, err := NewID()
	if err != nil {
		return "", err
	}
	return TempPrefix + value, nil
}

// IsTemp reports whether value is a locally-minted temporary identifier.
func IsTemp(value string) bool {
	return strings.HasPrefix(value, TempPrefix)
}
