// Package pointid provides deterministic vector-point IDs for indexed frames.
package pointid

import "github.com/google/uuid"

// FromFrameID returns a stable point ID for frameID: the RFC 4122 version-5 UUID of
// frameID in the DNS namespace. Same frame ID always yields the same point, so
// re-indexing a frame overwrites it instead of duplicating it.
func FromFrameID(frameID string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(frameID)).String()
}

// Valid reports whether id is a well-formed point ID.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
