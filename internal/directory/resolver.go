package directory

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var ErrFacilityNotResolved = errors.New("facility name did not resolve")

// ResolutionError carries the raw input that failed to resolve so skipped
// appointments can be diagnosed from logs.
type ResolutionError struct {
	RawName string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("facility name %q did not resolve", e.RawName)
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrFacilityNotResolved
}

// Resolve maps a free-text facility reference to a facility ID. Exact match
// on the normalized name, with one fallback pass that strips surrounding
// punctuation. No substring or distance matching: guessing identities is not
// acceptable for patient messaging, so anything else is a ResolutionError.
func (idx *Index) Resolve(facilityNameRaw string) (uuid.UUID, error) {
	key := Normalize(facilityNameRaw)
	if id, ok := idx.lookup(key); ok {
		return id, nil
	}

	trimmed := Normalize(strings.TrimFunc(facilityNameRaw, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	}))
	if trimmed != key {
		if id, ok := idx.lookup(trimmed); ok {
			return id, nil
		}
	}

	return uuid.Nil, &ResolutionError{RawName: facilityNameRaw}
}
