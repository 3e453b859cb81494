package directory

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex(t *testing.T) (*Index, uuid.UUID) {
	t.Helper()

	facilityID := uuid.New()
	idx, collisions := BuildIndex([]Facility{
		{ID: facilityID, DisplayName: "King Hospital", Aliases: []string{"king hospital"}},
		{ID: uuid.New(), DisplayName: "Northgate Family Practice"},
	})
	require.Empty(t, collisions)
	return idx, facilityID
}

func TestResolve_CaseVariantsHitTheSameFacility(t *testing.T) {
	idx, want := testIndex(t)

	for _, raw := range []string{"King Hospital", "king Hospital", "KING HOSPITAL", " king  hospital "} {
		got, err := idx.Resolve(raw)
		require.NoError(t, err, "resolving %q", raw)
		assert.Equal(t, want, got, "resolving %q", raw)
	}
}

func TestResolve_PunctuationFallback(t *testing.T) {
	idx, want := testIndex(t)

	for _, raw := range []string{"King Hospital.", "\"King Hospital\"", "King Hospital,"} {
		got, err := idx.Resolve(raw)
		require.NoError(t, err, "resolving %q", raw)
		assert.Equal(t, want, got)
	}
}

func TestResolve_NoSubstringMatching(t *testing.T) {
	idx, _ := testIndex(t)

	// Partial names must not resolve; guessing identities is worse than
	// skipping.
	for _, raw := range []string{"King", "Hospital", "King Hospital Annex"} {
		_, err := idx.Resolve(raw)
		assert.ErrorIs(t, err, ErrFacilityNotResolved, "resolving %q", raw)
	}
}

func TestResolve_NotFoundCarriesRawInput(t *testing.T) {
	idx, _ := testIndex(t)

	_, err := idx.Resolve("Unknown Clinic #42")
	require.Error(t, err)

	var resErr *ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "Unknown Clinic #42", resErr.RawName)
	assert.ErrorIs(t, err, ErrFacilityNotResolved)
}
