package conversation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	for _, seq := range []int64{0, 1, 42, 1 << 40} {
		got, err := decodeCursor(encodeCursor(seq))
		require.NoError(t, err)
		assert.Equal(t, seq, got)
	}
}

func TestCursor_EmptyMeansStart(t *testing.T) {
	seq, err := decodeCursor("")
	require.NoError(t, err)
	assert.Zero(t, seq)
}

func TestCursor_InvalidInput(t *testing.T) {
	for _, cursor := range []string{"not base64!!", "bm90LWEtbnVtYmVy", "LTU"} { // garbage, "not-a-number", "-5"
		_, err := decodeCursor(cursor)
		assert.ErrorIs(t, err, ErrInvalidCursor, "cursor %q", cursor)
	}
}

func TestListMessages_OrderedAndRestartable(t *testing.T) {
	store := newMemStore()
	conv := seedConversation(t, store)
	ctx := context.Background()

	const total = 25
	for i := 0; i < total; i++ {
		role := RolePatient
		if i%3 == 0 {
			role = RoleFacility
		}
		appendFrom(t, store, conv, role, fmt.Sprintf("message %d", i))
	}

	var (
		collected []Message
		cursor    string
		pages     int
	)
	for {
		page, err := store.ListMessages(ctx, conv.ID, cursor, 10)
		require.NoError(t, err)
		collected = append(collected, page.Messages...)
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	require.Len(t, collected, total)

	for i := 1; i < len(collected); i++ {
		assert.Less(t, collected[i-1].Seq, collected[i].Seq, "seq strictly increases")
		assert.False(t, collected[i].CreatedAt.Before(collected[i-1].CreatedAt),
			"creation times are nondecreasing")
	}
}
