package run

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	t.Run("IsUUIDv7", func(t *testing.T) {
		id, err := uuid.Parse(NewID())
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), id.Version())
	})

	t.Run("TimeOrdered", func(t *testing.T) {
		first := NewID()
		time.Sleep(2 * time.Millisecond)
		second := NewID()
		assert.Less(t, first, second)
	})
}

func TestTruncate(t *testing.T) {
	t.Run("ShortInputUnchanged", func(t *testing.T) {
		assert.Equal(t, "hello", Truncate("hello", 10))
	})

	t.Run("LongInputCapped", func(t *testing.T) {
		long := strings.Repeat("x", 100)
		got := Truncate(long, 10)
		assert.True(t, strings.HasPrefix(got, strings.Repeat("x", 10)))
		assert.Contains(t, got, "[truncated]")
	})

	t.Run("PreviewCap", func(t *testing.T) {
		long := strings.Repeat("y", MaxPreviewBytes+50)
		assert.Contains(t, Preview(long), "[truncated]")
	})
}

func TestSHA256Hex(t *testing.T) {
	a := SHA256Hex("print('hi')")
	b := SHA256Hex("print('hi')")
	c := SHA256Hex("print('bye')")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestRunSummary(t *testing.T) {
	r := &Run{
		RunID:                "r1",
		StartedAt:            time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Status:               StatusOK,
		ExecutionTimeSeconds: 1.25,
		CreatedFiles: []FileMeta{
			{Path: "out/a.csv", SizeBytes: 10},
			{Path: "out/b.png", SizeBytes: 20},
		},
	}

	s := r.Summary()
	assert.Equal(t, "r1", s.RunID)
	assert.Equal(t, StatusOK, s.Status)
	assert.Equal(t, []string{"out/a.csv", "out/b.png"}, s.CreatedFiles)
}
