package artifacts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestCapture(t *testing.T) {
	t.Run("RecordsRegularFiles", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "a.txt", "aa")
		write(t, root, "sub/b.txt", "bbb")

		snap, err := Capture(root)
		require.NoError(t, err)
		require.Len(t, snap, 2)
		assert.Equal(t, int64(2), snap["a.txt"].Size)
		assert.Equal(t, int64(3), snap["sub/b.txt"].Size)
	})

	t.Run("ExcludesNamedFiles", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "source.py", "print(1)")
		write(t, root, "result.json", "{}")
		write(t, root, "kept.txt", "k")

		snap, err := Capture(root, "source.py", "result.json")
		require.NoError(t, err)
		require.Len(t, snap, 1)
		assert.Contains(t, snap, "kept.txt")
	})

	t.Run("ExcludesAtRootOnly", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "result.json", "{}")
		write(t, root, "out/result.json", "guest output")

		snap, err := Capture(root, "result.json")
		require.NoError(t, err)
		require.Len(t, snap, 1)
		assert.Contains(t, snap, "out/result.json")
	})

	t.Run("EmptyDir", func(t *testing.T) {
		snap, err := Capture(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, snap)
	})
}

func TestDiff(t *testing.T) {
	t.Run("CreatedFiles", func(t *testing.T) {
		before := Snapshot{"old.txt": {Size: 1}}
		after := Snapshot{
			"old.txt": {Size: 1},
			"new.txt": {Size: 5},
		}
		assert.Equal(t, []string{"new.txt"}, Diff(before, after))
	})

	t.Run("ModifiedBySize", func(t *testing.T) {
		before := Snapshot{"f.txt": {Size: 1}}
		after := Snapshot{"f.txt": {Size: 2}}
		assert.Equal(t, []string{"f.txt"}, Diff(before, after))
	})

	t.Run("ModifiedByMtime", func(t *testing.T) {
		now := time.Now()
		before := Snapshot{"f.txt": {Size: 1, ModTime: now}}
		after := Snapshot{"f.txt": {Size: 1, ModTime: now.Add(time.Second)}}
		assert.Equal(t, []string{"f.txt"}, Diff(before, after))
	})

	t.Run("UnchangedAndDeletedIgnored", func(t *testing.T) {
		now := time.Now()
		before := Snapshot{
			"same.txt": {Size: 1, ModTime: now},
			"gone.txt": {Size: 2, ModTime: now},
		}
		after := Snapshot{"same.txt": {Size: 1, ModTime: now}}
		assert.Empty(t, Diff(before, after))
	})

	t.Run("SortedByPath", func(t *testing.T) {
		after := Snapshot{
			"z.txt": {Size: 1},
			"a.txt": {Size: 1},
			"m.txt": {Size: 1},
		}
		assert.Equal(t, []string{"a.txt", "m.txt", "z.txt"}, Diff(Snapshot{}, after))
	})
}

func TestCaptureThenDiffRoundTrip(t *testing.T) {
	root := t.TempDir()
	write(t, root, "existing.txt", "x")

	before, err := Capture(root)
	require.NoError(t, err)

	write(t, root, "out/created.csv", "1,2,3")

	after, err := Capture(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"out/created.csv"}, Diff(before, after))
}
