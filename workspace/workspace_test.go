package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	root := t.TempDir()
	mgr, err := NewManager(filepath.Join(root, "data"))
	require.NoError(t, err)
	require.NotNil(t, mgr)

	info, err := os.Stat(filepath.Join(root, "data", "sessions"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSession(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	t.Run("CreatesSessionDir", func(t *testing.T) {
		ws, err := mgr.Session("sess-1")
		require.NoError(t, err)
		info, err := os.Stat(ws.Root())
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("RejectsBadIDs", func(t *testing.T) {
		for _, id := range []string{"", "../evil", "a/b", ".hidden", "a..b"} {
			_, err := mgr.Session(id)
			assert.Error(t, err, "id %q", id)
		}
	})

	t.Run("AcceptsDotsAndDashes", func(t *testing.T) {
		_, err := mgr.Session("user-1.session_2")
		assert.NoError(t, err)
	})
}

func TestSessions(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)

	ids, err := mgr.Sessions()
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = mgr.Session("a")
	require.NoError(t, err)
	_, err = mgr.Session("b")
	require.NoError(t, err)

	ids, err = mgr.Sessions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestSafePath(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	ws, err := mgr.Session("sess-1")
	require.NoError(t, err)

	t.Run("ConfinedPathResolves", func(t *testing.T) {
		abs, err := ws.SafePath("runs/r1/result.json")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(ws.Root(), "runs", "r1", "result.json"), abs)
	})

	t.Run("RejectsAbsolute", func(t *testing.T) {
		_, err := ws.SafePath("/etc/passwd")
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		for _, rel := range []string{"..", "../other", "runs/../../other", "runs/../.."} {
			_, err := ws.SafePath(rel)
			assert.ErrorIs(t, err, ErrAccessDenied, "rel %q", rel)
		}
	})

	t.Run("InternalDotDotCollapses", func(t *testing.T) {
		abs, err := ws.SafePath("runs/../runs/r1")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(ws.Root(), "runs", "r1"), abs)
	})
}

func TestStat(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	require.NoError(t, err)
	ws, err := mgr.Session("sess-1")
	require.NoError(t, err)

	rel := filepath.Join("runs", "r1", "report.csv")
	abs, err := ws.SafePath(rel)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte("a,b\n1,2\n"), 0o644))

	meta, err := ws.Stat(rel)
	require.NoError(t, err)
	assert.Equal(t, "runs/r1/report.csv", meta.Path)
	assert.Equal(t, int64(8), meta.SizeBytes)
	assert.False(t, meta.ModifiedAt.IsZero())
	assert.Contains(t, meta.MimeType, "text/csv")

	_, err = ws.Stat("runs/r1/missing.txt")
	assert.Error(t, err)
}
