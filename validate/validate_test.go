package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/scriptbox/guest"
	"github.com/isdmx/scriptbox/run"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	return New(DefaultRules(), zaptest.NewLogger(t))
}

func python() *guest.Language {
	return guest.NewPython("python3")
}

func TestCheckCleanSource(t *testing.T) {
	v := newValidator(t)

	res := v.Check(python(), "import json\nprint(json.dumps({'a': 1}))\n")
	assert.True(t, res.OK)
	assert.Equal(t, run.StatusOK, res.Status)
	assert.Empty(t, res.Reasons)
	assert.Equal(t, []string{"json"}, res.Imports)
}

func TestCheckSyntaxError(t *testing.T) {
	v := newValidator(t)

	res := v.Check(python(), "print((1)\n")
	assert.False(t, res.OK)
	assert.Equal(t, run.StatusSyntaxError, res.Status)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "syntax error")
	assert.Empty(t, res.Imports)
}

func TestCheckDeniedImport(t *testing.T) {
	v := newValidator(t)

	res := v.Check(python(), "import subprocess\n")
	assert.False(t, res.OK)
	assert.Equal(t, run.StatusBlocked, res.Status)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "subprocess")
}

func TestCheckDeniedCall(t *testing.T) {
	v := newValidator(t)

	res := v.Check(python(), "eval('1+1')\n")
	assert.False(t, res.OK)
	assert.Equal(t, run.StatusBlocked, res.Status)
	found := false
	for _, reason := range res.Reasons {
		if strings.Contains(reason, "eval") {
			found = true
		}
	}
	assert.True(t, found, "expected a reason naming eval, got %v", res.Reasons)
}

func TestCheckDeniedCallPrefixes(t *testing.T) {
	v := newValidator(t)

	t.Run("LuaDebugTable", func(t *testing.T) {
		res := v.Check(guest.NewLua("lua"), "print(debug.getinfo(1))\n")
		assert.False(t, res.OK)
		assert.Equal(t, run.StatusBlocked, res.Status)
		require.NotEmpty(t, res.Reasons)
		assert.Contains(t, res.Reasons[0], "debug.getinfo")
	})

	t.Run("PythonImportlibNamespace", func(t *testing.T) {
		res := v.Check(python(), "importlib.import_module('os')\n")
		assert.False(t, res.OK)
		assert.Equal(t, run.StatusBlocked, res.Status)
	})

	t.Run("PythonGetattr", func(t *testing.T) {
		res := v.Check(python(), "getattr(o, 'system')('ls')\n")
		assert.False(t, res.OK)
	})

	t.Run("PrefixIsNotSubstring", func(t *testing.T) {
		res := v.Check(guest.NewLua("lua"), "local x = mydebug.level(1)\n")
		assert.True(t, res.OK)
	})
}

func TestCheckUnsafeOpenPaths(t *testing.T) {
	v := newValidator(t)

	t.Run("Absolute", func(t *testing.T) {
		res := v.Check(python(), "open('/etc/passwd')\n")
		assert.False(t, res.OK)
		assert.Contains(t, res.Reasons[0], "absolute")
	})

	t.Run("Traversal", func(t *testing.T) {
		res := v.Check(python(), "open('../secrets.txt')\n")
		assert.False(t, res.OK)
		assert.Contains(t, res.Reasons[0], "parent-traversal")
	})

	t.Run("HomeShortcut", func(t *testing.T) {
		res := v.Check(python(), "open('~/notes.txt')\n")
		assert.False(t, res.OK)
		assert.Contains(t, res.Reasons[0], "home-relative")
	})

	t.Run("ConfinedPathAllowed", func(t *testing.T) {
		res := v.Check(python(), "open('out/data.csv', 'w')\n")
		assert.True(t, res.OK)
	})
}

func TestCheckDangerousPatterns(t *testing.T) {
	v := newValidator(t)

	t.Run("ProcessSpawn", func(t *testing.T) {
		res := v.Check(python(), "import os\nos.system('ls')\n")
		assert.False(t, res.OK)
		assert.Equal(t, run.StatusBlocked, res.Status)
	})

	t.Run("DestructiveShell", func(t *testing.T) {
		res := v.Check(python(), "cmd = 'rm -rf /'\n")
		assert.False(t, res.OK)
	})

	t.Run("RecursiveDelete", func(t *testing.T) {
		res := v.Check(python(), "import shutil\nshutil.rmtree('x')\n")
		assert.False(t, res.OK)
	})
}

func TestCheckMultipleReasons(t *testing.T) {
	v := newValidator(t)

	res := v.Check(python(), "import subprocess\neval('x')\n")
	assert.False(t, res.OK)
	assert.GreaterOrEqual(t, len(res.Reasons), 2)
}
