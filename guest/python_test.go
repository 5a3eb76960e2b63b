package guest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsePython(t *testing.T, source string) *ParseResult {
	t.Helper()
	res, err := (&pythonParser{}).Parse(source)
	require.NoError(t, err)
	return res
}

func TestPythonParserImports(t *testing.T) {
	t.Run("PlainImport", func(t *testing.T) {
		res := parsePython(t, "import os\nimport json\n")
		assert.Equal(t, []string{"json", "os"}, res.Imports)
	})

	t.Run("AliasedImport", func(t *testing.T) {
		res := parsePython(t, "import numpy as np\n")
		assert.Equal(t, []string{"numpy"}, res.Imports)
	})

	t.Run("FromImportUsesRoot", func(t *testing.T) {
		res := parsePython(t, "from pandas.core.frame import DataFrame\n")
		assert.Equal(t, []string{"pandas"}, res.Imports)
	})

	t.Run("CommaSeparated", func(t *testing.T) {
		res := parsePython(t, "import csv, io.something\n")
		assert.Equal(t, []string{"csv", "io"}, res.Imports)
	})

	t.Run("RelativeImportSkipped", func(t *testing.T) {
		res := parsePython(t, "from . import helpers\n")
		assert.Empty(t, res.Imports)
	})

	t.Run("ImportInsideStringIgnored", func(t *testing.T) {
		res := parsePython(t, "'''\nimport fake\n'''\nimport real\n")
		assert.Equal(t, []string{"real"}, res.Imports)
	})

	t.Run("ImportInsideCommentIgnored", func(t *testing.T) {
		res := parsePython(t, "# import fake\nprint(1)\n")
		assert.Empty(t, res.Imports)
	})
}

func TestPythonParserSyntaxErrors(t *testing.T) {
	t.Run("UnclosedBracket", func(t *testing.T) {
		_, err := (&pythonParser{}).Parse("print((1)\n")
		require.Error(t, err)
		syn, ok := err.(*SyntaxError)
		require.True(t, ok)
		assert.Contains(t, syn.Message, "unclosed")
		assert.Positive(t, syn.Line)
	})

	t.Run("UnmatchedCloser", func(t *testing.T) {
		_, err := (&pythonParser{}).Parse("x = 1)\n")
		require.Error(t, err)
		assert.IsType(t, &SyntaxError{}, err)
	})

	t.Run("UnterminatedString", func(t *testing.T) {
		_, err := (&pythonParser{}).Parse("s = 'oops\n")
		require.Error(t, err)
		syn, ok := err.(*SyntaxError)
		require.True(t, ok)
		assert.Contains(t, syn.Message, "unterminated")
	})

	t.Run("MismatchedPair", func(t *testing.T) {
		_, err := (&pythonParser{}).Parse("x = [1, 2)\n")
		require.Error(t, err)
	})
}

func TestPythonParserCallSites(t *testing.T) {
	t.Run("CollectsCallNames", func(t *testing.T) {
		res := parsePython(t, "eval(code)\nmath.sqrt(4)\n")
		names := make([]string, 0, len(res.Calls))
		for _, c := range res.Calls {
			names = append(names, c.Name)
		}
		assert.Contains(t, names, "eval")
		assert.Contains(t, names, "math.sqrt")
	})

	t.Run("CallInsideStringIgnored", func(t *testing.T) {
		res := parsePython(t, "s = 'eval(x)'\n")
		assert.Empty(t, res.Calls)
	})
}

func TestPythonParserOpenLiterals(t *testing.T) {
	t.Run("LiteralPathCaptured", func(t *testing.T) {
		res := parsePython(t, "f = open(\"/etc/passwd\")\n")
		require.Len(t, res.Opens, 1)
		assert.Equal(t, "/etc/passwd", res.Opens[0].Path)
		assert.Equal(t, 1, res.Opens[0].Line)
	})

	t.Run("RelativePathCaptured", func(t *testing.T) {
		res := parsePython(t, "open('out.txt', 'w')\n")
		require.Len(t, res.Opens, 1)
		assert.Equal(t, "out.txt", res.Opens[0].Path)
	})

	t.Run("NonLiteralIgnored", func(t *testing.T) {
		res := parsePython(t, "open(path)\n")
		assert.Empty(t, res.Opens)
	})

	t.Run("OpenInsideStringIgnored", func(t *testing.T) {
		res := parsePython(t, "print(\"see open('/etc/passwd') docs\")\n")
		assert.Empty(t, res.Opens)
	})

	t.Run("OpenInsideCommentIgnored", func(t *testing.T) {
		res := parsePython(t, "# open('/etc/passwd')\nprint(1)\n")
		assert.Empty(t, res.Opens)
	})

	t.Run("OtherQuoteInsidePath", func(t *testing.T) {
		res := parsePython(t, "open(\"it's.txt\")\n")
		require.Len(t, res.Opens, 1)
		assert.Equal(t, "it's.txt", res.Opens[0].Path)
	})
}

func TestParsePythonError(t *testing.T) {
	t.Run("NameError", func(t *testing.T) {
		stderr := `Traceback (most recent call last):
  File "source.py", line 3, in <module>
    df = pd.DataFrame()
NameError: name 'pd' is not defined`

		detail := parsePythonError(stderr)
		require.NotNil(t, detail)
		assert.Equal(t, "NameError", detail.Type)
		assert.Equal(t, "name 'pd' is not defined", detail.Message)
		assert.Equal(t, 3, detail.Line)
	})

	t.Run("ChainedTracebackUsesLast", func(t *testing.T) {
		stderr := `Traceback (most recent call last):
  File "source.py", line 1, in <module>
KeyError: 'a'

During handling of the above exception, another exception occurred:

Traceback (most recent call last):
  File "source.py", line 4, in <module>
ValueError: bad value`

		detail := parsePythonError(stderr)
		require.NotNil(t, detail)
		assert.Equal(t, "ValueError", detail.Type)
		assert.Equal(t, 4, detail.Line)
	})

	t.Run("NoErrorLine", func(t *testing.T) {
		assert.Nil(t, parsePythonError("just some noise"))
	})
}
