package guest

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/isdmx/scriptbox/run"
)

// NewPython builds the Python guest profile. There is no maintained Python
// AST parser for Go, so the profile uses a tokenizer-grade scanner: it masks
// string and comment contents, checks delimiter balance, and extracts import
// roots and call names from the masked text. That is sufficient for static
// vetting; the interpreter re-parses the source anyway before running it.
func NewPython(command string) *Language {
	return &Language{
		Name:       "python",
		Ext:        "py",
		Command:    []string{command},
		Parser:     &pythonParser{},
		Resolver:   &pythonResolver{command: command},
		ParseError: parsePythonError,
	}
}

type pythonParser struct{}

var (
	pyImportRe     = regexp.MustCompile(`^\s*import\s+([A-Za-z_][\w.]*(?:\s*,\s*[A-Za-z_][\w.]*)*)`)
	pyFromImportRe = regexp.MustCompile(`^\s*from\s+([A-Za-z_][\w.]*)\s+import\b`)
	pyCallRe       = regexp.MustCompile(`([A-Za-z_][\w.]*)\s*\(`)
	pyOpenRe       = regexp.MustCompile(`(?:^|[^\w.])(?:io\.)?open\s*\(\s*(?:'([^'\n]*)'|"([^"\n]*)")`)
)

func (*pythonParser) Parse(source string) (*ParseResult, error) {
	masked, err := maskPython(source)
	if err != nil {
		return nil, err
	}

	res := &ParseResult{}
	roots := map[string]bool{}

	for i, line := range strings.Split(masked, "\n") {
		if m := pyImportRe.FindStringSubmatch(line); m != nil {
			for _, mod := range strings.Split(m[1], ",") {
				if root := importRoot(strings.TrimSpace(mod)); root != "" {
					roots[root] = true
				}
			}
		}
		if m := pyFromImportRe.FindStringSubmatch(line); m != nil {
			if root := importRoot(m[1]); root != "" {
				roots[root] = true
			}
		}
		for _, m := range pyCallRe.FindAllStringSubmatch(line, -1) {
			res.Calls = append(res.Calls, CallSite{Name: m[1], Line: i + 1})
		}
	}

	// open() call sites are located on the masked text so occurrences inside
	// strings and comments are invisible; the literal path itself is read
	// back from the original source at the matched offsets, since masking
	// blanks string contents but leaves the quotes in place.
	for _, idx := range pyOpenRe.FindAllStringSubmatchIndex(masked, -1) {
		start, end := idx[2], idx[3]
		if start < 0 {
			start, end = idx[4], idx[5]
		}
		res.Opens = append(res.Opens, OpenSite{
			Path: source[start:end],
			Line: 1 + strings.Count(masked[:idx[0]], "\n"),
		})
	}

	for root := range roots {
		res.Imports = append(res.Imports, root)
	}
	sort.Strings(res.Imports)
	return res, nil
}

// importRoot reduces a dotted module path to its top-level root. Relative
// imports have no root and are skipped.
func importRoot(mod string) string {
	mod = strings.TrimSpace(mod)
	if mod == "" || strings.HasPrefix(mod, ".") {
		return ""
	}
	if i := strings.IndexByte(mod, '.'); i >= 0 {
		mod = mod[:i]
	}
	if i := strings.IndexAny(mod, " \t"); i >= 0 {
		mod = mod[:i]
	}
	return mod
}

// maskPython blanks string and comment contents while preserving layout,
// and reports unterminated strings and unbalanced brackets as *SyntaxError.
func maskPython(source string) (string, error) {
	out := []byte(source)
	type open struct {
		ch   byte
		line int
		col  int
	}
	var stack []open

	line, col := 1, 0
	i := 0
	for i < len(source) {
		c := source[i]
		col++
		switch c {
		case '\n':
			line++
			col = 0
			i++
		case '#':
			for i < len(source) && source[i] != '\n' {
				out[i] = ' '
				i++
			}
		case '\'', '"':
			quote := c
			startLine, startCol := line, col
			triple := strings.HasPrefix(source[i:], strings.Repeat(string(quote), 3))
			qlen := 1
			if triple {
				qlen = 3
			}
			j := i + qlen
			closed := false
			for j < len(source) {
				if source[j] == '\\' {
					out[j] = ' '
					if j+1 < len(source) {
						if source[j+1] == '\n' {
							line++
							col = 0
						} else {
							out[j+1] = ' '
						}
					}
					j += 2
					continue
				}
				if source[j] == '\n' {
					if !triple {
						break
					}
					line++
					col = 0
					j++
					continue
				}
				if source[j] == quote && (!triple || strings.HasPrefix(source[j:], strings.Repeat(string(quote), 3))) {
					closed = true
					break
				}
				out[j] = ' '
				col++
				j++
			}
			if !closed {
				return "", &SyntaxError{Message: "unterminated string literal", Line: startLine, Column: startCol}
			}
			i = j + qlen
		case '(', '[', '{':
			stack = append(stack, open{ch: c, line: line, col: col})
			i++
		case ')', ']', '}':
			want := map[byte]byte{')': '(', ']': '[', '}': '{'}[c]
			if len(stack) == 0 || stack[len(stack)-1].ch != want {
				return "", &SyntaxError{Message: fmt.Sprintf("unmatched %q", string(c)), Line: line, Column: col}
			}
			stack = stack[:len(stack)-1]
			i++
		default:
			i++
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return "", &SyntaxError{Message: fmt.Sprintf("unclosed %q", string(top.ch)), Line: top.line, Column: top.col}
	}
	return string(out), nil
}

// pythonResolver probes the interpreter's module path with a single batch
// process. This is a resolution probe, not a guest execution: the submitted
// source is never loaded.
type pythonResolver struct {
	command string
}

const findSpecProbe = `import importlib.util, sys
for m in sys.argv[1:]:
    try:
        spec = importlib.util.find_spec(m)
    except (ImportError, ValueError):
        spec = None
    if spec is None:
        print(m)
`

func (r *pythonResolver) Missing(ctx context.Context, imports []string) ([]string, error) {
	if len(imports) == 0 {
		return nil, nil
	}
	args := append([]string{"-c", findSpecProbe}, imports...)
	cmd := exec.CommandContext(ctx, r.command, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("module resolution probe failed: %w", err)
	}
	var missing []string
	seen := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !seen[line] {
			seen[line] = true
			missing = append(missing, line)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

var (
	pyErrLineRe  = regexp.MustCompile(`(?m)^([A-Za-z_][\w.]*(?:Error|Exception|Exit|Interrupt|Warning)):\s*(.*)$`)
	pyFileLineRe = regexp.MustCompile(`File "[^"]*", line (\d+)`)
)

// parsePythonError pulls the last traceback frame and final exception line
// out of interpreter stderr.
func parsePythonError(stderr string) *run.ErrorDetail {
	ms := pyErrLineRe.FindAllStringSubmatch(stderr, -1)
	if len(ms) == 0 {
		return nil
	}
	last := ms[len(ms)-1]
	detail := &run.ErrorDetail{Type: last[1], Message: strings.TrimSpace(last[2])}
	if fs := pyFileLineRe.FindAllStringSubmatch(stderr, -1); len(fs) > 0 {
		fmt.Sscanf(fs[len(fs)-1][1], "%d", &detail.Line)
	}
	return detail
}
