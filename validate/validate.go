// Package validate implements the static vetting pass run on every source
// revision before anything is executed.
//
// The validator owns the denylists and dangerous-pattern table as an
// immutable Rules value fixed at construction time. Parsers report facts
// (imports, call sites, literal open paths); the validator judges them.
//
// Usage:
//
//	v := validate.New(validate.DefaultRules(), logger)
//	result := v.Check(lang, source)
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/guest"
	"github.com/isdmx/scriptbox/run"
)

// Pattern is one dangerous textual pattern scanned case-insensitively
// against the raw source.
type Pattern struct {
	Name string
	RE   *regexp.Regexp
}

// Rules is the immutable configuration of the validator. DeniedCalls are
// matched exactly; DeniedCallPrefixes deny whole namespaces like "debug.".
type Rules struct {
	DeniedImports      []string
	DeniedCalls        []string
	DeniedCallPrefixes []string
	Patterns           []Pattern
}

// DefaultRules returns the built-in denylists: module imports that grant
// process or network control, builtins that enable arbitrary code loading,
// and raw-text patterns for process-spawning, socket, and destructive shell
// usage.
func DefaultRules() Rules {
	return Rules{
		DeniedImports: []string{
			"subprocess", "socket", "ctypes", "multiprocessing",
			"pty", "pdb", "importlib", "socketserver",
		},
		DeniedCalls: []string{
			// python builtins
			"eval", "exec", "compile", "__import__", "getattr", "setattr",
			// lua builtins
			"load", "loadstring", "loadfile", "dofile",
			"os.execute", "os.exit", "io.popen",
		},
		DeniedCallPrefixes: []string{
			"debug.",     // lua introspection table
			"importlib.", // python dynamic import machinery
		},
		Patterns: []Pattern{
			{Name: "process spawn", RE: regexp.MustCompile(`(?i)os\.(system|popen|spawn\w*|exec\w*|fork)`)},
			{Name: "process kill", RE: regexp.MustCompile(`(?i)os\.kill\s*\(`)},
			{Name: "socket use", RE: regexp.MustCompile(`(?i)socket\.(socket|create_connection)`)},
			{Name: "subprocess use", RE: regexp.MustCompile(`(?i)subprocess\.`)},
			{Name: "destructive shell", RE: regexp.MustCompile(`(?i)rm\s+-[rf]{2}\s+[/~]`)},
			{Name: "recursive delete", RE: regexp.MustCompile(`(?i)shutil\.rmtree`)},
		},
	}
}

// Validator runs the static checks. It holds no mutable state and is safe
// for concurrent use.
type Validator struct {
	rules  Rules
	logger *zap.Logger
}

// New creates a Validator with the given rules.
func New(rules Rules, logger *zap.Logger) *Validator {
	return &Validator{rules: rules, logger: logger}
}

// Check parses the source with the language's parser and evaluates every
// rule. A parse failure yields status syntax_error with no further checks;
// any rule violation yields status blocked.
func (v *Validator) Check(lang *guest.Language, source string) run.ValidationResult {
	facts, err := lang.Parser.Parse(source)
	if err != nil {
		var syn *guest.SyntaxError
		reason := err.Error()
		if errors.As(err, &syn) {
			reason = syn.Error()
		}
		return run.ValidationResult{
			OK:      false,
			Status:  run.StatusSyntaxError,
			Reasons: []string{"syntax error: " + reason},
			Imports: []string{},
		}
	}

	var reasons []string

	denied := map[string]bool{}
	for _, mod := range v.rules.DeniedImports {
		denied[mod] = true
	}
	for _, mod := range facts.Imports {
		if denied[mod] {
			reasons = append(reasons, fmt.Sprintf("import of denylisted module %q", mod))
		}
	}

	deniedCall := map[string]bool{}
	for _, name := range v.rules.DeniedCalls {
		deniedCall[name] = true
	}
	for _, call := range facts.Calls {
		if deniedCall[call.Name] || v.deniedByPrefix(call.Name) {
			reasons = append(reasons, fmt.Sprintf("call to denylisted function %q (line %d)", call.Name, call.Line))
		}
	}

	for _, open := range facts.Opens {
		if bad := unsafeOpenPath(open.Path); bad != "" {
			reasons = append(reasons, fmt.Sprintf("file open with %s path %q (line %d)", bad, open.Path, open.Line))
		}
	}

	for _, p := range v.rules.Patterns {
		if p.RE.MatchString(source) {
			reasons = append(reasons, fmt.Sprintf("dangerous pattern: %s", p.Name))
		}
	}

	ok := len(reasons) == 0
	status := run.StatusOK
	if !ok {
		status = run.StatusBlocked
		v.logger.Debug("source blocked by static checks",
			zap.String("language", lang.Name),
			zap.Strings("reasons", reasons))
	}
	if reasons == nil {
		reasons = []string{}
	}
	return run.ValidationResult{
		OK:      ok,
		Status:  status,
		Reasons: reasons,
		Imports: facts.Imports,
	}
}

func (v *Validator) deniedByPrefix(name string) bool {
	for _, prefix := range v.rules.DeniedCallPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

var driveRe = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// unsafeOpenPath classifies a literal open path; empty string means the
// path is confined to the run directory.
func unsafeOpenPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/") || driveRe.MatchString(path):
		return "absolute"
	case strings.HasPrefix(path, "~"):
		return "home-relative"
	case path == ".." || strings.Contains(path, "../") || strings.Contains(path, `..\`):
		return "parent-traversal"
	}
	return ""
}
