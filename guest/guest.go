package guest

import (
	"context"
	"fmt"

	"github.com/isdmx/scriptbox/run"
)

// SyntaxError reports that the submitted source could not be parsed.
// Line and Column are 1-based when the parser could locate the failure,
// zero otherwise.
type SyntaxError struct {
	Message string
	Line    int
	Column  int
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d, column %d)", e.Message, e.Line, e.Column)
	}
	return e.Message
}

// CallSite is one call expression with a resolvable dotted name.
type CallSite struct {
	Name string
	Line int
}

// OpenSite is one call to the language's file-open primitive whose first
// argument is a literal string.
type OpenSite struct {
	Path string
	Line int
}

// ParseResult holds the facts extracted from a successful parse. The
// validator judges them against its rules; the parser itself never decides
// what is forbidden.
type ParseResult struct {
	Imports []string // sorted, deduplicated top-level import roots
	Calls   []CallSite
	Opens   []OpenSite
}

// Parser turns raw guest source into a ParseResult. A parse failure is
// returned as *SyntaxError; any other error is an infrastructure problem.
type Parser interface {
	Parse(source string) (*ParseResult, error)
}

// Resolver reports which import roots cannot be located in the execution
// runtime. The returned slice is sorted and deduplicated.
type Resolver interface {
	Missing(ctx context.Context, imports []string) ([]string, error)
}

// ErrorParser extracts a structured error detail from guest stderr.
// It returns nil when nothing recognizable is found.
type ErrorParser func(stderr string) *run.ErrorDetail

// Language is one guest-language profile: how to parse its source, how to
// probe its module path, and how to invoke its interpreter.
type Language struct {
	Name       string
	Ext        string   // source file extension, without the dot
	Command    []string // interpreter argv prefix; the source path is appended
	Parser     Parser
	Resolver   Resolver
	ParseError ErrorParser
}

// FileName is the name the source is written under inside the run directory.
func (l *Language) FileName() string {
	return "source." + l.Ext
}

// Registry maps language names to their profiles.
type Registry map[string]*Language

// NewRegistry builds the built-in language profiles. pythonCmd and luaCmd
// override the interpreter binaries; empty strings select the defaults.
func NewRegistry(pythonCmd, luaCmd string) Registry {
	if pythonCmd == "" {
		pythonCmd = "python3"
	}
	if luaCmd == "" {
		luaCmd = "lua"
	}
	return Registry{
		"python": NewPython(pythonCmd),
		"lua":    NewLua(luaCmd),
	}
}

// Lookup returns the profile for name, or an error naming the supported
// languages.
func (r Registry) Lookup(name string) (*Language, error) {
	if lang, ok := r[name]; ok {
		return lang, nil
	}
	return nil, fmt.Errorf("unsupported language: %s, must be one of: python, lua", name)
}
