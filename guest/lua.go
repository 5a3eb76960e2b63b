package guest

import (
	"context"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/isdmx/scriptbox/run"
)

// NewLua builds the Lua guest profile. Parsing is done with gopher-lua's
// parser, so syntax errors carry exact positions and call sites come from a
// real syntax tree rather than pattern matching.
func NewLua(command string) *Language {
	return &Language{
		Name:       "lua",
		Ext:        "lua",
		Command:    []string{command},
		Parser:     &luaParser{},
		Resolver:   &luaResolver{path: defaultLuaPath},
		ParseError: parseLuaError,
	}
}

// Modules shipped with the interpreter itself; always resolvable.
var luaBuiltins = map[string]bool{
	"string": true, "table": true, "math": true, "os": true, "io": true,
	"coroutine": true, "debug": true, "utf8": true, "package": true,
}

const defaultLuaPath = "./?.lua;./?/init.lua"

type luaParser struct{}

func (*luaParser) Parse(source string) (*ParseResult, error) {
	chunk, err := parse.Parse(strings.NewReader(source), "source.lua")
	if err != nil {
		if pe, ok := err.(*parse.Error); ok {
			// The parser reports -1 positions for errors at EOF.
			return nil, &SyntaxError{
				Message: pe.Message,
				Line:    max(pe.Pos.Line, 0),
				Column:  max(pe.Pos.Column, 0),
			}
		}
		return nil, &SyntaxError{Message: err.Error()}
	}

	w := &luaWalker{roots: map[string]bool{}}
	w.stmts(chunk)

	res := &ParseResult{Calls: w.calls, Opens: w.opens}
	for root := range w.roots {
		res.Imports = append(res.Imports, root)
	}
	sort.Strings(res.Imports)
	return res, nil
}

// luaWalker recursively collects require roots, call names, and literal
// io.open/open arguments from the syntax tree.
type luaWalker struct {
	roots map[string]bool
	calls []CallSite
	opens []OpenSite
}

func (w *luaWalker) stmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		w.stmt(s)
	}
}

func (w *luaWalker) stmt(s ast.Stmt) {
	switch st := s.(type) {
	case *ast.AssignStmt:
		w.exprs(st.Lhs)
		w.exprs(st.Rhs)
	case *ast.LocalAssignStmt:
		w.exprs(st.Exprs)
	case *ast.FuncCallStmt:
		w.expr(st.Expr)
	case *ast.DoBlockStmt:
		w.stmts(st.Stmts)
	case *ast.WhileStmt:
		w.expr(st.Condition)
		w.stmts(st.Stmts)
	case *ast.RepeatStmt:
		w.expr(st.Condition)
		w.stmts(st.Stmts)
	case *ast.IfStmt:
		w.expr(st.Condition)
		w.stmts(st.Then)
		w.stmts(st.Else)
	case *ast.NumberForStmt:
		w.expr(st.Init)
		w.expr(st.Limit)
		if st.Step != nil {
			w.expr(st.Step)
		}
		w.stmts(st.Stmts)
	case *ast.GenericForStmt:
		w.exprs(st.Exprs)
		w.stmts(st.Stmts)
	case *ast.FuncDefStmt:
		w.expr(st.Func)
	case *ast.ReturnStmt:
		w.exprs(st.Exprs)
	}
}

func (w *luaWalker) exprs(exprs []ast.Expr) {
	for _, e := range exprs {
		w.expr(e)
	}
}

func (w *luaWalker) expr(e ast.Expr) {
	switch ex := e.(type) {
	case *ast.FuncCallExpr:
		w.call(ex)
	case *ast.AttrGetExpr:
		w.expr(ex.Object)
		w.expr(ex.Key)
	case *ast.TableExpr:
		for _, f := range ex.Fields {
			if f.Key != nil {
				w.expr(f.Key)
			}
			w.expr(f.Value)
		}
	case *ast.LogicalOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.RelationalOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.StringConcatOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.ArithmeticOpExpr:
		w.expr(ex.Lhs)
		w.expr(ex.Rhs)
	case *ast.UnaryMinusOpExpr:
		w.expr(ex.Expr)
	case *ast.UnaryNotOpExpr:
		w.expr(ex.Expr)
	case *ast.UnaryLenOpExpr:
		w.expr(ex.Expr)
	case *ast.FunctionExpr:
		w.stmts(ex.Stmts)
	}
}

func (w *luaWalker) call(ex *ast.FuncCallExpr) {
	name := callName(ex)
	if name != "" {
		w.calls = append(w.calls, CallSite{Name: name, Line: ex.Line()})
	}
	if name == "require" && len(ex.Args) > 0 {
		if s, ok := ex.Args[0].(*ast.StringExpr); ok {
			if root := luaRequireRoot(s.Value); root != "" {
				w.roots[root] = true
			}
		}
	}
	if (name == "io.open" || name == "open") && len(ex.Args) > 0 {
		if s, ok := ex.Args[0].(*ast.StringExpr); ok {
			w.opens = append(w.opens, OpenSite{Path: s.Value, Line: ex.Line()})
		}
	}
	if ex.Func != nil {
		if _, ok := ex.Func.(*ast.IdentExpr); !ok {
			w.expr(ex.Func)
		}
	}
	if ex.Receiver != nil {
		w.expr(ex.Receiver)
	}
	w.exprs(ex.Args)
}

// callName flattens ident and single-level attribute calls into a dotted
// name; anything more dynamic yields "".
func callName(ex *ast.FuncCallExpr) string {
	if ex.Receiver != nil && ex.Method != "" {
		if id, ok := ex.Receiver.(*ast.IdentExpr); ok {
			return id.Value + ":" + ex.Method
		}
		return ""
	}
	switch fn := ex.Func.(type) {
	case *ast.IdentExpr:
		return fn.Value
	case *ast.AttrGetExpr:
		obj, okObj := fn.Object.(*ast.IdentExpr)
		key, okKey := fn.Key.(*ast.StringExpr)
		if okObj && okKey {
			return obj.Value + "." + key.Value
		}
	}
	return ""
}

// luaRequireRoot reduces "a.b" or "a/b" module names to their root.
func luaRequireRoot(mod string) string {
	mod = strings.TrimSpace(mod)
	if i := strings.IndexAny(mod, "./"); i >= 0 {
		mod = mod[:i]
	}
	return mod
}

// luaResolver substitutes each root into the search path, mirroring what
// require would consult, without loading anything.
type luaResolver struct {
	path string
}

func (r *luaResolver) Missing(_ context.Context, imports []string) ([]string, error) {
	var missing []string
	for _, mod := range imports {
		if luaBuiltins[mod] {
			continue
		}
		found := false
		for _, tmpl := range strings.Split(r.path, ";") {
			candidate := strings.ReplaceAll(tmpl, "?", mod)
			if fi, err := os.Stat(candidate); err == nil && fi.Mode().IsRegular() {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, mod)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

var luaErrRe = regexp.MustCompile(`(?m)^lua[^:]*:\s*(?:[^:]*:(\d+):\s*)?(.*)$`)

// parseLuaError extracts the "lua: file:line: message" shape the standalone
// interpreter prints.
func parseLuaError(stderr string) *run.ErrorDetail {
	ms := luaErrRe.FindAllStringSubmatch(stderr, -1)
	if len(ms) == 0 {
		return nil
	}
	last := ms[len(ms)-1]
	detail := &run.ErrorDetail{Type: "RuntimeError", Message: strings.TrimSpace(last[2])}
	if last[1] != "" {
		detail.Line, _ = strconv.Atoi(last[1])
	}
	return detail
}
