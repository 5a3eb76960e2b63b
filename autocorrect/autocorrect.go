// Package autocorrect implements the fix strategies tried when an attempt
// fails with a retryable error.
//
// Fixers form an ordered chain: the heuristic table is consulted first, and
// a remote fixer capability — when one is configured — acts as the
// fallback. Both sit behind the same Fixer interface so the retry loop
// never knows which strategy produced a fix.
//
// Usage:
//
//	chain := autocorrect.NewChain(logger, nil)
//	fixed, method, ok := chain.Fix(ctx, detail, source)
package autocorrect

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/run"
)

// Fixer produces a revised source for a failed attempt, or reports that it
// has nothing to offer.
type Fixer interface {
	Name() string
	Fix(ctx context.Context, detail *run.ErrorDetail, source string) (fixed string, method string, ok bool)
}

// RemoteFixer is the optional external fix-suggestion capability. Absence
// is a normal condition; a (_, false, nil) return means "no fix".
type RemoteFixer interface {
	SuggestFix(ctx context.Context, detail *run.ErrorDetail, source string) (string, bool, error)
}

// Chain tries each Fixer in order and returns the first fix produced.
type Chain []Fixer

// Fix walks the chain.
func (c Chain) Fix(ctx context.Context, detail *run.ErrorDetail, source string) (string, string, bool) {
	for _, f := range c {
		if fixed, method, ok := f.Fix(ctx, detail, source); ok {
			return fixed, method, true
		}
	}
	return "", "", false
}

// NewChain builds the default chain: heuristics first, then the remote
// fixer when one is supplied.
func NewChain(logger *zap.Logger, remote RemoteFixer) Chain {
	chain := Chain{NewHeuristicFixer(logger)}
	if remote != nil {
		chain = append(chain, &remoteAdapter{remote: remote, logger: logger})
	}
	return chain
}

// Rule is one heuristic: a pattern over the parsed error message and a
// patch applied to the source when it matches.
type Rule struct {
	Name  string
	Type  string // required error type, empty matches any
	Match *regexp.Regexp
	Apply func(source string, groups []string) (string, bool)
}

// HeuristicFixer is a fixed table of pattern-to-patch rules keyed on the
// parsed error detail.
type HeuristicFixer struct {
	rules  []Rule
	logger *zap.Logger
}

// Aliases conventionally bound to specific imports.
var importAliases = map[string]string{
	"pd":  "import pandas as pd",
	"np":  "import numpy as np",
	"plt": "import matplotlib.pyplot as plt",
	"sns": "import seaborn as sns",
}

// Standard-library modules safe to import under their own name.
var stdlibNames = map[string]bool{
	"json": true, "re": true, "math": true, "random": true,
	"datetime": true, "time": true, "itertools": true, "functools": true,
	"collections": true, "string": true, "csv": true, "sys": true,
}

// NewHeuristicFixer builds the built-in rule table.
func NewHeuristicFixer(logger *zap.Logger) *HeuristicFixer {
	rules := []Rule{
		{
			Name:  "missing-import",
			Type:  "NameError",
			Match: regexp.MustCompile(`^name '(\w+)' is not defined$`),
			Apply: func(source string, groups []string) (string, bool) {
				name := groups[1]
				line, known := importAliases[name]
				if !known {
					if !stdlibNames[name] {
						return "", false
					}
					line = "import " + name
				}
				return InsertImport(source, line)
			},
		},
		{
			Name:  "missing-math-name",
			Type:  "NameError",
			Match: regexp.MustCompile(`^name '(sqrt|pi|ceil|floor|log|sin|cos|tan)' is not defined$`),
			Apply: func(source string, groups []string) (string, bool) {
				return InsertImport(source, "from math import "+groups[1])
			},
		},
	}
	return &HeuristicFixer{rules: rules, logger: logger}
}

// Name identifies the strategy in attempt records.
func (*HeuristicFixer) Name() string {
	return "heuristic"
}

// Fix matches the error detail against the rule table; the first rule whose
// pattern matches and whose patch changes the source wins.
func (h *HeuristicFixer) Fix(_ context.Context, detail *run.ErrorDetail, source string) (string, string, bool) {
	if detail == nil {
		return "", "", false
	}
	for _, rule := range h.rules {
		if rule.Type != "" && rule.Type != detail.Type {
			continue
		}
		groups := rule.Match.FindStringSubmatch(detail.Message)
		if groups == nil {
			continue
		}
		fixed, ok := rule.Apply(source, groups)
		if !ok {
			continue
		}
		h.logger.Debug("heuristic fix applied", zap.String("rule", rule.Name))
		return fixed, rule.Name, true
	}
	return "", "", false
}

// InsertImport prepends an import line after any leading shebang, encoding
// declaration, comments, and blank lines. It refuses to insert a line that
// is already present.
func InsertImport(source, importLine string) (string, bool) {
	present := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(importLine) + `\s*$`)
	if present.MatchString(source) {
		return "", false
	}
	lines := strings.Split(source, "\n")
	at := 0
	for at < len(lines) {
		trimmed := strings.TrimSpace(lines[at])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			at++
			continue
		}
		break
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:at]...)
	out = append(out, importLine)
	out = append(out, lines[at:]...)
	return strings.Join(out, "\n"), true
}

// remoteAdapter exposes a RemoteFixer through the Fixer interface.
type remoteAdapter struct {
	remote RemoteFixer
	logger *zap.Logger
}

const remoteMethod = "remote-fixer"

func (*remoteAdapter) Name() string {
	return remoteMethod
}

func (a *remoteAdapter) Fix(ctx context.Context, detail *run.ErrorDetail, source string) (string, string, bool) {
	fixed, ok, err := a.remote.SuggestFix(ctx, detail, source)
	if err != nil {
		a.logger.Warn("remote fixer failed", zap.Error(err))
		return "", "", false
	}
	if !ok || strings.TrimSpace(fixed) == "" || fixed == source {
		return "", "", false
	}
	return fixed, remoteMethod, true
}

var (
	_ Fixer = (*HeuristicFixer)(nil)
	_ Fixer = (*remoteAdapter)(nil)
)
