// Package guest defines the pluggable guest-language profiles.
//
// A Language bundles everything the engine needs to know about one guest
// scripting language: a Parser that extracts import roots and call sites
// from raw source, a Resolver that probes which imports the runtime cannot
// locate, the interpreter command line, and a stderr error parser.
//
// Two profiles are built in: python (tokenizer-grade scanner, interpreter
// probe resolver) and lua (gopher-lua syntax tree, search-path resolver).
//
// Usage:
//
//	reg := guest.NewRegistry("", "")
//	lang, err := reg.Lookup("python")
//	facts, err := lang.Parser.Parse(source)
package guest
