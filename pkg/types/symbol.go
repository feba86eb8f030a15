package types

import (
	"errors"
	"go/token"
)

// SymbolKind represents the type of source symbol
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindMethod    SymbolKind = "method"
	KindClass     SymbolKind = "class"
	KindStruct    SymbolKind = "struct"
	KindInterface SymbolKind = "interface"
	KindType      SymbolKind = "type"
	KindConst     SymbolKind = "const"
	KindVar       SymbolKind = "var"
)

// SymbolScope represents the visibility scope of a symbol
type SymbolScope string

const (
	ScopeExported   SymbolScope = "exported"
	ScopeUnexported SymbolScope = "unexported"
)

// Position represents a location in source code
type Position struct {
	Line   int
	Column int
}

// Symbol represents a declaration extracted from a source file
type Symbol struct {
	// Identification
	Name    string
	Kind    SymbolKind
	Package string // Go package name, or module name for scripts

	// Content
	Signature  string
	DocComment string

	// Scope
	Scope    SymbolScope
	Receiver string // For methods: receiver or owning class

	// Location
	Start Position
	End   Position
}

// IsCallable reports whether the symbol is a node of the function-call graph
func (s *Symbol) IsCallable() bool {
	return s.Kind == KindFunction || s.Kind == KindMethod
}

// QualifiedName returns Receiver.Name for methods and Name otherwise
func (s *Symbol) QualifiedName() string {
	if s.Receiver != "" {
		return s.Receiver + "." + s.Name
	}
	return s.Name
}

// IsExported returns true if the symbol is visible outside its package
func (s *Symbol) IsExported() bool {
	return s.Scope == ScopeExported && token.IsExported(s.Name)
}

// Validate checks the symbol for structural consistency
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return errors.New("symbol name is required")
	}

	switch s.Kind {
	case KindFunction, KindMethod, KindClass, KindStruct, KindInterface, KindType, KindConst, KindVar:
	default:
		return errors.New("invalid symbol kind")
	}

	if s.Kind == KindMethod && s.Receiver == "" {
		return errors.New("methods must have a receiver type")
	}

	if s.Start.Line <= 0 || s.End.Line <= 0 {
		return errors.New("invalid position: line numbers must be positive")
	}

	if s.Start.Line > s.End.Line {
		return errors.New("invalid position: start line must be before or equal to end line")
	}

	return nil
}
