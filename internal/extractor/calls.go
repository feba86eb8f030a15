package extractor

import (
	"strings"

	"github.com/dshills/codeknow/internal/graph"
	"github.com/dshills/codeknow/pkg/types"
)

// callEdges maps every function of a module to the ids of the functions it
// calls. Only callees declared in the same file are resolved. When a name
// is declared more than once, a method on the caller's own receiver wins;
// a name that stays ambiguous is dropped.
func callEdges(moduleID string, functions []types.Symbol, calls []types.Call) map[string][]string {
	edges := make(map[string][]string, len(functions))
	byName := make(map[string][]types.Symbol, len(functions))
	for _, fn := range functions {
		edges[graph.FunctionID(moduleID, fn.QualifiedName())] = nil
		byName[fn.Name] = append(byName[fn.Name], fn)
	}

	for _, call := range calls {
		from := graph.FunctionID(moduleID, call.Caller)
		if _, ok := edges[from]; !ok {
			continue
		}
		callee, ok := pickCallee(byName[call.Callee], receiverOf(call.Caller))
		if !ok {
			continue
		}
		edges[from] = append(edges[from], graph.FunctionID(moduleID, callee.QualifiedName()))
	}

	return edges
}

func pickCallee(candidates []types.Symbol, receiver string) (types.Symbol, bool) {
	switch len(candidates) {
	case 0:
		return types.Symbol{}, false
	case 1:
		return candidates[0], true
	}

	var match []types.Symbol
	for _, c := range candidates {
		if c.Receiver == receiver {
			match = append(match, c)
		}
	}
	if len(match) == 1 {
		return match[0], true
	}
	return types.Symbol{}, false
}

func receiverOf(qualified string) string {
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[:i]
	}
	return ""
}
