// Package graph accumulates per-file dependency facts reported concurrently
// by workers and merges them into one deterministic whole-program graph.
//
// Workers call RecordModule, RecordModuleFunctions and RecordFunctionEdges in
// any order. Once every
// worker has finished, the engine calls Resolve exactly once; module import
// specifiers are only interpreted at that point, against the complete table
// of recorded modules, so the result does not depend on insertion order.
//
//	acc := graph.NewAccumulator()
//	acc.RecordModule("/repo/a.ts", graph.ModuleID("/repo", "/repo/a.ts"), []string{"./b"})
//	acc.RecordModule("/repo/b.ts", graph.ModuleID("/repo", "/repo/b.ts"), nil)
//	g := acc.Resolve() // one module edge a -> b
package graph
