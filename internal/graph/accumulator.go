package graph

import (
	"path/filepath"
	"sort"
	"sync"
)

// Adjacency maps a node id to its sorted, de-duplicated neighbors
type Adjacency map[string][]string

// Edges returns the total number of edges
func (a Adjacency) Edges() int {
	n := 0
	for _, to := range a {
		n += len(to)
	}
	return n
}

// Graph is the resolved whole-program graph
type Graph struct {
	Modules     Adjacency         `json:"modules" yaml:"modules"`
	Functions   Adjacency         `json:"functions" yaml:"functions"`
	ModulePaths map[string]string `json:"module_paths" yaml:"module_paths"`

	// Facts are the unresolved inputs the graph was built from, ordered by
	// module path. They let a later run rebuild the graph without
	// re-extracting unchanged modules.
	Facts []ModuleFacts `json:"-" yaml:"-"`
}

// ModuleFacts are the raw facts recorded for one module
type ModuleFacts struct {
	Path          string
	ModuleID      string
	Specifiers    []string
	FunctionEdges map[string][]string // Functions owned by the module, edges may be empty
}

// Accumulator collects graph facts from many workers. Every method is safe
// for concurrent use; facts are only ever added or replaced, never removed.
type Accumulator struct {
	mu sync.Mutex

	functions      map[string]map[string]struct{}
	moduleIDByPath map[string]string
	modulePathByID map[string]string
	moduleDeps     map[string][]string
	functionOwner  map[string]string
}

// NewAccumulator returns an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{
		functions:      make(map[string]map[string]struct{}),
		moduleIDByPath: make(map[string]string),
		modulePathByID: make(map[string]string),
		moduleDeps:     make(map[string][]string),
		functionOwner:  make(map[string]string),
	}
}

// RecordFunctionEdges adds call edges from one function to others. Calling
// it with no targets still registers from as a node.
func (a *Accumulator) RecordFunctionEdges(from string, to ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	set, ok := a.functions[from]
	if !ok {
		set = make(map[string]struct{}, len(to))
		a.functions[from] = set
	}
	for _, t := range to {
		set[t] = struct{}{}
	}
}

// RecordModuleFunctions marks functions as declared by the module. Only
// owned functions are carried in the graph's Facts.
func (a *Accumulator) RecordModuleFunctions(moduleID string, functions ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, fn := range functions {
		a.functionOwner[fn] = moduleID
		if _, ok := a.functions[fn]; !ok {
			a.functions[fn] = make(map[string]struct{})
		}
	}
}

// RecordModule registers the module at path with its raw import specifiers.
// Recording the same path again replaces the earlier facts.
func (a *Accumulator) RecordModule(path, moduleID string, deps []string) {
	path = filepath.Clean(path)
	specs := append([]string(nil), deps...)

	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.moduleIDByPath[path]; ok && prev != moduleID {
		delete(a.modulePathByID, prev)
		delete(a.moduleDeps, prev)
	}
	a.moduleIDByPath[path] = moduleID
	a.modulePathByID[moduleID] = path
	a.moduleDeps[moduleID] = specs
}

// Modules returns how many modules have been recorded
func (a *Accumulator) Modules() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.moduleIDByPath)
}

// Resolve interprets every recorded import specifier against the complete
// module table and returns the merged graph. It must only be called after
// all producers are done.
func (a *Accumulator) Resolve() *Graph {
	a.mu.Lock()
	defer a.mu.Unlock()

	g := &Graph{
		Modules:     make(Adjacency, len(a.moduleDeps)),
		Functions:   make(Adjacency, len(a.functions)),
		ModulePaths: make(map[string]string, len(a.modulePathByID)),
	}

	for id, path := range a.modulePathByID {
		g.ModulePaths[id] = path
	}

	for id, specs := range a.moduleDeps {
		importer := a.modulePathByID[id]
		targets := make(map[string]struct{}, len(specs))
		for _, spec := range specs {
			target, ok := a.lookup(importer, spec)
			if !ok || target == id {
				continue
			}
			targets[target] = struct{}{}
		}
		g.Modules[id] = sortedKeys(targets)
	}

	for from, set := range a.functions {
		g.Functions[from] = sortedKeys(set)
	}

	g.Facts = a.facts(g.Functions)
	return g
}

func (a *Accumulator) facts(functions Adjacency) []ModuleFacts {
	owned := make(map[string]map[string][]string, len(a.modulePathByID))
	for fn, id := range a.functionOwner {
		if _, ok := a.modulePathByID[id]; !ok {
			continue
		}
		if owned[id] == nil {
			owned[id] = make(map[string][]string)
		}
		owned[id][fn] = functions[fn]
	}

	facts := make([]ModuleFacts, 0, len(a.modulePathByID))
	for id, path := range a.modulePathByID {
		edges := owned[id]
		if edges == nil {
			edges = make(map[string][]string)
		}
		facts = append(facts, ModuleFacts{
			Path:          path,
			ModuleID:      id,
			Specifiers:    append([]string(nil), a.moduleDeps[id]...),
			FunctionEdges: edges,
		})
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].Path < facts[j].Path })
	return facts
}

func (a *Accumulator) lookup(importer, spec string) (string, bool) {
	for _, candidate := range Candidates(importer, spec) {
		if id, ok := a.moduleIDByPath[candidate]; ok {
			return id, true
		}
	}
	return "", false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
