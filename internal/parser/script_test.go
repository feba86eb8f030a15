package parser

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeknow/pkg/types"
)

const serviceTS = `import { b } from "./b";
import * as c from './c.js';
export { d } from "./d";
const e = require("./e");

/** Adds numbers. */
export function add(x: number, y: number): number {
  return helper(x) + y;
}

function helper(x: number) {
  return Math.abs(x);
}

export const double = (n: number) => add(n, n);

export class Service {
  run(): void {
    this.load();
    add(1, 2);
  }

  private load() {}
}

export interface Options { size: number }
type ID = string;

async function lazy() {
  const m = await import("./lazy");
  return m;
}
`

func TestParse_TypeScript(t *testing.T) {
	p := New()
	defer p.Close()

	result, err := p.Parse("src/service.ts", []byte(serviceTS))
	require.NoError(t, err)

	assert.Equal(t, types.LangTypeScript, result.Language)
	assert.Equal(t, "service", result.PackageName)
	assert.Empty(t, result.Errors)

	paths := make([]string, 0, len(result.Imports))
	for _, imp := range result.Imports {
		paths = append(paths, imp.Path)
	}
	assert.Equal(t, []string{"./b", "./c.js", "./d", "./e", "./lazy"}, paths)

	add := findSymbol(t, result, "add")
	assert.Equal(t, types.KindFunction, add.Kind)
	assert.Equal(t, types.ScopeExported, add.Scope)
	assert.Equal(t, "Adds numbers.", add.DocComment)
	assert.Equal(t, "function add(x: number, y: number): number", add.Signature)
	assert.Equal(t, 7, add.Start.Line)
	assert.Equal(t, 9, add.End.Line)

	helper := findSymbol(t, result, "helper")
	assert.Equal(t, types.ScopeUnexported, helper.Scope)
	assert.Equal(t, 11, helper.Start.Line)

	double := findSymbol(t, result, "double")
	assert.Equal(t, types.KindFunction, double.Kind)
	assert.Equal(t, types.ScopeExported, double.Scope)

	service := findSymbol(t, result, "Service")
	assert.Equal(t, types.KindClass, service.Kind)
	assert.Equal(t, types.ScopeExported, service.Scope)

	run := findSymbol(t, result, "run")
	assert.Equal(t, types.KindMethod, run.Kind)
	assert.Equal(t, "Service", run.Receiver)
	assert.Equal(t, types.ScopeExported, run.Scope)

	load := findSymbol(t, result, "load")
	assert.Equal(t, types.ScopeUnexported, load.Scope)

	assert.Equal(t, types.KindInterface, findSymbol(t, result, "Options").Kind)
	assert.Equal(t, types.KindType, findSymbol(t, result, "ID").Kind)

	var names []string
	for _, fn := range result.Functions() {
		names = append(names, fn.QualifiedName())
	}
	assert.Equal(t, []string{"add", "helper", "double", "Service.run", "Service.load", "lazy"}, names)

	assert.ElementsMatch(t, []types.Call{
		{Caller: "add", Callee: "helper"},
		{Caller: "helper", Callee: "abs"},
		{Caller: "double", Callee: "add"},
		{Caller: "Service.run", Callee: "load"},
		{Caller: "Service.run", Callee: "add"},
	}, result.Calls)
}

func TestParse_TSX(t *testing.T) {
	content := `import React from "react";

export function App() {
  return <div>{render()}</div>;
}
`

	p := New()
	defer p.Close()

	result, err := p.Parse("App.tsx", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, types.LangTSX, result.Language)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []types.Import{{Path: "react"}}, result.Imports)
	assert.Equal(t, []types.Call{{Caller: "App", Callee: "render"}}, result.Calls)
}

func TestParse_JavaScript(t *testing.T) {
	content := `const path = require("path");
const util = require("./util");

function main() {
  util.run(path.join("a", "b"));
}

const start = function () {
  main();
};
`

	p := New()
	defer p.Close()

	result, err := p.Parse("index.mjs", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, types.LangJavaScript, result.Language)
	assert.Equal(t, []types.Import{{Path: "path"}, {Path: "./util"}}, result.Imports)
	assert.Len(t, result.Functions(), 2)
	assert.ElementsMatch(t, []types.Call{
		{Caller: "main", Callee: "run"},
		{Caller: "main", Callee: "join"},
		{Caller: "start", Callee: "main"},
	}, result.Calls)
}

func TestParse_ScriptSyntaxError(t *testing.T) {
	content := `export function ok() {}

function broken( {
`

	p := New()
	defer p.Close()

	result, err := p.Parse("broken.ts", []byte(content))
	require.NoError(t, err)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0].Message, "syntax error")
}

func TestParse_UnsupportedLanguage(t *testing.T) {
	p := New()
	_, err := p.Parse("script.py", []byte("print(1)"))
	require.ErrorIs(t, err, types.ErrUnsupportedLanguage)
}

func TestLanguageOf(t *testing.T) {
	tests := []struct {
		path string
		want types.Language
		ok   bool
	}{
		{"a.go", types.LangGo, true},
		{"a.ts", types.LangTypeScript, true},
		{"a.mts", types.LangTypeScript, true},
		{"a.tsx", types.LangTSX, true},
		{"a.js", types.LangJavaScript, true},
		{"a.jsx", types.LangJavaScript, true},
		{"a.cjs", types.LangJavaScript, true},
		{"A.TS", types.LangTypeScript, true},
		{"a.py", "", false},
		{"Makefile", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := LanguageOf(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParser_EvictAll(t *testing.T) {
	p := New()
	defer p.Close()

	_, err := p.Parse("a.ts", []byte("export const x = 1;"))
	require.NoError(t, err)
	_, err = p.Parse("b.js", []byte("var y = 2;"))
	require.NoError(t, err)
	assert.Equal(t, 2, p.Idle())

	p.EvictAll()
	assert.Equal(t, 0, p.Idle())

	// The pool refills on demand after eviction
	result, err := p.Parse("c.ts", []byte("function f() { g(); }"))
	require.NoError(t, err)
	assert.Len(t, result.Calls, 1)
	assert.Equal(t, 1, p.Idle())
}

func TestParser_ConcurrentParseAndEvict(t *testing.T) {
	p := New()
	defer p.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 8 {
				name := "f.ts"
				src := "export function f() { g(); }"
				if (i+j)%2 == 0 {
					name = "f.go"
					src = "package f\n\nfunc f() { g() }\n"
				}
				result, err := p.Parse(name, []byte(src))
				if err != nil {
					errs <- err
					continue
				}
				if len(result.Calls) != 1 {
					t.Errorf("expected one call, got %d", len(result.Calls))
				}
				if j%3 == 0 {
					p.EvictAll()
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
