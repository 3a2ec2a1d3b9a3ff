package parser

import (
	"codegraph/internal/core/errors"
	"codegraph/internal/data/facts"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(t *testing.T, langs ...string) *Parser {
	t.Helper()
	p, err := New(langs)
	require.NoError(t, err)
	return p
}

func findDef(file *File, qualified string) *Definition {
	for i := range file.Definitions {
		if file.Definitions[i].QualifiedName == qualified {
			return &file.Definitions[i]
		}
	}
	return nil
}

func hasRef(file *File, name string, kind facts.RelationKind, enclosing string) bool {
	for _, ref := range file.References {
		if ref.Name == name && ref.Kind == kind && ref.Enclosing == enclosing {
			return true
		}
	}
	return false
}

func importModules(file *File) []string {
	out := make([]string, 0, len(file.Imports))
	for _, imp := range file.Imports {
		out = append(out, imp.Module)
	}
	return out
}

func requireDef(t *testing.T, file *File, qualified string, kind facts.SymbolKind) *Definition {
	t.Helper()
	def := findDef(file, qualified)
	require.NotNil(t, def, "missing definition %s", qualified)
	assert.Equal(t, kind, def.Kind, "kind of %s", qualified)
	return def
}

func TestGoExtraction(t *testing.T) {
	p := newTestParser(t, "go")
	code := `package sample

import (
	"fmt"
	str "strings"
)

type Greeter struct {
	Name string
}

func (g *Greeter) Greet() string {
	return format(g.Name)
}

func format(name string) string {
	return fmt.Sprintf("hi %s", str.ToUpper(name))
}
`
	file, err := p.ParseFile("sample/greeter.go", []byte(code))
	require.NoError(t, err)

	assert.Equal(t, "go", file.Language)
	assert.Equal(t, "sample", file.Module)
	assert.ElementsMatch(t, []string{"fmt", "strings"}, importModules(file))

	greeter := requireDef(t, file, "Greeter", facts.KindType)
	assert.True(t, greeter.Exported)
	assert.Equal(t, 8, greeter.Span.StartLine)
	requireDef(t, file, "Greeter.Name", facts.KindField)
	requireDef(t, file, "Greeter.Greet", facts.KindMethod)
	format := requireDef(t, file, "format", facts.KindFunction)
	assert.False(t, format.Exported)
	assert.Equal(t, "func format(name string) string", format.Signature)

	assert.True(t, hasRef(file, "format", facts.RelCalls, "Greeter.Greet"))
	assert.True(t, hasRef(file, "Name", facts.RelReferences, "Greeter.Greet"))
	assert.True(t, hasRef(file, "Sprintf", facts.RelCalls, "format"))
	assert.True(t, hasRef(file, "ToUpper", facts.RelCalls, "format"))
	assert.False(t, hasRef(file, "name", facts.RelReferences, "format"), "parameters are locals")
}

func TestGoSignatureIgnoresFormatting(t *testing.T) {
	p := newTestParser(t, "go")
	a, err := p.ParseFile("x.go", []byte("package x\n\nfunc Add(a int, b int) int { return a + b }\n"))
	require.NoError(t, err)
	b, err := p.ParseFile("x.go", []byte("package x\n\n\n// Add adds.\nfunc Add(a int,   b int) int {\n\treturn a + b\n}\n"))
	require.NoError(t, err)

	assert.Equal(t, findDef(a, "Add").Signature, findDef(b, "Add").Signature)
	assert.NotEqual(t, findDef(a, "Add").Span, findDef(b, "Add").Span)
}

func TestGoEmbeddingIsInheritance(t *testing.T) {
	p := newTestParser(t, "go")
	code := `package x

type Base struct{}

type Reader interface {
	Read() error
}

type Derived struct {
	Base
	Reader
}
`
	file, err := p.ParseFile("x.go", []byte(code))
	require.NoError(t, err)

	requireDef(t, file, "Reader.Read", facts.KindMethod)
	assert.True(t, hasRef(file, "Base", facts.RelInherits, "Derived"))
	assert.True(t, hasRef(file, "Reader", facts.RelInherits, "Derived"))
}

func TestPythonExtraction(t *testing.T) {
	p := newTestParser(t, "python")
	code := `from .models import User
import os

LIMIT = 10

class Service(Base):
    def run(self):
        return helper(self.value)

def helper(x):
    return os.path.join(x)
`
	file, err := p.ParseFile("app/service.py", []byte(code))
	require.NoError(t, err)

	assert.Equal(t, "app.service", file.Module)
	assert.ElementsMatch(t, []string{"app.models", "os"}, importModules(file))
	assert.True(t, hasRef(file, "User", facts.RelImports, ""))

	requireDef(t, file, "LIMIT", facts.KindConstant)
	requireDef(t, file, "Service", facts.KindType)
	requireDef(t, file, "Service.run", facts.KindMethod)
	requireDef(t, file, "helper", facts.KindFunction)

	assert.True(t, hasRef(file, "Base", facts.RelInherits, "Service"))
	assert.True(t, hasRef(file, "helper", facts.RelCalls, "Service.run"))
	assert.True(t, hasRef(file, "join", facts.RelCalls, "helper"))
	assert.False(t, hasRef(file, "x", facts.RelReferences, "helper"), "parameters are locals")
}

func TestPythonPackageRelativeImport(t *testing.T) {
	p := newTestParser(t, "python")
	file, err := p.ParseFile("pkg/sub/__init__.py", []byte("from . import tools\nfrom ..core import run\n"))
	require.NoError(t, err)

	assert.Equal(t, "pkg.sub", file.Module)
	assert.ElementsMatch(t, []string{"pkg.sub", "pkg.core"}, importModules(file))
}

func TestJavaExtraction(t *testing.T) {
	p := newTestParser(t, "java")
	code := `package com.example;

import java.util.List;

public class Shop extends Base implements Store {
    private int count;

    public void add(Item item) {
        helper();
        new Item();
    }
}
`
	file, err := p.ParseFile("src/Shop.java", []byte(code))
	require.NoError(t, err)

	assert.Equal(t, "com.example", file.Module)
	assert.Equal(t, []string{"java.util.List"}, importModules(file))
	assert.True(t, hasRef(file, "List", facts.RelImports, ""))

	shop := requireDef(t, file, "Shop", facts.KindType)
	assert.True(t, shop.Exported)
	assert.NotContains(t, shop.Signature, "helper", "container signature excludes the body")
	requireDef(t, file, "Shop.count", facts.KindField)
	requireDef(t, file, "Shop.add", facts.KindMethod)

	assert.True(t, hasRef(file, "Base", facts.RelInherits, "Shop"))
	assert.True(t, hasRef(file, "Store", facts.RelImplements, "Shop"))
	assert.True(t, hasRef(file, "helper", facts.RelCalls, "Shop.add"))
	assert.True(t, hasRef(file, "Item", facts.RelCalls, "Shop.add"))
}

func TestRustExtraction(t *testing.T) {
	p := newTestParser(t, "rust")
	code := `use crate::models::User;

pub struct Cart {
    items: Vec<User>,
}

impl Cart {
    pub fn total(&self) -> usize {
        compute(&self.items)
    }
}

impl Display for Cart {
    fn fmt(&self) {}
}

fn compute(items: &Vec<User>) -> usize {
    items.len()
}
`
	file, err := p.ParseFile("src/cart.rs", []byte(code))
	require.NoError(t, err)

	assert.Equal(t, "cart", file.Module)
	assert.Equal(t, []string{"crate::models::User"}, importModules(file))
	assert.True(t, hasRef(file, "User", facts.RelImports, ""))

	cart := requireDef(t, file, "Cart", facts.KindType)
	assert.True(t, cart.Exported)
	requireDef(t, file, "Cart.items", facts.KindField)
	requireDef(t, file, "Cart.total", facts.KindMethod)
	requireDef(t, file, "Cart.fmt", facts.KindMethod)
	requireDef(t, file, "compute", facts.KindFunction)

	assert.True(t, hasRef(file, "Display", facts.RelImplements, "Cart"))
	assert.True(t, hasRef(file, "compute", facts.RelCalls, "Cart.total"))
	assert.True(t, hasRef(file, "len", facts.RelCalls, "compute"))
	assert.True(t, hasRef(file, "User", facts.RelReferences, "Cart.items"))
}

func TestRustModuleNames(t *testing.T) {
	assert.Equal(t, "cart", rustModule("src/cart.rs"))
	assert.Equal(t, "models", rustModule("src/models/mod.rs"))
	assert.Equal(t, "src", rustModule("src/lib.rs"))
}

func TestJavaScriptExtraction(t *testing.T) {
	p := newTestParser(t, "javascript")
	code := `import { parse } from './util';
const fs = require('fs');

class Reader extends Base {
  read(path) {
    return parse(fs.readFileSync(path));
  }
}

export const load = (p) => new Reader().read(p);
`
	file, err := p.ParseFile("src/reader.js", []byte(code))
	require.NoError(t, err)

	assert.Equal(t, "src/reader", file.Module)
	assert.ElementsMatch(t, []string{"src/util", "fs"}, importModules(file))
	assert.True(t, hasRef(file, "parse", facts.RelImports, ""))

	requireDef(t, file, "Reader", facts.KindType)
	requireDef(t, file, "Reader.read", facts.KindMethod)
	requireDef(t, file, "fs", facts.KindVariable)
	load := requireDef(t, file, "load", facts.KindFunction)
	assert.True(t, load.Exported)

	assert.True(t, hasRef(file, "Base", facts.RelInherits, "Reader"))
	assert.True(t, hasRef(file, "parse", facts.RelCalls, "Reader.read"))
	assert.True(t, hasRef(file, "readFileSync", facts.RelCalls, "Reader.read"))
	assert.True(t, hasRef(file, "Reader", facts.RelCalls, "load"))
	assert.True(t, hasRef(file, "read", facts.RelCalls, "load"))
}

func TestTypeScriptExtraction(t *testing.T) {
	p := newTestParser(t, "typescript")
	code := `interface Shape {
  area(): number;
}

export class Circle implements Shape {
  radius: number = 1;
  area(): number {
    return compute(this.radius);
  }
}

function compute(r: number): number {
  return r * r;
}
`
	file, err := p.ParseFile("src/shapes.ts", []byte(code))
	require.NoError(t, err)

	requireDef(t, file, "Shape", facts.KindType)
	requireDef(t, file, "Shape.area", facts.KindMethod)
	circle := requireDef(t, file, "Circle", facts.KindType)
	assert.True(t, circle.Exported)
	requireDef(t, file, "Circle.radius", facts.KindField)
	requireDef(t, file, "Circle.area", facts.KindMethod)
	requireDef(t, file, "compute", facts.KindFunction)

	assert.True(t, hasRef(file, "Shape", facts.RelImplements, "Circle"))
	assert.True(t, hasRef(file, "compute", facts.RelCalls, "Circle.area"))
}

func TestTSXUsesJSXGrammar(t *testing.T) {
	p := newTestParser(t, "typescript")
	code := "export function View() {\n  return <div>{render()}</div>;\n}\n"

	file, err := p.ParseFile("src/view.tsx", []byte(code))
	require.NoError(t, err)
	requireDef(t, file, "View", facts.KindFunction)
	assert.True(t, hasRef(file, "render", facts.RelCalls, "View"))

	_, err = p.ParseFile("src/view.ts", []byte(code))
	assert.True(t, errors.IsCode(err, errors.CodeParseError))
}

func TestSyntaxErrorIsParseError(t *testing.T) {
	p := newTestParser(t, "go")
	_, err := p.ParseFile("broken.go", []byte("package x\n\nfunc Broken( {\n"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeParseError))
}

func TestUnsupportedPath(t *testing.T) {
	p := newTestParser(t)
	_, err := p.ParseFile("notes.txt", []byte("hello"))
	assert.True(t, errors.IsCode(err, errors.CodeNotSupported))

	// javascript is known but not enabled by default.
	assert.False(t, p.IsSupportedPath("app.js"))
	assert.True(t, p.IsSupportedPath("main.go"))
	assert.Equal(t, []string{"go", "java", "python", "rust"}, p.EnabledLanguages())
}

func TestUnknownLanguageRejected(t *testing.T) {
	_, err := New([]string{"cobol"})
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestLastSegment(t *testing.T) {
	cases := map[string]string{
		"a.b.c":           "c",
		"crate::x::Y":     "Y",
		"Vec::<T>::new":   "new",
		"List<a.B>":       "List",
		"obj->method":     "method",
		"React.Component": "Component",
	}
	for in, want := range cases {
		assert.Equal(t, want, lastSegment(in), in)
	}
}
