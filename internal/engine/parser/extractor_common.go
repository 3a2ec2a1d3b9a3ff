package parser

import (
	"path"
	"strings"
	"unicode"
)

func normalizeRefName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "\n", "")
	value = strings.ReplaceAll(value, "\r", "")
	value = strings.ReplaceAll(value, "\t", "")
	value = strings.ReplaceAll(value, " ", "")
	return value
}

// normalizeSignature collapses whitespace so reformatting leaves the
// signature unchanged.
func normalizeSignature(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func trimQuoted(value string) string {
	value = strings.TrimSpace(value)
	return strings.Trim(value, "\"'`")
}

func isExportedName(name string) bool {
	if name == "" {
		return false
	}
	return unicode.IsUpper([]rune(name)[0])
}

// lastSegment returns the final identifier of a dotted, scoped or arrow
// access path ("a.b.c", "a::b", "a->b").
func lastSegment(name string) string {
	name = stripBracketed(normalizeRefName(name))
	for _, sep := range []string{"::", "->", "."} {
		if i := strings.LastIndex(name, sep); i >= 0 {
			name = name[i+len(sep):]
		}
	}
	return name
}

// stripBracketed drops generic arguments and call or index suffixes:
// "Vec::<T>::new" -> "Vec::::new", "List<a.B>" -> "List".
func stripBracketed(name string) string {
	var b strings.Builder
	depth := 0
	for _, r := range name {
		switch r {
		case '<', '[', '(':
			depth++
			continue
		case '>', ']', ')':
			if depth > 0 {
				depth--
				continue
			}
		}
		if depth == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fileStem is the file name without directory and extension.
func fileStem(filePath string) string {
	base := path.Base(strings.ReplaceAll(filePath, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// dottedModulePath converts a relative source path to a dotted module name,
// dropping the extension and a trailing package marker such as __init__.
func dottedModulePath(filePath string, markers ...string) string {
	clean := strings.TrimPrefix(path.Clean(strings.ReplaceAll(filePath, "\\", "/")), "./")
	clean = strings.TrimSuffix(clean, path.Ext(clean))
	parts := strings.Split(clean, "/")
	if n := len(parts); n > 1 {
		for _, marker := range markers {
			if parts[n-1] == marker {
				parts = parts[:n-1]
				break
			}
		}
	}
	return strings.Join(parts, ".")
}

var goBuiltins = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true, "copy": true,
	"delete": true, "imag": true, "len": true, "make": true, "max": true, "min": true,
	"new": true, "panic": true, "print": true, "println": true, "real": true, "recover": true,
	"nil": true, "true": true, "false": true, "iota": true,
	"bool": true, "byte": true, "error": true, "any": true, "rune": true, "string": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true, "uintptr": true,
	"float32": true, "float64": true, "complex64": true, "complex128": true, "comparable": true,
}

var pythonBuiltins = map[string]bool{
	"self": true, "cls": true, "None": true, "True": true, "False": true,
	"print": true, "len": true, "range": true, "str": true, "int": true, "float": true,
	"bool": true, "list": true, "dict": true, "set": true, "tuple": true, "super": true,
	"isinstance": true, "getattr": true, "setattr": true, "hasattr": true, "open": true,
	"enumerate": true, "zip": true, "map": true, "filter": true, "sorted": true,
	"min": true, "max": true, "sum": true, "any": true, "all": true, "type": true,
	"object": true, "Exception": true, "ValueError": true, "TypeError": true, "KeyError": true,
}
