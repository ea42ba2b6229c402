package main

import "go/ast"

var remote = "github.com/orangootan/remote/pkg/remote"

const (
	proxyDirective    = "//remote:proxy"
	propertyDirective = "//remote:property"
	nameDirective     = "//remote:name"
	ignoreDirective   = "//remote:ignore"
)

type File struct {
	Package
	// Imports maps the local name of every import to its path.
	Imports map[string]string
	Proxies []Proxy
}

type Decl struct {
	Comments []string
	Name     string
}

type Package struct {
	Decl
}

type Proxy struct {
	Decl
	Class   string
	Methods []Method
}

type Method struct {
	Decl
	Remote   string
	Property bool
	Params   []ValueGroup
	Result   ast.Expr
	Variadic bool
}

type ValueGroup struct {
	Names []string
	Type  ast.Expr
}
