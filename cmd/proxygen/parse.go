package main

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"path"
	"strconv"
)

func comments(group *ast.CommentGroup) []string {
	if group == nil {
		return nil
	}
	return Map(group.List, func(c *ast.Comment) string {
		return c.Text
	})
}

func valueGroupFromField(field *ast.Field) ValueGroup {
	return ValueGroup{
		Names: Map(field.Names, func(name *ast.Ident) string { return name.Name }),
		Type:  field.Type,
	}
}

func isContext(expr ast.Expr) bool {
	return types.ExprString(expr) == "context.Context"
}

func isError(expr ast.Expr) bool {
	ident, ok := expr.(*ast.Ident)
	return ok && ident.Name == "error"
}

func parseInterfaceMethod(field *ast.Field) (m Method, err error) {
	m.Name = field.Names[0].Name
	m.Comments = comments(field.Doc)
	if name, ok := directive(nameDirective, m.Comments); ok && name != "" {
		m.Remote = name
	} else {
		m.Remote = remoteName(m.Name)
	}
	_, m.Property = directive(propertyDirective, m.Comments)

	funcType := field.Type.(*ast.FuncType)
	params := funcType.Params.List
	if len(params) == 0 || !isContext(params[0].Type) {
		return m, fmt.Errorf("method %s: first parameter must be a context.Context", m.Name)
	}
	m.Params = Map(params, valueGroupFromField)
	last := params[len(params)-1]
	if _, ok := last.Type.(*ast.Ellipsis); ok {
		m.Variadic = true
	}
	if m.Property && (len(m.Params) != 1 || len(m.Params[0].Names) > 1) {
		return m, fmt.Errorf("method %s: a property takes only a context", m.Name)
	}

	var results []ast.Expr
	if funcType.Results != nil {
		for _, field := range funcType.Results.List {
			n := max(len(field.Names), 1)
			for range n {
				results = append(results, field.Type)
			}
		}
	}
	switch {
	case len(results) == 1 && isError(results[0]):
	case len(results) == 2 && isError(results[1]):
		m.Result = results[0]
	default:
		return m, fmt.Errorf("method %s: results must be (T, error) or error", m.Name)
	}
	return m, nil
}

func parseGenDecl(d *ast.GenDecl) (proxies []Proxy, err error) {
	if d.Tok != token.TYPE {
		return
	}
	for _, spec := range d.Specs {
		typeSpec := spec.(*ast.TypeSpec)
		doc := comments(d.Doc)
		if typeSpec.Doc != nil {
			doc = comments(typeSpec.Doc)
		}
		class, ok := directive(proxyDirective, doc)
		if !ok {
			continue
		}
		interfaceType, ok := typeSpec.Type.(*ast.InterfaceType)
		if !ok {
			return nil, fmt.Errorf("%s: only interfaces can be proxied", typeSpec.Name.Name)
		}
		proxy := Proxy{
			Decl:  Decl{Comments: doc, Name: typeSpec.Name.Name},
			Class: class,
		}
		if proxy.Class == "" {
			proxy.Class = proxy.Name
		}
		for _, field := range interfaceType.Methods.List {
			if len(field.Names) == 0 {
				return nil, fmt.Errorf("%s: embedded interfaces are not supported", proxy.Name)
			}
			if _, ignored := directive(ignoreDirective, comments(field.Doc)); ignored {
				continue
			}
			var method Method
			method, err = parseInterfaceMethod(field)
			if err != nil {
				return nil, fmt.Errorf("%s.%w", proxy.Name, err)
			}
			proxy.Methods = append(proxy.Methods, method)
		}
		proxies = append(proxies, proxy)
	}
	return
}

func parseImports(f *ast.File) map[string]string {
	imports := make(map[string]string)
	for _, spec := range f.Imports {
		importPath, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		name := path.Base(importPath)
		if spec.Name != nil {
			name = spec.Name.Name
		}
		imports[name] = importPath
	}
	return imports
}

func parseFile(f *ast.File) (file File, err error) {
	file.Name = f.Name.Name
	file.Comments = comments(f.Doc)
	file.Imports = parseImports(f)
	for _, decl := range f.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok {
			continue
		}
		var proxies []Proxy
		proxies, err = parseGenDecl(gd)
		if err != nil {
			return
		}
		file.Proxies = append(file.Proxies, proxies...)
	}
	return
}
