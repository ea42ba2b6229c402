package main

import (
	"go/ast"
	"go/types"

	j "github.com/dave/jennifer/jen"
)

// typeCode renders a type expression of the source file, qualifying package
// selectors so the generated file gets its own imports.
func typeCode(expr ast.Expr, imports map[string]string) j.Code {
	switch t := expr.(type) {
	case *ast.Ident:
		return j.Id(t.Name)
	case *ast.SelectorExpr:
		if pkg, ok := t.X.(*ast.Ident); ok {
			if importPath, ok := imports[pkg.Name]; ok {
				return j.Qual(importPath, t.Sel.Name)
			}
		}
	case *ast.StarExpr:
		return j.Op("*").Add(typeCode(t.X, imports))
	case *ast.ArrayType:
		if t.Len == nil {
			return j.Index().Add(typeCode(t.Elt, imports))
		}
		return j.Index(j.Id(types.ExprString(t.Len))).Add(typeCode(t.Elt, imports))
	case *ast.MapType:
		return j.Map(typeCode(t.Key, imports)).Add(typeCode(t.Value, imports))
	case *ast.Ellipsis:
		return j.Op("...").Add(typeCode(t.Elt, imports))
	case *ast.InterfaceType:
		if t.Methods == nil || len(t.Methods.List) == 0 {
			return j.Any()
		}
	}
	return j.Id(types.ExprString(expr))
}

func generateProxyMethod(proxy string, method Method, imports map[string]string) j.Code {
	ns := newNameSelector("p")
	var names []string
	params := Map(method.Params, func(vg ValueGroup) j.Code {
		groupNames := vg.Names
		if len(groupNames) == 0 {
			groupNames = []string{""}
		}
		ids := Map(groupNames, func(name string) j.Code {
			name = ns.New(name)
			names = append(names, name)
			return j.Id(name)
		})
		return j.List(ids...).Add(typeCode(vg.Type, imports))
	})
	ctx := names[0]
	args := names[1:]
	valueName := ns.New("value")
	errName := ns.New("err")
	resultName := ns.New("r")

	instance := j.Id("p").Dot("Instance")
	callArgs := []j.Code{j.Id(ctx), j.Lit(method.Remote)}
	var prepare []j.Code
	switch {
	case method.Property:
		instance = instance.Dot("Attr")
	case method.Variadic:
		instance = instance.Dot("Call")
		argsName := ns.New("args")
		itemName := ns.New("arg")
		fixed := args[:len(args)-1]
		rest := args[len(args)-1]
		size := j.Len(j.Id(rest))
		if len(fixed) != 0 {
			size = size.Op("+").Lit(len(fixed))
		}
		prepare = append(prepare, j.Id(argsName).Op(":=").Make(j.Index().Any(), j.Lit(0), size))
		if len(fixed) != 0 {
			prepare = append(prepare, j.Id(argsName).Op("=").Append(
				append([]j.Code{j.Id(argsName)}, Map(fixed, func(name string) j.Code { return j.Id(name) })...)...))
		}
		prepare = append(prepare, j.For(j.List(j.Id("_"), j.Id(itemName)).Op(":=").Range().Id(rest)).Block(
			j.Id(argsName).Op("=").Append(j.Id(argsName), j.Id(itemName))))
		callArgs = append(callArgs, j.Id(argsName).Op("..."))
	default:
		instance = instance.Dot("Call")
		callArgs = append(callArgs, Map(args, func(name string) j.Code { return j.Id(name) })...)
	}
	call := instance.Call(callArgs...)

	signature := j.Func().Params(j.Id("p").Id(proxy + "Proxy")).Id(method.Name).Params(params...)
	if method.Result == nil {
		return signature.Error().BlockFunc(func(g *j.Group) {
			for _, code := range prepare {
				g.Add(code)
			}
			g.List(j.Id("_"), j.Id(errName)).Op(":=").Add(call)
			g.Return(j.Id(errName))
		})
	}
	return signature.Params(
		j.Id(resultName).Add(typeCode(method.Result, imports)),
		j.Id(errName).Error(),
	).BlockFunc(func(g *j.Group) {
		for _, code := range prepare {
			g.Add(code)
		}
		g.List(j.Id(valueName), j.Id(errName)).Op(":=").Add(call)
		g.If(j.Id(errName).Op("!=").Nil()).Block(j.Return())
		g.Id(errName).Op("=").Qual(remote, "Decode").Call(j.Id(valueName), j.Op("&").Id(resultName))
		g.Return()
	})
}

func generateRegisterProxy(p Proxy) j.Code {
	return j.Qual(remote, "RegisterProxy").Types(j.Id(p.Name)).Call(
		j.Lit(p.Class),
		j.Func().Params(j.Id("i").Qual(remote, "Instance")).Id(p.Name).Block(
			j.Return(j.Id(p.Name+"Proxy").Values(j.Dict{j.Id("Instance"): j.Id("i")}))))
}

func generateFile(file File) *j.File {
	f := j.NewFile(file.Name)
	f.HeaderComment("Code generated by proxygen. DO NOT EDIT.")
	for _, p := range file.Proxies {
		f.Type().Id(p.Name + "Proxy").Struct(j.Qual(remote, "Instance"))
	}
	if len(file.Proxies) != 0 {
		f.Func().Id("init").Params().BlockFunc(func(g *j.Group) {
			for _, p := range file.Proxies {
				g.Add(generateRegisterProxy(p))
			}
		})
	}
	for _, p := range file.Proxies {
		for _, m := range p.Methods {
			f.Add(generateProxyMethod(p.Name, m, file.Imports))
		}
	}
	return f
}
