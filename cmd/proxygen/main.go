// Command proxygen writes typed proxies for interfaces marked with
// //remote:proxy <Class>. For every input file x.go it writes x.g.go.
package main

import (
	"go/parser"
	"go/token"
	"log"
	"os"
	"path"
	"strings"
)

func main() {
	set := token.NewFileSet()
	for _, name := range os.Args[1:] {
		f, err := parser.ParseFile(set, name, nil, parser.ParseComments)
		if err != nil {
			log.Fatal(err)
		}
		file, err := parseFile(f)
		if err != nil {
			log.Fatalf("%s: %v", name, err)
		}
		if len(file.Proxies) == 0 {
			continue
		}
		ext := path.Ext(name)
		out, err := os.Create(strings.TrimSuffix(name, ext) + ".g" + ext)
		if err != nil {
			log.Fatal(err)
		}
		err = generateFile(file).Render(out)
		closeErr := out.Close()
		if err != nil {
			log.Fatal(err)
		}
		if closeErr != nil {
			log.Fatal(closeErr)
		}
	}
}
