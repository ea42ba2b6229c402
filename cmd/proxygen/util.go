package main

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var toLower = cases.Lower(language.English)

// remoteName is the name a Go method is called by on the server: the same
// name starting with a lower case letter.
func remoteName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return toLower.String(string(r)) + name[size:]
}

// directive returns the argument of the first comment starting with prefix.
func directive(prefix string, comments []string) (string, bool) {
	for _, comment := range comments {
		rest, ok := strings.CutPrefix(comment, prefix)
		if !ok {
			continue
		}
		if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
			continue
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

func Map[T any, S any](s []T, fn func(T) S) []S {
	var result []S
	for _, item := range s {
		result = append(result, fn(item))
	}
	return result
}

type nameSelector struct {
	names map[string]bool
}

func newNameSelector(reserved ...string) nameSelector {
	ns := nameSelector{
		names: make(map[string]bool),
	}
	for _, name := range reserved {
		ns.Add(name)
	}
	return ns
}

func (ns *nameSelector) Add(name string) {
	ns.names[name] = true
}

func (ns *nameSelector) New(base string) string {
	if base == "" || base == "_" {
		base = "arg"
	}
	i := 1
	name := base
	for ns.names[name] {
		i++
		name = base + strconv.Itoa(i)
	}
	ns.Add(name)
	return name
}
