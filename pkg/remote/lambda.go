package remote

import (
	"reflect"
	"sort"
)

const (
	lambdaKind     = "lambda"
	structuredKind = "structured"
	argsKind       = "args"
	kwargsKind     = "kwargs"
)

// Lambda is a function shipped to the server for execution there. Go closures
// cannot leave the process, so the code and every value it closes over are
// declared explicitly and checked before anything is sent.
type Lambda struct {
	Name     string
	Code     string
	Defaults []any
	Captures map[string]any
}

type capture struct {
	Name  string
	Value any
}

type mobileCode struct {
	Kind     string
	Name     string
	Code     string
	Defaults []any
	Captures []capture
	Value    any
}

func NewLambda(name, code string) *Lambda {
	return &Lambda{
		Name:     name,
		Code:     code,
		Captures: make(map[string]any),
	}
}

func (l *Lambda) WithDefaults(defaults ...any) *Lambda {
	l.Defaults = append(l.Defaults, defaults...)
	return l
}

func (l *Lambda) Capture(name string, value any) *Lambda {
	if l.Captures == nil {
		l.Captures = make(map[string]any)
	}
	l.Captures[name] = value
	return l
}

// clone returns a copy that shares nothing mutable with l.
func (l *Lambda) clone() *Lambda {
	c := &Lambda{
		Name:     l.Name,
		Code:     l.Code,
		Defaults: append([]any(nil), l.Defaults...),
		Captures: make(map[string]any, len(l.Captures)),
	}
	for name, value := range l.Captures {
		c.Captures[name] = value
	}
	return c
}

func (l *Lambda) validate() error {
	if l.Code == "" {
		return errorf(Serialization, nil, "lambda %q has no code", l.Name)
	}
	for i, value := range l.Defaults {
		if !mobile(value) {
			return errorf(Serialization, nil, "lambda %q default %d of type %T cannot leave the process", l.Name, i, value)
		}
		if _, err := EncodeBlob(value); err != nil {
			return errorf(Serialization, err, "lambda %q default %d", l.Name, i)
		}
	}
	for name, value := range l.Captures {
		if !mobile(value) {
			return errorf(Serialization, nil, "lambda %q capture %q of type %T cannot leave the process", l.Name, name, value)
		}
		if _, err := EncodeBlob(value); err != nil {
			return errorf(Serialization, err, "lambda %q capture %q", l.Name, name)
		}
	}
	return nil
}

func (l *Lambda) encode() (blob string, err error) {
	c := l.clone()
	err = c.validate()
	if err != nil {
		return
	}
	code := mobileCode{
		Kind:     lambdaKind,
		Name:     c.Name,
		Code:     c.Code,
		Defaults: c.Defaults,
	}
	for name, value := range c.Captures {
		code.Captures = append(code.Captures, capture{Name: name, Value: value})
	}
	sort.Slice(code.Captures, func(i, j int) bool {
		return code.Captures[i].Name < code.Captures[j].Name
	})
	return EncodeBlob(code)
}

func encodeStructured(value Structured) (string, error) {
	return EncodeBlob(mobileCode{
		Kind:  structuredKind,
		Name:  value.StructuredType(),
		Value: value,
	})
}

// mobile reports whether a value can be described outside this process at
// all. Funcs, channels and unsafe pointers never can; Lambdas are the way to
// ship behaviour.
func mobile(value any) bool {
	if value == nil {
		return true
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	}
	return true
}
