package remote

import "reflect"

// Arguments are call arguments in wire form. Either Args/Kwargs or the packed
// pair is set, never both.
type Arguments struct {
	Args         []any
	Kwargs       map[string]any
	PackedArgs   string
	PackedKwargs string
}

type Serializer struct {
	pickle map[string]bool
}

// NewSerializer returns a serializer that packs the arguments of the given
// functions wholesale instead of inspecting them value by value.
func NewSerializer(pickleFunctions []string) Serializer {
	pickle := make(map[string]bool, len(pickleFunctions))
	for _, name := range pickleFunctions {
		pickle[name] = true
	}
	return Serializer{pickle: pickle}
}

func (s Serializer) Serialize(args []any, kwargs map[string]any, function string) (serialized Arguments, err error) {
	if s.pickle[function] {
		return s.pack(args, kwargs)
	}
	serialized.Args = make([]any, 0, len(args))
	for i, arg := range args {
		var value any
		value, err = s.positional(arg)
		if err != nil {
			err = errorf(Serialization, err, "argument %d", i)
			return
		}
		serialized.Args = append(serialized.Args, value)
	}
	serialized.Kwargs = make(map[string]any, len(kwargs))
	for name, arg := range kwargs {
		// Keyword values only get reference substitution, unlike positional ones.
		var value any
		value, err = shallow(arg)
		if err != nil {
			err = errorf(Serialization, err, "keyword argument %q", name)
			return
		}
		serialized.Kwargs[name] = value
	}
	return
}

func (s Serializer) pack(args []any, kwargs map[string]any) (serialized Arguments, err error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	serialized.PackedArgs, err = EncodeBlob(args)
	if err != nil {
		return
	}
	serialized.PackedKwargs, err = EncodeBlob(kwargs)
	return
}

func (s Serializer) positional(arg any) (any, error) {
	switch v := arg.(type) {
	case *Lambda:
		if v == nil {
			return nil, NewError(Serialization, "nil lambda")
		}
		return blobValue(v.encode())
	case Lambda:
		return blobValue(v.encode())
	case Structured:
		return blobValue(encodeStructured(v))
	case Remote:
		return reference(v), nil
	}
	items, ok := sequence(arg)
	if !ok {
		err := opaque(arg)
		if err != nil {
			return nil, err
		}
		return arg, nil
	}
	processed := make([]any, len(items))
	for i, item := range items {
		nested, ok := sequence(item)
		if !ok {
			value, err := shallow(item)
			if err != nil {
				return nil, err
			}
			processed[i] = value
			continue
		}
		inner := make([]any, len(nested))
		for j, x := range nested {
			value, err := shallow(x)
			if err != nil {
				return nil, err
			}
			inner[j] = value
		}
		processed[i] = inner
	}
	return processed, nil
}

// shallow substitutes a reference for a remote value and otherwise checks
// that value can travel as plain JSON.
func shallow(value any) (any, error) {
	if r, ok := value.(Remote); ok {
		return reference(r), nil
	}
	err := opaque(value)
	if err != nil {
		return nil, err
	}
	return value, nil
}

// opaque checks a value that travels as plain JSON. Handles and mobile code
// inside it would lose their meaning on the way, so they are refused.
func opaque(value any) error {
	switch v := value.(type) {
	case Remote, *Lambda, Lambda, Structured:
		return errorf(Serialization, nil, "%T is nested too deeply to be sent", value)
	case map[string]any:
		for _, item := range v {
			err := opaque(item)
			if err != nil {
				return err
			}
		}
		return nil
	}
	if items, ok := sequence(value); ok {
		for _, item := range items {
			err := opaque(item)
			if err != nil {
				return err
			}
		}
		return nil
	}
	if !wireable(value) {
		return errorf(Serialization, nil, "value of type %T is not representable", value)
	}
	return nil
}

func reference(value any) any {
	if r, ok := value.(Remote); ok {
		return map[string]any{referenceKey: r.RemoteID()}
	}
	return value
}

func blobValue(blob string, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{blobKey: blob}, nil
}

// sequence returns the elements of slices and arrays. Byte slices are scalars
// on the wire.
func sequence(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}
	if value == nil {
		return nil, false
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
	case reflect.Array:
	default:
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func wireable(value any) bool {
	if value == nil {
		return true
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return false
	}
	return true
}
