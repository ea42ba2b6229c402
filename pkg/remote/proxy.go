package remote

import (
	"context"
	"encoding/json"
	"reflect"
)

// Instance is the generic handle for an object that lives on the server.
// Generated proxies are defined on top of it.
type Instance struct {
	Type   string
	ID     string
	Cached bool
	client *Client
}

func (i Instance) RemoteID() string {
	return i.ID
}

func (i Instance) Client() *Client {
	return i.client
}

func (i Instance) Call(ctx context.Context, method string, args ...any) (any, error) {
	return i.CallKw(ctx, method, args, nil)
}

func (i Instance) CallKw(ctx context.Context, method string, args []any, kwargs map[string]any) (any, error) {
	if i.client == nil {
		return nil, unbound(i.ID)
	}
	return i.client.Do(ctx, Call{
		ObjectID: i.ID,
		Function: method,
		Args:     args,
		Kwargs:   kwargs,
	})
}

func (i Instance) Attr(ctx context.Context, name string) (any, error) {
	if i.client == nil {
		return nil, unbound(i.ID)
	}
	return i.client.Attr(ctx, i.ID, name)
}

func (i Instance) Item(ctx context.Context, key any) (any, error) {
	if i.client == nil {
		return nil, unbound(i.ID)
	}
	return i.client.Item(ctx, i.ID, key)
}

func unbound(id string) error {
	return errorf(Protocol, nil, "object %s is not bound to a client", id)
}

// Function is a callable that runs on the server. Calling it invokes the
// remote object itself.
type Function struct {
	ID     string
	Cached bool
	client *Client
}

func (f Function) RemoteID() string {
	return f.ID
}

func (f Function) Call(ctx context.Context, args ...any) (any, error) {
	return f.CallKw(ctx, args, nil)
}

func (f Function) CallKw(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if f.client == nil {
		return nil, unbound(f.ID)
	}
	return f.client.Do(ctx, Call{
		ObjectID: f.ID,
		Function: Invoke,
		Args:     args,
		Kwargs:   kwargs,
	})
}

func (f Function) Func() func(ctx context.Context, args ...any) (any, error) {
	return f.Call
}

type ProxyConstructor func(i Instance) any

type Registry struct {
	constructors SyncMap[string, ProxyConstructor]
	classes      SyncMap[reflect.Type, string]
}

func NewRegistry() *Registry {
	return &Registry{
		constructors: NewSyncMap[string, ProxyConstructor](),
		classes:      NewSyncMap[reflect.Type, string](),
	}
}

var DefaultRegistry = NewRegistry()

func (r *Registry) Register(class string, create ProxyConstructor) {
	r.constructors.put(class, create)
}

func (r *Registry) Lookup(class string) (ProxyConstructor, bool) {
	return r.constructors.get(class)
}

func (r *Registry) Construct(class string, i Instance) (any, error) {
	create, ok := r.constructors.get(class)
	if !ok {
		return nil, Error{
			Kind:    Protocol,
			Message: UnknownTypeError.Message,
			Err:     NewError(Protocol, "class "+class+" is not registered"),
		}
	}
	i.Type = class
	return create(i), nil
}

// Register binds a proxy type to the class tag the server reports for it.
func Register[T any](r *Registry, class string, create func(i Instance) T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	r.classes.put(t, class)
	r.Register(class, func(i Instance) any {
		return create(i)
	})
}

func RegisterProxy[T any](class string, create func(i Instance) T) {
	Register[T](DefaultRegistry, class, create)
}

// Get wraps an id the caller already knows in the proxy registered for T.
func Get[T any](client *Client, id string) (proxy T, err error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	class, ok := client.registry.classes.get(t)
	if !ok {
		err = Error{Kind: Protocol, Message: UnknownTypeError.Message, Err: NewError(Protocol, "type "+t.String()+" has no proxy")}
		return
	}
	p, err := client.registry.Construct(class, Instance{ID: id, client: client})
	if err != nil {
		return
	}
	return p.(T), nil
}

// Decode stores value in out. Values that already have the right type are
// assigned and a plain Instance is wrapped in the proxy registered for the
// target type. Anything else goes through JSON, which turns a float64 into an
// int or a map into a struct.
func Decode(value any, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errorf(Protocol, nil, "decode target %T is not a pointer", out)
	}
	target := rv.Elem().Type()
	if value != nil && reflect.TypeOf(value).AssignableTo(target) {
		rv.Elem().Set(reflect.ValueOf(value))
		return nil
	}
	if instance, ok := value.(Instance); ok {
		registry := DefaultRegistry
		if instance.client != nil {
			registry = instance.client.registry
		}
		class, ok := registry.classes.get(target)
		if !ok {
			return errorf(Protocol, nil, "object %s does not fit %v", instance.ID, target)
		}
		proxy, err := registry.Construct(class, instance)
		if err != nil {
			return err
		}
		rv.Elem().Set(reflect.ValueOf(proxy))
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errorf(Serialization, err, "value of type %T", value)
	}
	err = json.Unmarshal(data, out)
	if err != nil {
		return errorf(Protocol, err, "value does not fit %T", out)
	}
	return nil
}
