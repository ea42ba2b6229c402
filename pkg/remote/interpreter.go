package remote

import (
	"fmt"
	"io"
	"strings"
)

// Interpreter turns a response envelope into the value handed to the caller.
type Interpreter struct {
	client      *Client
	registry    *Registry
	output      io.Writer
	objectClass string
}

func NewInterpreter(client *Client, registry *Registry, output io.Writer, objectClass string) *Interpreter {
	if objectClass == "" {
		objectClass = DefaultObjectClass
	}
	return &Interpreter{
		client:      client,
		registry:    registry,
		output:      output,
		objectClass: objectClass,
	}
}

// Interpret maps env to a local value. create is set while a proxy is being
// constructed: the bare object id is returned then instead of a second proxy.
func (in *Interpreter) Interpret(env Envelope, create bool) (value any, err error) {
	if len(env.Stdout) != 0 && in.output != nil {
		_, err = fmt.Fprintln(in.output, strings.Join(env.Stdout, "\n"))
		if err != nil {
			return
		}
	}
	if env.Exception != "" {
		return nil, Error{Kind: RemoteExecution, Message: env.Exception}
	}
	if !env.IsObject {
		return env.Value, nil
	}
	if env.ObjectID == "" {
		if env.Class != PickleClass {
			return env.Value, nil
		}
		blob, ok := env.Value.(string)
		if !ok {
			return nil, errorf(Protocol, nil, "pickled value is %T, not a string", env.Value)
		}
		return DecodeBlob(blob)
	}
	switch {
	case env.Class == FunctionClass:
		return Function{ID: env.ObjectID, Cached: env.Cached, client: in.client}, nil
	case env.Class == in.objectClass:
		return Instance{Type: env.Class, ID: env.ObjectID, Cached: env.Cached, client: in.client}, nil
	case create:
		return env.ObjectID, nil
	}
	return in.registry.Construct(env.Class, Instance{ID: env.ObjectID, Cached: env.Cached, client: in.client})
}
