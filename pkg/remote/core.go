package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Invoke is the function name that calls the receiver itself.
const Invoke = ""

const (
	FunctionClass = "function"
	PickleClass   = "pickle"
)

const (
	referenceKey = "_PROXY_ID"
	blobKey      = "_CLOUDPICKLE"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
)

// Remote is implemented by every value that stands for a server-side object.
type Remote interface {
	RemoteID() string
}

// Structured marks values of an external structured-type system. They cannot
// be decomposed into wire values and travel as blobs.
type Structured interface {
	StructuredType() string
}

type CallRequest struct {
	ObjectID     string
	Path         string
	Function     string
	Args         []any
	Kwargs       map[string]any
	PackedArgs   string
	PackedKwargs string
	IsProperty   bool
	IsItem       bool
	Cache        bool
	Digest       string
}

func (r CallRequest) packed() bool {
	return r.PackedArgs != "" || r.PackedKwargs != ""
}

type wireRequest struct {
	ObjectID   *string         `json:"object_id"`
	Path       *string         `json:"path"`
	Function   *string         `json:"function"`
	Args       json.RawMessage `json:"args"`
	Kwargs     json.RawMessage `json:"kwargs"`
	IsProperty bool            `json:"is_property"`
	IsItem     bool            `json:"is_item"`
	Cache      bool            `json:"cache"`
	Digest     string          `json:"digest,omitempty"`
}

func (r CallRequest) MarshalJSON() ([]byte, error) {
	args, kwargs, err := r.encodedArguments()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRequest{
		ObjectID:   nullable(r.ObjectID),
		Path:       nullable(r.Path),
		Function:   nullable(r.Function),
		Args:       args,
		Kwargs:     kwargs,
		IsProperty: r.IsProperty,
		IsItem:     r.IsItem,
		Cache:      r.Cache,
		Digest:     r.Digest,
	})
}

func (r *CallRequest) UnmarshalJSON(data []byte) (err error) {
	var w wireRequest
	err = json.Unmarshal(data, &w)
	if err != nil {
		return
	}
	*r = CallRequest{
		ObjectID:   deref(w.ObjectID),
		Path:       deref(w.Path),
		Function:   deref(w.Function),
		IsProperty: w.IsProperty,
		IsItem:     w.IsItem,
		Cache:      w.Cache,
		Digest:     w.Digest,
	}
	if isJSONString(w.Args) {
		err = json.Unmarshal(w.Args, &r.PackedArgs)
	} else if len(w.Args) > 0 {
		err = json.Unmarshal(w.Args, &r.Args)
	}
	if err != nil {
		return
	}
	if isJSONString(w.Kwargs) {
		err = json.Unmarshal(w.Kwargs, &r.PackedKwargs)
	} else if len(w.Kwargs) > 0 {
		err = json.Unmarshal(w.Kwargs, &r.Kwargs)
	}
	return
}

// encodedArguments renders args and kwargs the way they travel: packed blobs
// as JSON strings, otherwise an array and an object, never null.
func (r CallRequest) encodedArguments() (args, kwargs json.RawMessage, err error) {
	if r.packed() {
		args, err = json.Marshal(r.PackedArgs)
		if err != nil {
			return
		}
		kwargs, err = json.Marshal(r.PackedKwargs)
		return
	}
	positional := r.Args
	if positional == nil {
		positional = []any{}
	}
	keyword := r.Kwargs
	if keyword == nil {
		keyword = map[string]any{}
	}
	args, err = json.Marshal(positional)
	if err != nil {
		err = errorf(Serialization, err, "arguments are not representable")
		return
	}
	kwargs, err = json.Marshal(keyword)
	if err != nil {
		err = errorf(Serialization, err, "keyword arguments are not representable")
	}
	return
}

type Envelope struct {
	Status    Status   `json:"status"`
	Digest    string   `json:"digest"`
	Exception string   `json:"exception"`
	Stdout    []string `json:"stdout"`
	IsObject  bool     `json:"object"`
	ObjectID  string   `json:"object_id"`
	Class     string   `json:"class"`
	Value     any      `json:"value"`
	Cached    bool     `json:"-"`
}

// clone returns a copy whose value shares no maps or slices with e.
func (e Envelope) clone() Envelope {
	e.Stdout = append([]string(nil), e.Stdout...)
	e.Value = deepCopy(e.Value)
	return e
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		c := make(map[string]any, len(v))
		for key, item := range v {
			c[key] = deepCopy(item)
		}
		return c
	case []any:
		c := make([]any, len(v))
		for i, item := range v {
			c[i] = deepCopy(item)
		}
		return c
	}
	return value
}

func (e Envelope) complete() bool {
	return e.Status == StatusComplete
}

func (e Envelope) validate() error {
	switch e.Status {
	case StatusPending:
		return nil
	case StatusComplete:
		if e.Digest == "" {
			return errorf(Protocol, nil, "complete response without digest")
		}
		return nil
	default:
		return errorf(Protocol, nil, "response has unknown status %q", e.Status)
	}
}

func (e Envelope) String() string {
	return fmt.Sprintf("envelope{status: %v, digest: %v, object: %v, class: %q}", e.Status, e.Digest, e.IsObject, e.Class)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isJSONString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}
