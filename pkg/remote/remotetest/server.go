// Package remotetest provides an in-process execution server speaking the
// client's wire protocol, for tests and demos.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orangootan/remote/pkg/remote"
)

type Result struct {
	Value     any
	Object    bool
	ObjectID  string
	Class     string
	Exception string
	Stdout    []string
}

type Handler func(req remote.CallRequest) Result

type Server struct {
	name     string
	mu       sync.Mutex
	handlers map[string]Handler
	objects  map[string]any
	queue    []remote.Envelope
	requests []remote.CallRequest
	async    bool
	calls    atomic.Int64
	polls    atomic.Int64
	clears   atomic.Int64
	http     *httptest.Server
	logger   *zap.Logger
}

func NewServer(name string) *Server {
	return &Server{
		name:     name,
		handlers: make(map[string]Handler),
		objects:  make(map[string]any),
		logger:   zap.NewNop(),
	}
}

func (s *Server) SetLogger(logger *zap.Logger) {
	s.logger = logger.Named(s.name)
}

// Handle registers h for calls whose "path.function" (or bare function when
// there is no path) equals name. "*" catches everything else.
func (s *Server) Handle(name string, h Handler) {
	s.mu.Lock()
	s.handlers[name] = h
	s.mu.Unlock()
}

// SetAsync makes /call answer "pending" and deliver completions only through
// /response.
func (s *Server) SetAsync(async bool) {
	s.mu.Lock()
	s.async = async
	s.mu.Unlock()
}

// Inject appends a completion to the shared stream, as if another client's
// call had finished.
func (s *Server) Inject(env remote.Envelope) {
	s.mu.Lock()
	s.queue = append(s.queue, env)
	s.mu.Unlock()
}

// Store keeps obj in the object table and returns its new id.
func (s *Server) Store(obj any) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.objects[id] = obj
	s.mu.Unlock()
	return id
}

func (s *Server) Object(id string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	return obj, ok
}

func (s *Server) Objects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *Server) Calls() int {
	return int(s.calls.Load())
}

func (s *Server) Polls() int {
	return int(s.polls.Load())
}

func (s *Server) Clears() int {
	return int(s.clears.Load())
}

func (s *Server) Requests() []remote.CallRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.CallRequest(nil), s.requests...)
}

func (s *Server) Start() string {
	mux := http.NewServeMux()
	mux.HandleFunc("/call", s.call)
	mux.HandleFunc("/response", s.response)
	mux.HandleFunc("/clear", s.clear)
	s.http = httptest.NewServer(mux)
	s.logger.Info("started", zap.String("url", s.http.URL))
	return s.http.URL
}

func (s *Server) URL() string {
	return s.http.URL
}

func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}
}

func (s *Server) call(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req remote.CallRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.calls.Add(1)
	s.logger.Debug("call", zap.String("digest", req.Digest), zap.String("request_id", r.Header.Get("X-Request-ID")))
	s.mu.Lock()
	s.requests = append(s.requests, req)
	h := s.handler(req)
	async := s.async
	s.mu.Unlock()
	env := complete(req.Digest, h(req))
	if async {
		s.Inject(env)
		env = remote.Envelope{Status: remote.StatusPending, Digest: req.Digest}
	}
	writeEnvelope(w, env)
}

// handler must be called with s.mu held.
func (s *Server) handler(req remote.CallRequest) Handler {
	name := req.Function
	if req.Path != "" {
		name = req.Path + "." + req.Function
	}
	if h, ok := s.handlers[name]; ok {
		return h
	}
	if h, ok := s.handlers[req.Function]; ok {
		return h
	}
	if h, ok := s.handlers["*"]; ok {
		return h
	}
	return func(remote.CallRequest) Result {
		return Result{Exception: fmt.Sprintf("no handler for %q", name)}
	}
}

func (s *Server) response(w http.ResponseWriter, r *http.Request) {
	s.polls.Add(1)
	s.mu.Lock()
	var env remote.Envelope
	if len(s.queue) == 0 {
		env = remote.Envelope{Status: remote.StatusPending}
	} else {
		env = s.queue[0]
		s.queue = s.queue[1:]
	}
	s.mu.Unlock()
	writeEnvelope(w, env)
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	s.clears.Add(1)
	s.mu.Lock()
	s.objects = make(map[string]any)
	s.queue = nil
	s.mu.Unlock()
	s.logger.Info("cleared")
	w.WriteHeader(http.StatusOK)
}

func complete(digest string, result Result) remote.Envelope {
	stdout := result.Stdout
	if stdout == nil {
		stdout = []string{}
	}
	return remote.Envelope{
		Status:    remote.StatusComplete,
		Digest:    digest,
		Exception: result.Exception,
		Stdout:    stdout,
		IsObject:  result.Object,
		ObjectID:  result.ObjectID,
		Class:     result.Class,
		Value:     result.Value,
	}
}

func writeEnvelope(w http.ResponseWriter, env remote.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(env)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Value is a plain scalar or structure result.
func Value(v any) Result {
	return Result{Value: v}
}

// Object is a result naming a server object of the given class.
func Object(id, class string) Result {
	return Result{Object: true, ObjectID: id, Class: class}
}

// Pickled is a result carrying v as an opaque blob.
func Pickled(v any) Result {
	blob, err := remote.EncodeBlob(v)
	if err != nil {
		return Result{Exception: err.Error()}
	}
	return Result{Object: true, Class: remote.PickleClass, Value: blob}
}

// Failure is a result reporting a server-side exception.
func Failure(format string, v ...any) Result {
	return Result{Exception: fmt.Sprintf(format, v...)}
}
