package remote

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

type Client struct {
	name        string
	session     string
	config      Config
	serializer  Serializer
	transport   Transport
	cache       *ResponseCache
	registry    *Registry
	interpreter *Interpreter
	routes      *routeTable
	flight      singleflight.Group
	limiter     *rate.Limiter
	output      io.Writer
	logger      *zap.Logger
	closers     []io.Closer
}

type options struct {
	logger     *zap.Logger
	output     io.Writer
	resolver   Resolver
	transport  Transport
	registry   *Registry
	httpClient *http.Client
}

type Option func(o *options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithOutput sets where text printed by the server is copied to.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

func WithResolver(r Resolver) Option {
	return func(o *options) { o.resolver = r }
}

func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

func NewClient(name string, config Config, opts ...Option) (client *Client, err error) {
	err = config.Validate()
	if err != nil {
		return
	}
	o := options{
		logger:   zap.L(),
		output:   os.Stdout,
		registry: DefaultRegistry,
	}
	for _, opt := range opts {
		opt(&o)
	}
	session := uuid.NewString()
	client = &Client{
		name:       name,
		session:    session,
		config:     config,
		serializer: NewSerializer(config.PickleFunctions),
		cache:      NewResponseCache(),
		registry:   o.registry,
		routes:     newRouteTable(),
		output:     o.output,
		logger:     o.logger.Named(name).With(zap.String("session", session)),
	}
	if config.PollRate > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(config.PollRate), 1)
	}
	client.transport = o.transport
	if client.transport == nil {
		resolver := o.resolver
		if resolver == nil {
			resolver, err = client.defaultResolver()
			if err != nil {
				return nil, err
			}
		}
		httpClient := o.httpClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: config.HTTPTimeout}
		}
		client.transport = NewHTTPTransport(name, resolver, httpClient)
	}
	client.interpreter = NewInterpreter(client, client.registry, client.output, config.ObjectClass)
	return
}

func (c *Client) defaultResolver() (Resolver, error) {
	if len(c.config.Etcd.Endpoints) == 0 {
		return StaticResolver(c.config.URL), nil
	}
	resolver, err := NewEtcdResolver(c.config.Etcd)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, resolver)
	return resolver, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Cache() *ResponseCache {
	return c.cache
}

func (c *Client) Registry() *Registry {
	return c.registry
}

func (c *Client) Interpreter() *Interpreter {
	return c.interpreter
}

// Call describes one operation on the server as the caller sees it.
type Call struct {
	ObjectID   string
	Path       string
	Function   string
	Args       []any
	Kwargs     map[string]any
	IsProperty bool
	IsItem     bool
	// Create is set by proxy constructors; see Interpreter.Interpret.
	Create bool
	// Cache overrides Config.Caching for this call when not nil.
	Cache *bool
}

func (c *Client) Request(call Call) (req CallRequest, err error) {
	arguments, err := c.serializer.Serialize(call.Args, call.Kwargs, call.Function)
	if err != nil {
		return
	}
	cache := c.config.Caching
	if call.Cache != nil {
		cache = *call.Cache
	}
	return NewCallRequest(call.ObjectID, call.Path, call.Function, arguments, call.IsProperty, call.IsItem, cache)
}

func (c *Client) Do(ctx context.Context, call Call) (any, error) {
	req, err := c.Request(call)
	if err != nil {
		return nil, err
	}
	env, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.interpreter.Interpret(env, call.Create)
}

// Call runs a function found at path, or on the object with the given id.
func (c *Client) Call(ctx context.Context, objectID, path, function string, args ...any) (any, error) {
	return c.Do(ctx, Call{
		ObjectID: objectID,
		Path:     path,
		Function: function,
		Args:     args,
	})
}

// Attr reads the attribute name of the object with the given id.
func (c *Client) Attr(ctx context.Context, objectID, name string) (any, error) {
	return c.Do(ctx, Call{
		ObjectID:   objectID,
		Function:   name,
		IsProperty: true,
	})
}

// Item indexes the object with the given id.
func (c *Client) Item(ctx context.Context, objectID string, key any) (any, error) {
	return c.Do(ctx, Call{
		ObjectID: objectID,
		Function: "__getitem__",
		Args:     []any{key},
		IsItem:   true,
	})
}

// Construct creates a server object through path.function and wraps it in the
// proxy registered for class without constructing it twice.
func (c *Client) Construct(ctx context.Context, class, path, function string, args ...any) (any, error) {
	value, err := c.Do(ctx, Call{
		Path:     path,
		Function: function,
		Args:     args,
		Create:   true,
	})
	if err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case string:
		return c.registry.Construct(class, Instance{ID: v, client: c})
	case Instance:
		return c.registry.Construct(class, v)
	default:
		return nil, errorf(Protocol, nil, "constructor %s.%s returned %T, not an object", path, function, value)
	}
}

// Execute returns the accepted envelope for req, from the cache when allowed.
func (c *Client) Execute(ctx context.Context, req CallRequest) (Envelope, error) {
	if !req.Cache {
		return c.roundTrip(ctx, req)
	}
	if env, ok := c.cache.Get(req.Digest); ok {
		c.logger.Debug("using local cache", zap.String("digest", req.Digest))
		return env, nil
	}
	// The shared round trip is detached from any single caller and bounded by
	// the poll budget; each caller still stops waiting when its own ctx ends.
	results := c.flight.DoChan(req.Digest, func() (any, error) {
		return c.roundTrip(context.WithoutCancel(ctx), req)
	})
	select {
	case result := <-results:
		if result.Err != nil {
			return Envelope{}, result.Err
		}
		if result.Shared {
			c.logger.Debug("joined in-flight call", zap.String("digest", req.Digest))
		}
		return result.Val.(Envelope).clone(), nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (c *Client) roundTrip(parent context.Context, req CallRequest) (env Envelope, err error) {
	ctx := parent
	if c.config.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.config.PollTimeout)
		defer cancel()
	}
	route := c.routes.add(req.Digest)
	defer c.routes.remove(req.Digest, route)
	c.logger.Debug("sending call",
		zap.String("digest", req.Digest),
		zap.String("object", req.ObjectID),
		zap.String("path", req.Path),
		zap.String("function", req.Function))
	env, err = c.transport.Send(ctx, req)
	if err != nil {
		return Envelope{}, c.interrupted(parent, ctx, req, err)
	}
	delay := c.config.PollInterval
	for polls := 0; ; polls++ {
		err = env.validate()
		if err != nil {
			return Envelope{}, err
		}
		if env.complete() && env.Digest == req.Digest {
			break
		}
		if env.complete() {
			c.forward(env)
		}
		if c.config.PollMaxAttempts > 0 && polls >= c.config.PollMaxAttempts {
			return Envelope{}, errorf(Protocol, nil, "no completion for %s after %d polls", req.Digest, polls)
		}
		select {
		case env = <-route:
			continue
		case <-ctx.Done():
			return Envelope{}, c.interrupted(parent, ctx, req, ctx.Err())
		case <-time.After(delay):
		}
		if c.limiter != nil {
			err = c.limiter.Wait(ctx)
			if err != nil {
				if parent.Err() != nil {
					return Envelope{}, parent.Err()
				}
				return Envelope{}, errorf(Protocol, err, "no completion for %s within %v", req.Digest, c.config.PollTimeout)
			}
		}
		env, err = c.transport.Poll(ctx)
		if err != nil {
			return Envelope{}, c.interrupted(parent, ctx, req, err)
		}
		delay = min(delay*2, c.config.PollMaxInterval)
	}
	if req.Cache && c.cache.Put(req.Digest, env) {
		c.logger.Debug("stored response", zap.String("digest", req.Digest))
	}
	return env, nil
}

// forward hands a completion that belongs to another in-flight call of this
// client to its waiter. Completions nobody here waits for are dropped.
func (c *Client) forward(env Envelope) {
	if c.routes.deliver(env) {
		c.logger.Debug("routed completion", zap.String("digest", env.Digest))
		return
	}
	c.logger.Debug("discarded completion", zap.String("digest", env.Digest))
}

// interrupted classifies an error that ended a round trip. The caller's own
// cancellation is returned as is; running out of the poll budget is a
// protocol error; anything else, like a network failure, passes through.
func (c *Client) interrupted(parent, ctx context.Context, req CallRequest, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if ctx.Err() != nil {
		return errorf(Protocol, ctx.Err(), "no completion for %s within %v", req.Digest, c.config.PollTimeout)
	}
	return err
}

// Clear drops the local cache and tells the server to discard its objects, so
// digests of a fresh server never hit entries of the old one.
func (c *Client) Clear(ctx context.Context) error {
	c.cache.Clear()
	err := c.transport.Clear(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("cleared server state")
	return nil
}

func (c *Client) Close() (err error) {
	if t, ok := c.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	for _, closer := range c.closers {
		closeErr := closer.Close()
		if err == nil {
			err = closeErr
		} else if closeErr != nil {
			c.logger.Warn("close failed", zap.Error(closeErr))
		}
	}
	return
}
