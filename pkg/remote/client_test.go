package remote_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/orangootan/remote/pkg/remote"
	"github.com/orangootan/remote/pkg/remote/remotetest"
)

func testConfig(url string) remote.Config {
	config := remote.DefaultConfig()
	config.URL = url
	config.PollInterval = time.Millisecond
	config.PollMaxInterval = 5 * time.Millisecond
	config.PollRate = 0
	config.PollTimeout = 5 * time.Second
	return config
}

func newClient(t *testing.T, config remote.Config, opts ...remote.Option) *remote.Client {
	t.Helper()
	opts = append([]remote.Option{
		remote.WithLogger(zaptest.NewLogger(t)),
		remote.WithOutput(io.Discard),
	}, opts...)
	client, err := remote.NewClient("test", config, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func mathServer(t *testing.T) *remotetest.Server {
	t.Helper()
	server := remotetest.NewServer("math")
	server.SetLogger(zaptest.NewLogger(t))
	server.Handle("math.add", func(req remote.CallRequest) remotetest.Result {
		return remotetest.Value(req.Args[0].(float64) + req.Args[1].(float64))
	})
	server.Start()
	t.Cleanup(server.Close)
	return server
}

func TestCallCachesIdenticalRequests(t *testing.T) {
	server := mathServer(t)
	client := newClient(t, testConfig(server.URL()))
	ctx := context.Background()

	first, err := client.Call(ctx, "", "math", "add", 2, 3)
	require.NoError(t, err)
	second, err := client.Call(ctx, "", "math", "add", 2, 3)
	require.NoError(t, err)

	assert.Equal(t, 5.0, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, server.Calls())
	assert.Equal(t, 1, client.Cache().Len())
	assert.True(t, server.Requests()[0].Cache)
}

func TestCallWithoutCaching(t *testing.T) {
	server := mathServer(t)
	config := testConfig(server.URL())
	config.Caching = false
	client := newClient(t, config)
	ctx := context.Background()

	for range 2 {
		value, err := client.Call(ctx, "", "math", "add", 2, 3)
		require.NoError(t, err)
		assert.Equal(t, 5.0, value)
	}
	assert.Equal(t, 2, server.Calls())
	assert.Equal(t, 0, client.Cache().Len())
	assert.False(t, server.Requests()[0].Cache)
}

func TestCallCacheOverride(t *testing.T) {
	server := mathServer(t)
	client := newClient(t, testConfig(server.URL()))
	ctx := context.Background()
	off := false

	for range 2 {
		_, err := client.Do(ctx, remote.Call{Path: "math", Function: "add", Args: []any{1, 1}, Cache: &off})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, server.Calls())
	assert.Equal(t, 0, client.Cache().Len())
}

func TestClearForcesRoundTrip(t *testing.T) {
	server := mathServer(t)
	client := newClient(t, testConfig(server.URL()))
	ctx := context.Background()

	_, err := client.Call(ctx, "", "math", "add", 2, 3)
	require.NoError(t, err)
	require.NoError(t, client.Clear(ctx))
	assert.Equal(t, 0, client.Cache().Len())
	_, err = client.Call(ctx, "", "math", "add", 2, 3)
	require.NoError(t, err)

	assert.Equal(t, 2, server.Calls())
	assert.Equal(t, 1, server.Clears())
}

func TestExceptionIsNotCached(t *testing.T) {
	server := remotetest.NewServer("failing")
	server.Handle("explode", func(remote.CallRequest) remotetest.Result {
		return remotetest.Failure("ZeroDivisionError: %s", "division by zero")
	})
	server.Start()
	defer server.Close()
	client := newClient(t, testConfig(server.URL()))

	for range 2 {
		_, err := client.Call(context.Background(), "", "", "explode")
		require.ErrorIs(t, err, remote.RemoteExecutionError)
		assert.Equal(t, "ZeroDivisionError: division by zero", err.Error())
	}
	assert.Equal(t, 2, server.Calls())
	assert.Equal(t, 0, client.Cache().Len())
}

func TestStdoutIsPrinted(t *testing.T) {
	server := remotetest.NewServer("printer")
	server.Handle("show", func(remote.CallRequest) remotetest.Result {
		return remotetest.Result{Value: "done", Stdout: []string{"line 1", "line 2"}}
	})
	server.Start()
	defer server.Close()
	var out bytes.Buffer
	client := newClient(t, testConfig(server.URL()), remote.WithOutput(&out))

	value, err := client.Call(context.Background(), "", "", "show")
	require.NoError(t, err)
	assert.Equal(t, "done", value)
	assert.Equal(t, "line 1\nline 2\n", out.String())
}

func TestAsyncCompletionSkipsForeignDigests(t *testing.T) {
	server := mathServer(t)
	server.SetAsync(true)
	server.Inject(remote.Envelope{Status: remote.StatusComplete, Digest: "someone-else", Value: 1.0, Stdout: []string{}})
	client := newClient(t, testConfig(server.URL()))

	value, err := client.Call(context.Background(), "", "math", "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5.0, value)
	assert.GreaterOrEqual(t, server.Polls(), 2)
	assert.Equal(t, 1, client.Cache().Len())
}

func TestConcurrentCallsRouteCompletions(t *testing.T) {
	server := mathServer(t)
	server.SetAsync(true)
	client := newClient(t, testConfig(server.URL()))

	var g errgroup.Group
	results := make([]any, 8)
	for i := range results {
		g.Go(func() (err error) {
			results[i], err = client.Call(context.Background(), "", "math", "add", i, 100)
			return
		})
	}
	require.NoError(t, g.Wait())
	for i, result := range results {
		assert.Equal(t, float64(i+100), result)
	}
	assert.Equal(t, len(results), server.Calls())
}

func TestIdenticalConcurrentCallsShareOneRoundTrip(t *testing.T) {
	server := remotetest.NewServer("slow")
	server.Handle("slow", func(remote.CallRequest) remotetest.Result {
		time.Sleep(100 * time.Millisecond)
		return remotetest.Value(1.0)
	})
	server.Start()
	defer server.Close()
	client := newClient(t, testConfig(server.URL()))

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			value, err := client.Call(context.Background(), "", "", "slow")
			if err == nil && value != 1.0 {
				err = errors.New("unexpected value")
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, server.Calls())
}

func TestCancelledCallerDoesNotFailSharedCall(t *testing.T) {
	server := remotetest.NewServer("slow")
	server.Handle("slow", func(remote.CallRequest) remotetest.Result {
		time.Sleep(300 * time.Millisecond)
		return remotetest.Value(1.0)
	})
	server.Start()
	defer server.Close()
	client := newClient(t, testConfig(server.URL()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	var g errgroup.Group
	var cancelled error
	g.Go(func() error {
		_, cancelled = client.Call(ctx, "", "", "slow")
		return nil
	})
	var value any
	g.Go(func() (err error) {
		time.Sleep(20 * time.Millisecond)
		value, err = client.Call(context.Background(), "", "", "slow")
		return
	})
	require.NoError(t, g.Wait())
	require.ErrorIs(t, cancelled, context.Canceled)
	assert.Equal(t, 1.0, value)
	assert.Equal(t, 1, server.Calls())
}

func TestCachedResultsAreIndependentCopies(t *testing.T) {
	server := remotetest.NewServer("cfg")
	server.Handle("cfg.get", func(remote.CallRequest) remotetest.Result {
		return remotetest.Value(map[string]any{"k": "v"})
	})
	server.Start()
	defer server.Close()
	client := newClient(t, testConfig(server.URL()))
	ctx := context.Background()

	first, err := client.Call(ctx, "", "cfg", "get")
	require.NoError(t, err)
	first.(map[string]any)["k"] = "mutated"

	second, err := client.Call(ctx, "", "cfg", "get")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, second)
	assert.Equal(t, 1, server.Calls())
}

func TestUncachedDuplicateCallsAllComplete(t *testing.T) {
	var mu sync.Mutex
	var queue []remote.Envelope
	var last remote.Envelope
	sent := 0
	pending := remote.Envelope{Status: remote.StatusPending}
	transport := &fakeTransport{
		send: func(req remote.CallRequest) (remote.Envelope, error) {
			mu.Lock()
			defer mu.Unlock()
			done := remote.Envelope{Status: remote.StatusComplete, Digest: req.Digest, Value: req.Function}
			if req.Function == "other" {
				last = done
			} else {
				queue = append(queue, done)
			}
			sent++
			return pending, nil
		},
		poll: func() (remote.Envelope, error) {
			mu.Lock()
			defer mu.Unlock()
			// Completions are released once every call waits, the other
			// call's own completion last.
			switch {
			case sent < 4:
				return pending, nil
			case len(queue) > 0:
				env := queue[0]
				queue = queue[1:]
				return env, nil
			case last.Digest != "":
				env := last
				last = remote.Envelope{}
				return env, nil
			}
			return pending, nil
		},
	}
	config := testConfig("http://fake.invalid")
	config.Caching = false
	config.PollTimeout = 2 * time.Second
	client := newClient(t, config, remote.WithTransport(transport))

	var g errgroup.Group
	results := make([]any, 4)
	for i := range results {
		function := "dup"
		if i == 0 {
			function = "other"
		}
		g.Go(func() (err error) {
			results[i], err = client.Call(context.Background(), "", "", function)
			return
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, []any{"other", "dup", "dup", "dup"}, results)
}

func TestObjectHandles(t *testing.T) {
	server := remotetest.NewServer("objects")
	frameID := server.Store([]float64{1, 2, 3})
	server.Handle("load", func(remote.CallRequest) remotetest.Result {
		return remotetest.Object(frameID, remote.DefaultObjectClass)
	})
	server.Handle("*", func(req remote.CallRequest) remotetest.Result {
		if req.ObjectID != frameID {
			return remotetest.Failure("unknown object %s", req.ObjectID)
		}
		switch {
		case req.IsProperty && req.Function == "size":
			return remotetest.Value(3)
		case req.IsItem && req.Function == "__getitem__":
			return remotetest.Value(req.Args[0])
		case req.Function == "join":
			return remotetest.Value(req.Args[0])
		}
		return remotetest.Failure("unexpected call %s", req.Function)
	})
	server.Start()
	defer server.Close()
	client := newClient(t, testConfig(server.URL()))
	ctx := context.Background()

	value, err := client.Call(ctx, "", "", "load")
	require.NoError(t, err)
	frame := value.(remote.Instance)
	assert.Equal(t, frameID, frame.ID)
	assert.False(t, frame.Cached)

	size, err := frame.Attr(ctx, "size")
	require.NoError(t, err)
	assert.Equal(t, 3.0, size)

	item, err := frame.Item(ctx, "col")
	require.NoError(t, err)
	assert.Equal(t, "col", item)

	joined, err := frame.Call(ctx, "join", frame)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"_PROXY_ID": frameID}, joined)

	again, err := client.Call(ctx, "", "", "load")
	require.NoError(t, err)
	assert.True(t, again.(remote.Instance).Cached)
}

func TestFunctionHandleInvokesItself(t *testing.T) {
	server := remotetest.NewServer("functions")
	server.Handle("make_adder", func(req remote.CallRequest) remotetest.Result {
		return remotetest.Object(server.Store(req.Args[0]), remote.FunctionClass)
	})
	server.Handle("", func(req remote.CallRequest) remotetest.Result {
		base, _ := server.Object(req.ObjectID)
		return remotetest.Value(base.(float64) + req.Args[0].(float64))
	})
	server.Start()
	defer server.Close()
	client := newClient(t, testConfig(server.URL()))
	ctx := context.Background()

	value, err := client.Call(ctx, "", "", "make_adder", 10)
	require.NoError(t, err)
	adder := value.(remote.Function)
	add := adder.Func()
	sum, err := add(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 15.0, sum)

	last := server.Requests()[1]
	assert.Equal(t, adder.ID, last.ObjectID)
	assert.Equal(t, remote.Invoke, last.Function)
}

type widget struct {
	remote.Instance
}

func TestConstructWrapsOnce(t *testing.T) {
	registry := remote.NewRegistry()
	remote.Register(registry, "Widget", func(i remote.Instance) *widget { return &widget{Instance: i} })
	server := remotetest.NewServer("widgets")
	server.Handle("widgets.new", func(req remote.CallRequest) remotetest.Result {
		return remotetest.Object("o9", "Widget")
	})
	server.Handle("name", func(req remote.CallRequest) remotetest.Result {
		return remotetest.Value("widget " + req.ObjectID)
	})
	server.Start()
	defer server.Close()
	client := newClient(t, testConfig(server.URL()), remote.WithRegistry(registry))
	ctx := context.Background()

	value, err := client.Construct(ctx, "Widget", "widgets", "new")
	require.NoError(t, err)
	w := value.(*widget)
	assert.Equal(t, "o9", w.ID)
	assert.Equal(t, "Widget", w.Type)
	assert.Equal(t, 1, server.Calls())

	name, err := w.Call(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "widget o9", name)

	got, err := remote.Get[*widget](client, "o9")
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	_, err = client.Construct(ctx, "Gadget", "widgets", "new")
	require.ErrorIs(t, err, remote.UnknownTypeError)
}

func TestLambdaAndPickledValues(t *testing.T) {
	server := remotetest.NewServer("lambdas")
	server.Handle("apply", func(req remote.CallRequest) remotetest.Result {
		blob, ok := req.Args[0].(map[string]any)["_CLOUDPICKLE"].(string)
		if !ok {
			return remotetest.Failure("no lambda")
		}
		if _, err := remote.DecodeBlob(blob); err != nil {
			return remotetest.Failure("%v", err)
		}
		return remotetest.Pickled(map[string]any{"rows": 2})
	})
	server.Start()
	defer server.Close()
	client := newClient(t, testConfig(server.URL()))

	double := remote.NewLambda("double", "lambda x: x * n").Capture("n", 2)
	value, err := client.Call(context.Background(), "", "", "apply", double)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rows": 2}, value)

	_, err = client.Call(context.Background(), "", "", "apply", func() {})
	require.ErrorIs(t, err, remote.SerializationError)
	assert.Equal(t, 1, server.Calls())
}

func TestPickleFunctionsTravelPacked(t *testing.T) {
	server := remotetest.NewServer("udf")
	server.Handle("udf", func(req remote.CallRequest) remotetest.Result {
		args, err := remote.DecodeBlob(req.PackedArgs)
		if err != nil {
			return remotetest.Failure("%v", err)
		}
		return remotetest.Value(args.([]any)[0])
	})
	server.Start()
	defer server.Close()
	config := testConfig(server.URL())
	config.PickleFunctions = []string{"udf"}
	client := newClient(t, config)

	value, err := client.Call(context.Background(), "", "", "udf", "plus_one")
	require.NoError(t, err)
	assert.Equal(t, "plus_one", value)
}

type fakeTransport struct {
	send  func(req remote.CallRequest) (remote.Envelope, error)
	polls atomic.Int64
	poll  func() (remote.Envelope, error)
}

func (f *fakeTransport) Send(_ context.Context, req remote.CallRequest) (remote.Envelope, error) {
	return f.send(req)
}

func (f *fakeTransport) Poll(context.Context) (remote.Envelope, error) {
	f.polls.Add(1)
	return f.poll()
}

func (f *fakeTransport) Clear(context.Context) error {
	return nil
}

func pendingForever() *fakeTransport {
	pending := func() (remote.Envelope, error) {
		return remote.Envelope{Status: remote.StatusPending}, nil
	}
	return &fakeTransport{
		send: func(remote.CallRequest) (remote.Envelope, error) { return pending() },
		poll: pending,
	}
}

func TestPollingGivesUpAfterMaxAttempts(t *testing.T) {
	transport := pendingForever()
	config := testConfig("http://fake.invalid")
	config.PollMaxAttempts = 3
	client := newClient(t, config, remote.WithTransport(transport))

	_, err := client.Call(context.Background(), "", "", "never")
	require.ErrorIs(t, err, remote.ProtocolError)
	assert.EqualValues(t, 3, transport.polls.Load())
}

func TestPollingGivesUpAfterTimeout(t *testing.T) {
	config := testConfig("http://fake.invalid")
	config.PollTimeout = 30 * time.Millisecond
	client := newClient(t, config, remote.WithTransport(pendingForever()))

	_, err := client.Call(context.Background(), "", "", "never")
	require.ErrorIs(t, err, remote.ProtocolError)
}

func TestPollingStopsOnCancel(t *testing.T) {
	client := newClient(t, testConfig("http://fake.invalid"), remote.WithTransport(pendingForever()))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Call(ctx, "", "", "never")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, remote.ProtocolError)
}

func TestMalformedEnvelope(t *testing.T) {
	transport := &fakeTransport{
		send: func(remote.CallRequest) (remote.Envelope, error) {
			return remote.Envelope{Status: "exploded"}, nil
		},
	}
	client := newClient(t, testConfig("http://fake.invalid"), remote.WithTransport(transport))

	_, err := client.Call(context.Background(), "", "", "f")
	require.ErrorIs(t, err, remote.ProtocolError)
}

func TestNetworkErrorsPropagate(t *testing.T) {
	refused := errors.New("connection refused")
	var sends atomic.Int64
	transport := &fakeTransport{
		send: func(remote.CallRequest) (remote.Envelope, error) {
			sends.Add(1)
			return remote.Envelope{}, refused
		},
	}
	client := newClient(t, testConfig("http://fake.invalid"), remote.WithTransport(transport))

	_, err := client.Call(context.Background(), "", "", "f")
	require.ErrorIs(t, err, refused)
	assert.EqualValues(t, 1, sends.Load())
}

func TestUnreachableServer(t *testing.T) {
	client := newClient(t, testConfig("http://127.0.0.1:1"))
	_, err := client.Call(context.Background(), "", "", "f")
	require.Error(t, err)
	assert.NotErrorIs(t, err, remote.RemoteExecutionError)
}

func TestClientLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	server := remotetest.NewServer("leak")
	server.Handle("ping", func(remote.CallRequest) remotetest.Result {
		return remotetest.Value("pong")
	})
	server.SetAsync(true)
	server.Start()
	client, err := remote.NewClient("leak", testConfig(server.URL()), remote.WithOutput(io.Discard))
	require.NoError(t, err)

	value, err := client.Call(context.Background(), "", "", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", value)

	require.NoError(t, client.Close())
	server.Close()
}
