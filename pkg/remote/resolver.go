package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Resolver tells the transport where the execution server lives.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Resolvers that cache what they found also implement invalidator, so the
// transport can make them look again after the server went away.
type invalidator interface {
	Invalidate()
}

type StaticResolver string

func (r StaticResolver) Resolve(context.Context) (string, error) {
	if r == "" {
		return "", NewError(Protocol, "no server url configured")
	}
	return strings.TrimRight(string(r), "/"), nil
}

// EtcdResolver reads the server url from a single etcd key and remembers it
// until Invalidate is called.
type EtcdResolver struct {
	client *clientv3.Client
	key    string
	mu     sync.Mutex
	url    string
}

func NewEtcdResolver(config EtcdConfig) (*EtcdResolver, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	key := config.Key
	if key == "" {
		key = DefaultEtcdKey
	}
	return &EtcdResolver{client: client, key: key}, nil
}

func (r *EtcdResolver) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.url != "" {
		return r.url, nil
	}
	resp, err := r.client.Get(ctx, r.key)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", r.key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", errorf(Protocol, nil, "no server announced under %s", r.key)
	}
	r.url = strings.TrimRight(string(resp.Kvs[0].Value), "/")
	return r.url, nil
}

func (r *EtcdResolver) Invalidate() {
	r.mu.Lock()
	r.url = ""
	r.mu.Unlock()
}

func (r *EtcdResolver) Close() error {
	return r.client.Close()
}

// PublishEndpoint announces url under the configured key for ttl seconds and
// keeps the lease alive until ctx ends.
func PublishEndpoint(ctx context.Context, config EtcdConfig, url string, ttl int64) (err error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
	})
	if err != nil {
		return
	}
	key := config.Key
	if key == "" {
		key = DefaultEtcdKey
	}
	lease, err := client.Grant(ctx, ttl)
	if err != nil {
		client.Close()
		return
	}
	_, err = client.Put(ctx, key, url, clientv3.WithLease(lease.ID))
	if err != nil {
		client.Close()
		return
	}
	ch, err := client.KeepAlive(ctx, lease.ID)
	if err != nil {
		client.Close()
		return
	}
	go func() {
		defer client.Close()
		for range ch {
		}
	}()
	return
}
