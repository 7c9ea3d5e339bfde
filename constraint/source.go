package constraint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Source supplies the raw bytes of a constraint set.
type Source interface {
	// Fetch returns the constraint set document.
	Fetch(ctx context.Context) ([]byte, error)

	// String describes the source for logs and errors.
	String() string
}

// FileSource reads a constraint set from a local file. If Path is a
// directory, constraints.yaml inside it is read.
type FileSource struct {
	Path string
}

// Fetch implements Source.
func (s FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "constraints.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read constraints file %s: %w", path, err)
	}
	return data, nil
}

func (s FileSource) String() string {
	return "file:" + s.Path
}

// BytesSource serves an in-memory constraint set.
type BytesSource []byte

// Fetch implements Source.
func (s BytesSource) Fetch(context.Context) ([]byte, error) {
	return []byte(s), nil
}

func (s BytesSource) String() string {
	return "inline"
}

// KV is the subset of the etcd client used by EtcdSource.
type KV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// EtcdConfig configures a connection for NewEtcdSource.
type EtcdConfig struct {
	// Endpoints lists the etcd cluster members.
	Endpoints []string

	// Namespace prefixes Key. Defaults to "ldfeed".
	Namespace string

	// Key names the constraint set within the namespace.
	Key string

	// DialTimeout bounds connection setup. Defaults to 5s.
	DialTimeout time.Duration

	// DialOptions are passed to the underlying gRPC connection.
	DialOptions []grpc.DialOption
}

// EtcdSource reads a constraint set stored under a single etcd key, so one
// constraint set can be shared by many feed producers.
type EtcdSource struct {
	kv  KV
	key string
}

// NewEtcdSource creates a source reading key from kv.
func NewEtcdSource(kv KV, key string) *EtcdSource {
	return &EtcdSource{kv: kv, key: key}
}

// DialEtcd connects to etcd and returns a source for cfg.Key together with
// the client, which the caller must close.
func DialEtcd(cfg EtcdConfig) (*EtcdSource, *clientv3.Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, nil, fmt.Errorf("etcd endpoints cannot be empty")
	}
	if cfg.Key == "" {
		return nil, nil, fmt.Errorf("etcd key cannot be empty")
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "ldfeed"
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: timeout,
		DialOptions: append([]grpc.DialOption{grpc.WithUserAgent("ldfeed")}, cfg.DialOptions...),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return NewEtcdSource(cli, fmt.Sprintf("/%s/constraints/%s", namespace, cfg.Key)), cli, nil
}

// Fetch implements Source.
func (s *EtcdSource) Fetch(ctx context.Context) ([]byte, error) {
	resp, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == codes.Unavailable {
			return nil, fmt.Errorf("etcd unavailable while reading %s: %s", s.key, st.Message())
		}
		return nil, fmt.Errorf("failed to read %s from etcd: %w", s.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("constraint set %s not found in etcd", s.key)
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdSource) String() string {
	return "etcd:" + s.key
}
