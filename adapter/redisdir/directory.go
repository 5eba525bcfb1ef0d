// Package redisdir provides a Redis-backed xhub.Directory, so the set of services
// eligible to connect survives hub restarts and can be managed out of band.
package redisdir

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xhub"
)

// Directory stores registered service names in a Redis set.
type Directory struct {
	client *redis.Client
	key    string
	owned  bool
}

var _ xhub.Directory = (*Directory)(nil)

// New connects to Redis and verifies the connection with PING.
func New(cfg Config) (*Directory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Directory{client: client, key: cfg.Key, owned: true}, nil
}

// NewFromClient wraps an existing client. Close leaves the client open.
func NewFromClient(client *redis.Client, key string) *Directory {
	if key == "" {
		key = Defaults().Key
	}
	return &Directory{client: client, key: key}
}

// Register adds name with SADD. A name already in the set returns xhub.ErrDuplicateIdentifier.
func (d *Directory) Register(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("redisdir: service name must not be empty")
	}
	added, err := d.client.SAdd(ctx, d.key, name).Result()
	if err != nil {
		return fmt.Errorf("redisdir: register %q: %w", name, err)
	}
	if added == 0 {
		return fmt.Errorf("%w: service %q", xhub.ErrDuplicateIdentifier, name)
	}
	return nil
}

// Unregister removes name. Removing an unknown name is not an error.
func (d *Directory) Unregister(ctx context.Context, name string) error {
	if err := d.client.SRem(ctx, d.key, name).Err(); err != nil {
		return fmt.Errorf("redisdir: unregister %q: %w", name, err)
	}
	return nil
}

func (d *Directory) Registered(ctx context.Context, name string) (bool, error) {
	ok, err := d.client.SIsMember(ctx, d.key, name).Result()
	if err != nil {
		return false, fmt.Errorf("redisdir: lookup %q: %w", name, err)
	}
	return ok, nil
}

func (d *Directory) Services(ctx context.Context) ([]string, error) {
	names, err := d.client.SMembers(ctx, d.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redisdir: list services: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close releases the client when the Directory created it.
func (d *Directory) Close() error {
	if !d.owned {
		return nil
	}
	return d.client.Close()
}

func ping(c *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}
	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}
