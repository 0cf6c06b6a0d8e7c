package clients

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

const VALKEY_PING_TIMEOUT = 3 * time.Second

type ValkeyOptions struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	// ForceSingleClient skips cluster topology discovery.
	ForceSingleClient bool
}

func (o ValkeyOptions) clientOption() valkey.ClientOption {
	opts := valkey.ClientOption{
		InitAddress:       []string{o.Addr},
		Password:          o.Password,
		ConnWriteTimeout:  5 * time.Second,
		SelectDB:          o.DB,
		DisableCache:      true,
		ForceSingleClient: o.ForceSingleClient,
	}
	if o.TLS {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: false}
	}
	return opts
}

// ValkeyClient owns one connection to the queue broker. A connection error drops the
// underlying client so the next command dials again.
type ValkeyClient struct {
	client valkey.Client
	opts   ValkeyOptions
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewValkeyClient dials once and pings. It does not retry.
func NewValkeyClient(ctx context.Context, opts ValkeyOptions, logger *slog.Logger) (*ValkeyClient, error) {
	client, err := dialValkey(ctx, opts)
	if err != nil {
		return nil, err
	}

	logger.Info("[ValkeyClient] Successfully connected to valkey",
		slog.String("addr", opts.Addr),
		slog.Int("db", opts.DB))

	return &ValkeyClient{client: client, opts: opts, logger: logger}, nil
}

func dialValkey(ctx context.Context, opts ValkeyOptions) (valkey.Client, error) {
	client, err := valkey.NewClient(opts.clientOption())
	if err != nil {
		return nil, fmt.Errorf("[ValkeyClient] failed to create Valkey: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, VALKEY_PING_TIMEOUT)
	defer cancel()

	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("[ValkeyClient] failed to ping Valkey: %w", err)
	}
	return client, nil
}

func (vc *ValkeyClient) current() valkey.Client {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	return vc.client
}

// B returns a command builder bound to the current connection.
func (vc *ValkeyClient) B() valkey.Builder {
	return vc.current().B()
}

func (vc *ValkeyClient) Do(ctx context.Context, cmd valkey.Completed) valkey.ValkeyResult {
	result := vc.current().Do(ctx, cmd)
	if isConnectionError(result.Error()) {
		vc.recreateClient(ctx)
	}
	return result
}

func (vc *ValkeyClient) DoMulti(ctx context.Context, cmds ...valkey.Completed) []valkey.ValkeyResult {
	results := vc.current().DoMulti(ctx, cmds...)
	for _, r := range results {
		if isConnectionError(r.Error()) {
			vc.recreateClient(ctx)
			break
		}
	}
	return results
}

// FirstError returns the first non-nil error of a pipelined call.
func FirstError(results []valkey.ValkeyResult) error {
	for _, r := range results {
		if err := r.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (vc *ValkeyClient) Ping(ctx context.Context) error {
	return vc.Do(ctx, vc.B().Ping().Build()).Error()
}

func (vc *ValkeyClient) recreateClient(ctx context.Context) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	vc.logger.Warn("[ValkeyClient] Attempting to recreate Valkey client...")
	client, err := dialValkey(context.WithoutCancel(ctx), vc.opts)
	if err != nil {
		vc.logger.Error("[ValkeyClient] Recreate failed",
			slog.String("error", err.Error()))
		return
	}

	vc.client.Close()
	vc.client = client
	vc.logger.Info("[ValkeyClient] Successfully reconnected to valkey")
}

func (vc *ValkeyClient) Close() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if vc.client != nil {
		vc.client.Close()
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "i/o timeout")
}
