package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// ReloadNotifierConfig configures the Redis pub/sub channel used to fan
// capability reloads out to every running instance.
type ReloadNotifierConfig struct {
	Addr        string
	Addrs       []string
	Username    string
	Password    string
	Channel     string
	MasterName  string
	DialTimeout time.Duration
	Timeout     time.Duration
	Logger      *slog.Logger
	TLS         RedisTLSConfig
}

// ReloadNotifier publishes a message whenever the key collection changes
// and invokes a reload callback whenever any instance publishes one. A
// single instance without Redis configured simply reloads locally.
type ReloadNotifier struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	logger  *slog.Logger
}

// NewReloadNotifier connects to Redis and verifies reachability.
func NewReloadNotifier(cfg ReloadNotifierConfig) (*ReloadNotifier, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "metaserver:keys"
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       addrs,
		MasterName:  strings.TrimSpace(cfg.MasterName),
		Username:    strings.TrimSpace(cfg.Username),
		Password:    cfg.Password,
		TLSConfig:   tlsConfig,
		DialTimeout: cfg.DialTimeout,
		MaxRetries:  2,
	})
	notifier := &ReloadNotifier{
		client:  client,
		channel: channel,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
	if notifier.timeout <= 0 {
		notifier.timeout = 5 * time.Second
	}
	if notifier.logger == nil {
		notifier.logger = slog.Default()
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), notifier.timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return notifier, nil
}

// Publish tells every subscribed instance to reload its capability table.
func (n *ReloadNotifier) Publish(ctx context.Context) error {
	if n == nil {
		return nil
	}
	publishCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.client.Publish(publishCtx, n.channel, "reload").Err(); err != nil {
		return fmt.Errorf("publish capability reload: %w", err)
	}
	return nil
}

// Listen blocks on the reload channel, invoking the callback once per
// received message, until the context is cancelled. Callers run it in its
// own goroutine.
func (n *ReloadNotifier) Listen(ctx context.Context, reload func(context.Context) error) {
	if n == nil {
		return
	}
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-messages:
			if !ok {
				return
			}
			if err := reload(ctx); err != nil {
				n.logger.ErrorContext(ctx, "capability reload failed", "error", err)
			}
		}
	}
}

// Close releases the Redis client.
func (n *ReloadNotifier) Close() error {
	if n == nil {
		return nil
	}
	return n.client.Close()
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		certPath := filepath.Clean(cfg.CertFile)
		keyPath := filepath.Clean(cfg.KeyFile)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
