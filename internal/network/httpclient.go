// File: internal/network/httpclient.go
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkoreth/quill-cli/internal/config"
	"github.com/xkoreth/quill-cli/internal/observability"
)

// Constants for default TCP/HTTP settings.
const (
	DefaultDialTimeout           = 5 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 5 * time.Second
	DefaultResponseHeaderTimeout = 10 * time.Second
	DefaultRequestTimeout        = 30 * time.Second

	// Connection pool sizes tuned for an interactive command client: one
	// relay endpoint, a handful of stateless hosts, never hundreds.
	DefaultMaxIdleConns        = 10
	DefaultMaxIdleConnsPerHost = 4
	DefaultMaxConnsPerHost     = 8
	DefaultIdleConnTimeout     = 90 * time.Second
)

// requiredMinTLSVersion is enforced even when a caller supplies a weaker
// custom TLS configuration.
const requiredMinTLSVersion = tls.VersionTLS12

// defaultSecureCipherSuites restricts TLS 1.2 connections to forward-secret
// AEAD suites. TLS 1.3 suites are not configurable and ignore this list.
var defaultSecureCipherSuites = []uint16{
	tls.TLS_AES_256_GCM_SHA384,
	tls.TLS_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// ClientConfig holds the configuration for the HTTP client and transport layers.
type ClientConfig struct {
	// Security settings
	IgnoreTLSErrors bool
	TLSConfig       *tls.Config // Allows advanced customization if needed

	// Timeout settings
	RequestTimeout        time.Duration // Overall client timeout
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	// Dialer configuration (TCP layer)
	DialerConfig *DialerConfig

	// Connection pool settings
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	// Protocol settings
	ForceHTTP2        bool
	DisableKeepAlives bool

	// Proxy settings
	ProxyURL *url.URL

	// Headers applied to every outgoing request unless the request already
	// sets them.
	Headers map[string]string

	// Logger
	Logger *zap.Logger
}

// Client wraps the standard http.Client.
//
// Embedding the standard client inherits all its methods (Do, Get, Post),
// so it drops in anywhere an *http.Client is expected. The wrapped transport
// transparently decodes br/gzip/deflate response bodies.
//
// The caller remains responsible for closing Response.Body after consuming it.
type Client struct {
	*http.Client
}

// NewDefaultClientConfig creates a configuration suitable for one-shot command
// exchanges against HTTPS endpoints.
func NewDefaultClientConfig() *ClientConfig {
	dialerCfg := NewDialerConfig()
	dialerCfg.Timeout = DefaultDialTimeout
	dialerCfg.KeepAlive = DefaultKeepAliveInterval
	// Command frames are small and latency matters more than throughput.
	dialerCfg.ForceNoDelay = true

	return &ClientConfig{
		DialerConfig:          dialerCfg,
		IgnoreTLSErrors:       false,
		RequestTimeout:        DefaultRequestTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		MaxConnsPerHost:       DefaultMaxConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ForceHTTP2:            true,
		DisableKeepAlives:     false,
		Logger:                observability.GetLogger().Named("httpclient"),
	}
}

// NewClientConfig maps the network section of the application configuration
// onto a ClientConfig, validating the proxy URL if one is set.
func NewClientConfig(netCfg config.NetworkConfig, logger *zap.Logger) (*ClientConfig, error) {
	cfg := NewDefaultClientConfig()
	if logger != nil {
		cfg.Logger = logger.Named("httpclient")
	}

	if netCfg.Timeout > 0 {
		cfg.RequestTimeout = netCfg.Timeout
	}
	cfg.IgnoreTLSErrors = netCfg.IgnoreTLSErrors
	if len(netCfg.Headers) > 0 {
		cfg.Headers = make(map[string]string, len(netCfg.Headers))
		for k, v := range netCfg.Headers {
			cfg.Headers[k] = v
		}
	}

	if netCfg.ProxyURL != "" {
		proxyURL, err := url.Parse(netCfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", netCfg.ProxyURL, err)
		}
		switch proxyURL.Scheme {
		case "http", "https", "socks5":
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
		}
		cfg.ProxyURL = proxyURL
	}

	return cfg, nil
}

// NewHTTPTransport creates and configures an http.Transport based on the provided configuration.
func NewHTTPTransport(config *ClientConfig) *http.Transport {
	if config == nil {
		config = NewDefaultClientConfig()
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	if config.DialerConfig == nil {
		config.DialerConfig = NewDefaultClientConfig().DialerConfig
	}

	tlsConfig := configureTLS(config)

	dialerConfig := *config.DialerConfig

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return DialTCPContext(ctx, network, addr, &dialerConfig)
		},
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		DisableKeepAlives:     config.DisableKeepAlives,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		// The CompressionMiddleware negotiates and decodes encodings itself.
		DisableCompression: true,
		ForceAttemptHTTP2:  config.ForceHTTP2,
	}

	if config.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(config.ProxyURL)
	}

	if config.ForceHTTP2 {
		// http2.ConfigureTransport modifies the transport in place to add HTTP/2 support.
		if err := http2.ConfigureTransport(transport); err != nil {
			config.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	} else if tlsConfig != nil && len(tlsConfig.NextProtos) == 0 {
		// Pin ALPN to HTTP/1.1 when HTTP/2 is disabled.
		tlsConfig.NextProtos = []string{"http/1.1"}
	}

	return transport
}

// NewClient creates the client wrapper with the configured transport chain:
// default headers, then transparent decompression, then the hardened transport.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = NewDefaultClientConfig()
	}

	var rt http.RoundTripper = NewHTTPTransport(config)
	rt = NewCompressionMiddleware(rt)
	if len(config.Headers) > 0 {
		rt = &headerRoundTripper{next: rt, headers: config.Headers}
	}

	standardClient := &http.Client{
		Transport: rt,
		Timeout:   config.RequestTimeout,
		// Redirects are surfaced to the caller instead of followed. A signed
		// command must not be silently re-sent to a host the user never named.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &Client{
		Client: standardClient,
	}
}

// headerRoundTripper injects configured default headers without clobbering
// values the caller set explicitly.
type headerRoundTripper struct {
	next    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range h.headers {
		if clone.Header.Get(k) == "" {
			clone.Header.Set(k, v)
		}
	}
	return h.next.RoundTrip(clone)
}

// configureTLS builds the TLS configuration. A caller-provided config is
// cloned, missing fields are filled with the secure defaults, and the minimum
// version is never allowed below TLS 1.2.
func configureTLS(config *ClientConfig) *tls.Config {
	if config == nil {
		config = NewDefaultClientConfig()
	}

	var tlsConfig *tls.Config
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{}
	}

	if tlsConfig.MinVersion < requiredMinTLSVersion {
		tlsConfig.MinVersion = requiredMinTLSVersion
	}
	if len(tlsConfig.CipherSuites) == 0 {
		tlsConfig.CipherSuites = defaultSecureCipherSuites
	}
	if tlsConfig.ClientSessionCache == nil {
		// Session resumption keeps repeated stateless commands cheap.
		tlsConfig.ClientSessionCache = tls.NewLRUClientSessionCache(64)
	}

	tlsConfig.InsecureSkipVerify = config.IgnoreTLSErrors

	return tlsConfig
}
