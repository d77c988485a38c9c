package downstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"relay-gateway/internal/core/ports"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Options describes one downstream endpoint.
type Options struct {
	// Name labels logs and health checks, e.g. "publisher".
	Name   string
	Target string
	// Method is the full gRPC method, e.g. "/publisher.v1.Publisher/PublishContent".
	Method string
	Secure bool
	// CAFile overrides the system roots when Secure is set.
	CAFile      string
	DialOptions []grpc.DialOption
}

// Client implements ports.DownstreamClient over a single gRPC connection.
type Client struct {
	name   string
	method string
	conn   *grpc.ClientConn
	schema *contentSchema
	log    zerolog.Logger
}

// Dial creates a client. The connection is established lazily on the first
// call, so an unreachable downstream surfaces as an Unavailable error then.
func Dial(opts Options, log zerolog.Logger) (*Client, error) {
	if opts.Method == "" {
		return nil, errors.New("downstream method is required")
	}
	s, err := loadSchema()
	if err != nil {
		return nil, err
	}

	creds, err := transportCredentials(opts)
	if err != nil {
		return nil, err
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts.DialOptions...)

	conn, err := grpc.NewClient(opts.Target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client for %s: %w", opts.Name, opts.Target, err)
	}

	log.Info().
		Str("downstream", opts.Name).
		Str("target", opts.Target).
		Bool("tls", opts.Secure).
		Msg("Downstream client configured")

	return &Client{
		name:   opts.Name,
		method: opts.Method,
		conn:   conn,
		schema: s,
		log:    log.With().Str("downstream", opts.Name).Logger(),
	}, nil
}

func transportCredentials(opts Options) (credentials.TransportCredentials, error) {
	if !opts.Secure {
		return insecure.NewCredentials(), nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		cfg.RootCAs = pool
	}
	return credentials.NewTLS(cfg), nil
}

// PublishContent performs exactly one unary call. A deadline expiry is
// reported as an error wrapping context.DeadlineExceeded.
func (c *Client) PublishContent(ctx context.Context, req ports.DownstreamRequest) (*ports.DownstreamResponse, error) {
	in := dynamicpb.NewMessage(c.schema.request)
	in.Set(c.schema.content, protoreflect.ValueOfString(req.Content))
	md := in.Mutable(c.schema.metadata).Map()
	for k, v := range req.Metadata {
		md.Set(protoreflect.ValueOfString(k).MapKey(), protoreflect.ValueOfString(v))
	}

	out := dynamicpb.NewMessage(c.schema.response)
	start := time.Now()
	if err := c.conn.Invoke(ctx, c.method, in, out); err != nil {
		c.log.Debug().Err(err).Dur("elapsed", time.Since(start)).Msg("PublishContent failed")
		return nil, c.classify(ctx, err)
	}

	return &ports.DownstreamResponse{
		Success:           out.Get(c.schema.success).Bool(),
		Message:           out.Get(c.schema.message).String(),
		PublisherResponse: out.Get(c.schema.publisherResponse).String(),
	}, nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	if status.Code(err) == codes.DeadlineExceeded || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w: %w", c.name, c.method, context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%s %s: %w", c.name, c.method, err)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// HealthCheck implements ports.HealthChecker from the connection state. It
// never dials, so an idle connection is reported healthy.
type HealthCheck struct {
	client *Client
}

func NewHealthCheck(client *Client) *HealthCheck {
	return &HealthCheck{client: client}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	switch state := h.client.conn.GetState(); state {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return fmt.Errorf("connection is %s", state)
	default:
		return nil
	}
}

func (h *HealthCheck) Name() string {
	return h.client.name
}
