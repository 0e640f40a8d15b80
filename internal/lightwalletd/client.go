package lightwalletd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/source"
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// DefaultServer is the public server used when none is configured.
const DefaultServer = "https://zec.rocks:443"

// Options configures a Client.
type Options struct {
	// Insecure disables TLS even for https URLs.
	Insecure bool
	// Timeout bounds every call. Zero leaves deadlines to the caller.
	Timeout time.Duration
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// Client is a source.Source backed by a light-wallet server.
type Client struct {
	conn    *grpc.ClientConn
	target  string
	timeout time.Duration
	logger  zerolog.Logger
}

var (
	_ source.Source    = (*Client)(nil)
	_ source.TxFetcher = (*Client)(nil)
)

// Dial connects to a server URL such as https://host:443 or host:9067.
// The connection is established lazily on the first call.
func Dial(rawURL string, opts Options) (*Client, error) {
	target, useTLS, err := ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	creds := insecure.NewCredentials()
	if useTLS && !opts.Insecure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts.DialOptions...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	c := NewClient(conn, opts.Timeout)
	c.target = target
	return c, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn, timeout time.Duration) *Client {
	return &Client{
		conn:    conn,
		target:  conn.Target(),
		timeout: timeout,
		logger:  klog.WithComponent("lightwalletd"),
	}
}

// ParseTarget turns a server URL into a gRPC target and whether TLS is
// expected. URLs without a scheme use TLS unless the port is 9067, the
// conventional plaintext port.
func ParseTarget(rawURL string) (target string, useTLS bool, err error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", false, fmt.Errorf("empty server url")
	}
	if !strings.Contains(s, "://") {
		return s, !strings.HasSuffix(s, ":9067"), nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false, fmt.Errorf("parse server url: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("server url %q has no host", rawURL)
	}
	host := u.Host
	switch u.Scheme {
	case "https", "grpcs":
		if u.Port() == "" {
			host += ":443"
		}
		return host, true, nil
	case "http", "grpc":
		if u.Port() == "" {
			host += ":80"
		}
		return host, false, nil
	}
	return "", false, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
}

// Target returns the dialed address.
func (c *Client) Target() string { return c.target }

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// FetchBlocks implements source.Source.
func (c *Client) FetchBlocks(ctx context.Context, start, end uint64) ([]*block.CompactBlock, error) {
	if end < start {
		return nil, fmt.Errorf("%w: %d > %d", source.ErrInvalidRange, start, end)
	}
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	fail := func(err error) error {
		return classify("blocks", start, end, err)
	}

	desc := &grpc.StreamDesc{StreamName: "GetBlockRange", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, methodGetBlockRange, grpc.ForceCodec(codec{}))
	if err != nil {
		return nil, fail(err)
	}
	req := &BlockRange{Start: BlockID{Height: start}, End: BlockID{Height: end}}
	if err := stream.SendMsg(req); err != nil {
		return nil, fail(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fail(err)
	}

	blocks := make([]*block.CompactBlock, 0, end-start+1)
	for {
		var msg CompactBlock
		err := stream.RecvMsg(&msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fail(err)
		}
		want := start + uint64(len(blocks))
		if msg.Block == nil || msg.Block.Height != want {
			return nil, fail(fmt.Errorf("out of order block, want height %d", want))
		}
		blocks = append(blocks, msg.Block)
	}
	if uint64(len(blocks)) != end-start+1 {
		return nil, fail(fmt.Errorf("got %d blocks, want %d", len(blocks), end-start+1))
	}
	return blocks, nil
}

// LatestHeight implements source.Source.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var out BlockID
	if err := c.conn.Invoke(ctx, methodGetLatestBlock, &ChainSpec{}, &out, grpc.ForceCodec(codec{})); err != nil {
		return 0, classify("latest height", 0, 0, err)
	}
	return out.Height, nil
}

// TransactionHeight implements source.Source.
func (c *Client) TransactionHeight(ctx context.Context, txid types.TxID) (uint64, error) {
	raw, err := c.rawTransaction(ctx, txid)
	if err != nil {
		return 0, err
	}
	return raw.Height, nil
}

// FetchTransaction implements source.TxFetcher.
func (c *Client) FetchTransaction(ctx context.Context, txid types.TxID) (*block.CompactTx, uint64, error) {
	raw, err := c.rawTransaction(ctx, txid)
	if err != nil {
		return nil, 0, err
	}
	tx, err := UnmarshalTx(raw.Data)
	if err != nil {
		return nil, 0, &source.FetchError{Op: "transaction", Err: err}
	}
	if tx.Hash != txid {
		return nil, 0, &source.FetchError{Op: "transaction", Err: fmt.Errorf("server returned tx %s", tx.Hash)}
	}
	return tx, raw.Height, nil
}

func (c *Client) rawTransaction(ctx context.Context, txid types.TxID) (*RawTransaction, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var out RawTransaction
	req := &TxFilter{Hash: txid[:]}
	if err := c.conn.Invoke(ctx, methodGetTransaction, req, &out, grpc.ForceCodec(codec{})); err != nil {
		return nil, classify("transaction", 0, 0, err)
	}
	return &out, nil
}

// Info returns the server description.
func (c *Client) Info(ctx context.Context) (*LightdInfo, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	var out LightdInfo
	if err := c.conn.Invoke(ctx, methodGetLightdInfo, &Empty{}, &out, grpc.ForceCodec(codec{})); err != nil {
		return nil, classify("info", 0, 0, err)
	}
	return &out, nil
}

// classify maps gRPC failures onto the source error kinds.
func classify(op string, start, end uint64, err error) error {
	st, ok := status.FromError(err)
	if ok {
		switch st.Code() {
		case codes.NotFound, codes.OutOfRange:
			return fmt.Errorf("%s: %w: %s", op, source.ErrNotFound, st.Message())
		case codes.InvalidArgument:
			return fmt.Errorf("%s: %w: %s", op, source.ErrInvalidRange, st.Message())
		case codes.Canceled:
			err = context.Canceled
		case codes.DeadlineExceeded:
			err = context.DeadlineExceeded
		}
	}
	return &source.FetchError{Op: op, Start: start, End: end, Err: err}
}
