package lightwalletd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	klog "github.com/Klingon-tech/shieldscan/internal/log"
	"github.com/Klingon-tech/shieldscan/internal/source"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// maxRangeChunk is how many blocks the server reads from its backend at once.
const maxRangeChunk = 100

// Backend is what the server needs to answer requests.
type Backend interface {
	source.Source
	source.TxFetcher
}

// CompactTxStreamer is the server side of the service.
type CompactTxStreamer interface {
	GetLatestBlock(ctx context.Context, in *ChainSpec) (*BlockID, error)
	GetBlock(ctx context.Context, in *BlockID) (*CompactBlock, error)
	GetBlockRange(in *BlockRange, stream grpc.ServerStream) error
	GetTransaction(ctx context.Context, in *TxFilter) (*RawTransaction, error)
	GetLightdInfo(ctx context.Context, in *Empty) (*LightdInfo, error)
}

// Server serves a Backend over gRPC. With a source.Memory backend it is a
// local devnet light-wallet server.
type Server struct {
	backend Backend
	info    LightdInfo
	logger  zerolog.Logger
}

var _ CompactTxStreamer = (*Server)(nil)

// NewServer creates a server for backend.
func NewServer(backend Backend, info LightdInfo) *Server {
	return &Server{backend: backend, info: info, logger: klog.WithComponent("lightwalletd")}
}

// NewGRPCServer creates a grpc.Server that speaks the service codec.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	return grpc.NewServer(append(opts, grpc.ForceServerCodec(codec{}))...)
}

// Register adds the service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// GetLatestBlock returns the tip.
func (s *Server) GetLatestBlock(ctx context.Context, _ *ChainSpec) (*BlockID, error) {
	h, err := s.backend.LatestHeight(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	blocks, err := s.backend.FetchBlocks(ctx, h, h)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BlockID{Height: h, Hash: blocks[0].Hash[:]}, nil
}

// GetBlock returns one block.
func (s *Server) GetBlock(ctx context.Context, in *BlockID) (*CompactBlock, error) {
	blocks, err := s.backend.FetchBlocks(ctx, in.Height, in.Height)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CompactBlock{Block: blocks[0]}, nil
}

// GetBlockRange streams the blocks of an inclusive range.
func (s *Server) GetBlockRange(in *BlockRange, stream grpc.ServerStream) error {
	start, end := in.Start.Height, in.End.Height
	if end < start {
		return status.Errorf(codes.InvalidArgument, "start %d above end %d", start, end)
	}
	ctx := stream.Context()
	for lo := start; lo <= end; {
		hi := min(end, lo+maxRangeChunk-1)
		blocks, err := s.backend.FetchBlocks(ctx, lo, hi)
		if err != nil {
			s.logger.Debug().Err(err).Uint64("start", lo).Uint64("end", hi).Msg("Block range failed")
			return toStatus(err)
		}
		for _, b := range blocks {
			if err := stream.SendMsg(&CompactBlock{Block: b}); err != nil {
				return err
			}
		}
		if hi == end {
			break
		}
		lo = hi + 1
	}
	return nil
}

// GetTransaction returns a transaction with full ciphertexts.
func (s *Server) GetTransaction(ctx context.Context, in *TxFilter) (*RawTransaction, error) {
	if len(in.Hash) != types.HashSize {
		return nil, status.Errorf(codes.InvalidArgument, "tx hash must be %d bytes", types.HashSize)
	}
	var txid types.TxID
	copy(txid[:], in.Hash)
	tx, h, err := s.backend.FetchTransaction(ctx, txid)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RawTransaction{Data: MarshalTx(tx), Height: h}, nil
}

// GetLightdInfo describes the server.
func (s *Server) GetLightdInfo(ctx context.Context, _ *Empty) (*LightdInfo, error) {
	info := s.info
	if h, err := s.backend.LatestHeight(ctx); err == nil {
		info.BlockHeight = h
	}
	return &info, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, source.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, source.ErrInvalidRange):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}

func unaryHandler[Req any, Resp any](method string, call func(CompactTxStreamer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CompactTxStreamer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CompactTxStreamer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func getBlockRangeHandler(srv any, stream grpc.ServerStream) error {
	in := new(BlockRange)
	if err := stream.RecvMsg(in); err != nil {
		return fmt.Errorf("read block range: %w", err)
	}
	return srv.(CompactTxStreamer).GetBlockRange(in, stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CompactTxStreamer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetLatestBlock", Handler: unaryHandler(methodGetLatestBlock, CompactTxStreamer.GetLatestBlock)},
		{MethodName: "GetBlock", Handler: unaryHandler(methodGetBlock, CompactTxStreamer.GetBlock)},
		{MethodName: "GetTransaction", Handler: unaryHandler(methodGetTransaction, CompactTxStreamer.GetTransaction)},
		{MethodName: "GetLightdInfo", Handler: unaryHandler(methodGetLightdInfo, CompactTxStreamer.GetLightdInfo)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "GetBlockRange", Handler: getBlockRangeHandler, ServerStreams: true},
	},
	Metadata: "service.proto",
}
