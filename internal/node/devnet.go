package node

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"

	"github.com/Klingon-tech/shieldscan/internal/decrypt"
	"github.com/Klingon-tech/shieldscan/internal/lightwalletd"
	"github.com/Klingon-tech/shieldscan/internal/source"
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

const (
	devnetBlocks  = 20
	devnetPayment = 100_000_000
	devnetMemo    = "devnet faucet"
)

// Devnet is an in-memory chain served over gRPC on a loopback port. It is
// seeded with a payment to a throwaway viewing key.
type Devnet struct {
	mu      sync.Mutex
	builder *source.ChainBuilder
	mem     *source.Memory
	engine  *decrypt.Engine
	key     *keys.ViewingKey

	grpc *grpc.Server
	lis  net.Listener
}

func newDevnet(network types.Network, engine *decrypt.Engine) (*Devnet, error) {
	vk, err := keys.Random(network)
	if err != nil {
		return nil, fmt.Errorf("devnet key: %w", err)
	}
	d := &Devnet{builder: source.NewChainBuilder(1), engine: engine, key: vk}

	d.builder.Empty(devnetBlocks / 4)
	out, err := engine.Pay(vk, block.PoolOrchard, devnetPayment, devnetMemo)
	if err != nil {
		return nil, fmt.Errorf("devnet payment: %w", err)
	}
	d.builder.Block(source.Tx([]block.CompactOutput{out}))
	d.builder.Empty(devnetBlocks - devnetBlocks/4 - 1)
	if d.mem, err = d.builder.Memory(); err != nil {
		return nil, err
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("devnet listen: %w", err)
	}
	d.lis = lis
	d.grpc = lightwalletd.NewGRPCServer()
	lightwalletd.NewServer(d.mem, lightwalletd.LightdInfo{
		Version:   "devnet",
		Vendor:    "shieldscan devnet",
		ChainName: "regtest",
	}).Register(d.grpc)
	return d, nil
}

// URL is the server address scans use.
func (d *Devnet) URL() string {
	return "http://" + d.lis.Addr().String()
}

// Key returns the viewing key the chain pays.
func (d *Devnet) Key() *keys.ViewingKey {
	return d.key
}

// Chain returns the served chain.
func (d *Devnet) Chain() *source.Memory {
	return d.mem
}

// Mine appends a block holding one payment to to, or an empty block when
// value is zero. It returns the new block.
func (d *Devnet) Mine(to *keys.ViewingKey, value int64, memo string) (*block.CompactBlock, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var txs []*block.CompactTx
	if value > 0 {
		out, err := d.engine.Pay(to, block.PoolOrchard, value, memo)
		if err != nil {
			return nil, err
		}
		txs = append(txs, source.Tx([]block.CompactOutput{out}))
	}
	blk := d.builder.Block(txs...)
	if err := d.mem.Append(blk); err != nil {
		return nil, err
	}
	return blk, nil
}

func (d *Devnet) serve() error {
	return d.grpc.Serve(d.lis)
}

func (d *Devnet) stop() {
	d.grpc.Stop()
}
