// Package lightwalletd speaks the CompactTxStreamer gRPC service of a
// light-wallet server, as a client and as a devnet server.
package lightwalletd

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cash.z.wallet.sdk.rpc.CompactTxStreamer"

// Method paths.
const (
	methodGetLatestBlock = "/" + ServiceName + "/GetLatestBlock"
	methodGetBlock       = "/" + ServiceName + "/GetBlock"
	methodGetBlockRange  = "/" + ServiceName + "/GetBlockRange"
	methodGetTransaction = "/" + ServiceName + "/GetTransaction"
	methodGetLightdInfo  = "/" + ServiceName + "/GetLightdInfo"
)

var errWire = errors.New("malformed wire message")

// message is implemented by every type the codec carries.
type message interface {
	marshal() []byte
	unmarshal(b []byte) error
}

// codec encodes the service messages in protobuf wire format. It registers
// under the "proto" name so the content type matches other servers.
type codec struct{}

func (codec) Name() string { return "proto" }

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("lightwalletd codec: cannot marshal %T", v)
	}
	return m.marshal(), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("lightwalletd codec: cannot unmarshal into %T", v)
	}
	return m.unmarshal(data)
}

// ChainSpec selects a chain. It has no fields.
type ChainSpec struct{}

// Empty is the empty request.
type Empty struct{}

// BlockID identifies a block by height and, optionally, hash.
type BlockID struct {
	Height uint64
	Hash   []byte
}

// BlockRange is an inclusive height range.
type BlockRange struct {
	Start BlockID
	End   BlockID
}

// TxFilter selects a transaction by hash.
type TxFilter struct {
	Block BlockID
	Index uint64
	Hash  []byte
}

// RawTransaction carries a transaction and its mined height. Data holds
// the transaction as a wire-encoded CompactTx with full ciphertexts.
type RawTransaction struct {
	Data   []byte
	Height uint64
}

// LightdInfo describes the server.
type LightdInfo struct {
	Version                 string
	Vendor                  string
	ChainName               string
	SaplingActivationHeight uint64
	BlockHeight             uint64
}

// CompactBlock is the wire form of a block.CompactBlock.
type CompactBlock struct {
	Block *block.CompactBlock
}

func (*ChainSpec) marshal() []byte          { return nil }
func (*ChainSpec) unmarshal(b []byte) error { return skipAll(b) }
func (*Empty) marshal() []byte              { return nil }
func (*Empty) unmarshal(b []byte) error     { return skipAll(b) }

func (m *BlockID) marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, m.Height)
	b = appendBytes(b, 2, m.Hash)
	return b
}

func (m *BlockID) unmarshal(b []byte) error {
	*m = BlockID{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Height = f.v
		case 2:
			m.Hash = clone(f.data)
		}
		return nil
	})
}

func (m *BlockRange) marshal() []byte {
	var b []byte
	b = appendMessage(b, 1, m.Start.marshal())
	b = appendMessage(b, 2, m.End.marshal())
	return b
}

func (m *BlockRange) unmarshal(b []byte) error {
	*m = BlockRange{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return m.Start.unmarshal(f.data)
		case 2:
			return m.End.unmarshal(f.data)
		}
		return nil
	})
}

func (m *TxFilter) marshal() []byte {
	var b []byte
	if m.Block.Height != 0 || len(m.Block.Hash) != 0 {
		b = appendMessage(b, 1, m.Block.marshal())
	}
	b = appendVarint(b, 2, m.Index)
	b = appendBytes(b, 3, m.Hash)
	return b
}

func (m *TxFilter) unmarshal(b []byte) error {
	*m = TxFilter{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return m.Block.unmarshal(f.data)
		case 2:
			m.Index = f.v
		case 3:
			m.Hash = clone(f.data)
		}
		return nil
	})
}

func (m *RawTransaction) marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, m.Data)
	b = appendVarint(b, 2, m.Height)
	return b
}

func (m *RawTransaction) unmarshal(b []byte) error {
	*m = RawTransaction{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Data = clone(f.data)
		case 2:
			m.Height = f.v
		}
		return nil
	})
}

func (m *LightdInfo) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Vendor)
	b = appendString(b, 4, m.ChainName)
	b = appendVarint(b, 5, m.SaplingActivationHeight)
	b = appendVarint(b, 7, m.BlockHeight)
	return b
}

func (m *LightdInfo) unmarshal(b []byte) error {
	*m = LightdInfo{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			m.Version = string(f.data)
		case 2:
			m.Vendor = string(f.data)
		case 4:
			m.ChainName = string(f.data)
		case 5:
			m.SaplingActivationHeight = f.v
		case 7:
			m.BlockHeight = f.v
		}
		return nil
	})
}

// CompactBlock fields: protoVersion=1 height=2 hash=3 prevHash=4 time=5
// header=6 vtx=7.
func (m *CompactBlock) marshal() []byte {
	blk := m.Block
	if blk == nil {
		return nil
	}
	var b []byte
	b = appendVarint(b, 1, uint64(blk.ProtoVersion))
	b = appendVarint(b, 2, blk.Height)
	b = appendBytes(b, 3, blk.Hash[:])
	if !blk.PrevHash.IsZero() {
		b = appendBytes(b, 4, blk.PrevHash[:])
	}
	b = appendVarint(b, 5, uint64(blk.Time))
	b = appendBytes(b, 6, blk.Header)
	for _, tx := range blk.Txs {
		b = appendMessage(b, 7, marshalTx(tx))
	}
	return b
}

func (m *CompactBlock) unmarshal(b []byte) error {
	blk := &block.CompactBlock{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			blk.ProtoVersion = uint32(f.v)
		case 2:
			blk.Height = f.v
		case 3:
			blk.Hash, err = toHash(f.data)
		case 4:
			blk.PrevHash, err = toHash(f.data)
		case 5:
			blk.Time = uint32(f.v)
		case 6:
			blk.Header = clone(f.data)
		case 7:
			tx, err := unmarshalTx(f.data)
			if err != nil {
				return err
			}
			blk.Txs = append(blk.Txs, tx)
		}
		return err
	})
	if err != nil {
		return err
	}
	m.Block = blk
	return nil
}

// CompactTx fields: index=1 hash=2 fee=3 spends=4 outputs=5 actions=6.
// Orchard spends and outputs travel paired as actions.
func marshalTx(tx *block.CompactTx) []byte {
	var b []byte
	b = appendVarint(b, 1, tx.Index)
	b = appendBytes(b, 2, tx.Hash[:])
	b = appendVarint(b, 3, uint64(tx.Fee))

	var orchardNfs []types.Nullifier
	var orchardOuts []block.CompactOutput
	for _, sp := range tx.Spends {
		if sp.Pool == block.PoolOrchard {
			orchardNfs = append(orchardNfs, sp.Nullifier)
			continue
		}
		b = appendMessage(b, 4, appendBytes(nil, 1, sp.Nullifier[:]))
	}
	for _, out := range tx.Outputs {
		if out.Pool == block.PoolOrchard {
			orchardOuts = append(orchardOuts, out)
			continue
		}
		var o []byte
		o = appendBytes(o, 1, out.Commitment[:])
		o = appendBytes(o, 2, out.EphemeralKey)
		o = appendBytes(o, 3, out.Ciphertext)
		b = appendMessage(b, 5, o)
	}

	n := max(len(orchardNfs), len(orchardOuts))
	for i := 0; i < n; i++ {
		var a []byte
		if i < len(orchardNfs) {
			a = appendBytes(a, 1, orchardNfs[i][:])
		}
		if i < len(orchardOuts) {
			out := orchardOuts[i]
			a = appendBytes(a, 2, out.Commitment[:])
			a = appendBytes(a, 3, out.EphemeralKey)
			a = appendBytes(a, 4, out.Ciphertext)
		}
		b = appendMessage(b, 6, a)
	}
	return b
}

func unmarshalTx(b []byte) (*block.CompactTx, error) {
	tx := &block.CompactTx{}
	var orchard []block.CompactOutput
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			tx.Index = f.v
		case 2:
			h, err := toHash(f.data)
			if err != nil {
				return err
			}
			tx.Hash = types.TxID(h)
		case 3:
			tx.Fee = uint32(f.v)
		case 4:
			return walk(f.data, func(g field) error {
				if g.num != 1 {
					return nil
				}
				h, err := toHash(g.data)
				tx.Spends = append(tx.Spends, block.CompactSpend{Pool: block.PoolSapling, Nullifier: types.Nullifier(h)})
				return err
			})
		case 5:
			out, err := unmarshalOutput(f.data, block.PoolSapling, 1)
			if err != nil {
				return err
			}
			tx.Outputs = append(tx.Outputs, out)
		case 6:
			var nf []byte
			err := walk(f.data, func(g field) error {
				if g.num == 1 {
					nf = g.data
				}
				return nil
			})
			if err != nil {
				return err
			}
			if len(nf) > 0 {
				h, err := toHash(nf)
				if err != nil {
					return err
				}
				tx.Spends = append(tx.Spends, block.CompactSpend{Pool: block.PoolOrchard, Nullifier: types.Nullifier(h)})
			}
			out, err := unmarshalOutput(f.data, block.PoolOrchard, 2)
			if err != nil {
				return err
			}
			if len(out.EphemeralKey) > 0 {
				orchard = append(orchard, out)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	tx.Outputs = append(tx.Outputs, orchard...)
	return tx, nil
}

// unmarshalOutput reads commitment, epk and ciphertext from consecutive
// field numbers starting at first.
func unmarshalOutput(b []byte, pool block.Pool, first protowire.Number) (block.CompactOutput, error) {
	out := block.CompactOutput{Pool: pool}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case first:
			out.Commitment, err = toHash(f.data)
		case first + 1:
			out.EphemeralKey = clone(f.data)
		case first + 2:
			out.Ciphertext = clone(f.data)
		}
		return err
	})
	return out, err
}

type field struct {
	num  protowire.Number
	v    uint64
	data []byte
}

// walk calls fn for every varint and length-delimited field of b. Other
// wire types are skipped.
func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errWire, protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.data, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", errWire, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", errWire, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func skipAll(b []byte) error {
	return walk(b, func(field) error { return nil })
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendMessage writes an embedded message, empty ones included.
func appendMessage(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func toHash(b []byte) (types.Hash, error) {
	var h types.Hash
	if len(b) == 0 {
		return h, nil
	}
	if len(b) != types.HashSize {
		return h, fmt.Errorf("%w: hash is %d bytes", errWire, len(b))
	}
	copy(h[:], b)
	return h, nil
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// MarshalTx encodes a transaction for RawTransaction.Data.
func MarshalTx(tx *block.CompactTx) []byte {
	return marshalTx(tx)
}

// UnmarshalTx decodes RawTransaction.Data.
func UnmarshalTx(b []byte) (*block.CompactTx, error) {
	return unmarshalTx(b)
}
