package lightwalletd

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

func TestWire_OrchardActionsPairing(t *testing.T) {
	tx := &block.CompactTx{
		Index: 3,
		Hash:  types.TxID{1},
		Spends: []block.CompactSpend{
			{Pool: block.PoolSapling, Nullifier: types.Nullifier{2}},
			{Pool: block.PoolOrchard, Nullifier: types.Nullifier{3}},
			{Pool: block.PoolOrchard, Nullifier: types.Nullifier{4}},
		},
		Outputs: []block.CompactOutput{
			{Pool: block.PoolOrchard, Commitment: types.Hash{5}, EphemeralKey: []byte{1, 2}, Ciphertext: []byte{3}},
			{Pool: block.PoolSapling, Commitment: types.Hash{6}, EphemeralKey: []byte{4}, Ciphertext: []byte{5, 6}},
		},
	}
	got, err := UnmarshalTx(MarshalTx(tx))
	if err != nil {
		t.Fatalf("UnmarshalTx() error: %v", err)
	}
	if got.Index != 3 || got.Hash != tx.Hash {
		t.Errorf("header = %d %s", got.Index, got.Hash)
	}
	if len(got.Spends) != 3 {
		t.Fatalf("spends = %d, want 3", len(got.Spends))
	}
	// Two orchard actions: one with an output, one spend-only.
	if len(got.Outputs) != 2 {
		t.Fatalf("outputs = %d, want 2", len(got.Outputs))
	}
	if got.Outputs[0].Pool != block.PoolSapling || got.Outputs[1].Pool != block.PoolOrchard {
		t.Errorf("output pools = %s, %s", got.Outputs[0].Pool, got.Outputs[1].Pool)
	}
	if !bytes.Equal(got.Outputs[1].EphemeralKey, []byte{1, 2}) || got.Outputs[1].Commitment != (types.Hash{5}) {
		t.Errorf("orchard output = %+v", got.Outputs[1])
	}
}

func TestWire_UnknownFieldsSkipped(t *testing.T) {
	id := &BlockID{Height: 77, Hash: bytes.Repeat([]byte{1}, 32)}
	b := id.marshal()
	b = protowire.AppendTag(b, 9, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 123)
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	var got BlockID
	if err := got.unmarshal(b); err != nil {
		t.Fatalf("unmarshal() error: %v", err)
	}
	if got.Height != 77 || len(got.Hash) != 32 {
		t.Errorf("got = %+v", got)
	}
}

func TestWire_Malformed(t *testing.T) {
	var blk CompactBlock
	if err := blk.unmarshal([]byte{0x1a, 0x05, 1, 2}); !errors.Is(err, errWire) {
		t.Errorf("truncated error = %v, want errWire", err)
	}
	bad := appendBytes(nil, 3, []byte{1, 2, 3})
	if err := blk.unmarshal(bad); !errors.Is(err, errWire) {
		t.Errorf("short hash error = %v, want errWire", err)
	}
}

func TestCodec_RejectsForeignTypes(t *testing.T) {
	if _, err := (codec{}).Marshal("nope"); err == nil {
		t.Error("Marshal() should reject non-messages")
	}
	if err := (codec{}).Unmarshal(nil, new(int)); err == nil {
		t.Error("Unmarshal() should reject non-messages")
	}
}
