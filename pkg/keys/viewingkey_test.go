package keys

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

func testComponent(fill byte) *Component {
	var c Component
	for i := range c.IVK {
		c.IVK[i] = fill
		c.NK[i] = fill + 1
	}
	return &c
}

func TestNew_EncodeParseRoundtrip(t *testing.T) {
	vk, err := New(types.Mainnet, testComponent(0x11), testComponent(0x22))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	enc := vk.Encode()
	if !strings.HasPrefix(enc, "uview1") {
		t.Fatalf("Encode() = %q, want uview1 prefix", enc)
	}

	parsed, err := Parse(enc)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if parsed.Network() != types.Mainnet {
		t.Errorf("Network() = %s, want mainnet", parsed.Network())
	}
	pools := parsed.Pools()
	if len(pools) != 2 || pools[0] != block.PoolSapling || pools[1] != block.PoolOrchard {
		t.Errorf("Pools() = %v, want [sapling orchard]", pools)
	}
	c, ok := parsed.Component(block.PoolOrchard)
	if !ok || c != *testComponent(0x22) {
		t.Errorf("orchard component mismatch")
	}
	if parsed.Fingerprint() != vk.Fingerprint() {
		t.Error("fingerprint changed across encode/parse")
	}
}

func TestParse_Testnet(t *testing.T) {
	vk, err := New(types.Testnet, nil, testComponent(0x33))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !strings.HasPrefix(vk.Encode(), "uviewtest1") {
		t.Fatalf("Encode() = %q, want uviewtest1 prefix", vk.Encode())
	}
	parsed, err := Parse(strings.ToUpper(vk.Encode()))
	if err != nil {
		t.Fatalf("Parse(upper) error: %v", err)
	}
	if parsed.Network() != types.Testnet {
		t.Errorf("Network() = %s, want testnet", parsed.Network())
	}
	if _, ok := parsed.Component(block.PoolSapling); ok {
		t.Error("orchard-only key should not have a sapling component")
	}
}

func TestParse_LegacySapling(t *testing.T) {
	comp := testComponent(0x44)
	s, err := types.Bech32Encode(types.MainnetSaplingViewingKeyHRP, comp.Bytes())
	if err != nil {
		t.Fatalf("Bech32Encode: %v", err)
	}
	vk, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(zviews) error: %v", err)
	}
	if pools := vk.Pools(); len(pools) != 1 || pools[0] != block.PoolSapling {
		t.Errorf("Pools() = %v, want [sapling]", pools)
	}
	if vk.Encode() != s {
		t.Errorf("Encode() = %q, want original %q", vk.Encode(), s)
	}
	uni, err := vk.EncodeUnified()
	if err != nil {
		t.Fatalf("EncodeUnified: %v", err)
	}
	again, err := Parse(uni)
	if err != nil {
		t.Fatalf("Parse(unified) error: %v", err)
	}
	if again.Fingerprint() != vk.Fingerprint() {
		t.Error("legacy and unified forms should share a fingerprint")
	}
}

func unifiedPayload(hrp string, items ...[]byte) []byte {
	var payload []byte
	for _, it := range items {
		payload = append(payload, it...)
	}
	return append(payload, hrpPadding(hrp)...)
}

func item(typecode uint64, data []byte) []byte {
	out := binary.AppendUvarint(nil, typecode)
	out = binary.AppendUvarint(out, uint64(len(data)))
	return append(out, data...)
}

func TestParse_UnknownTypecodeIgnored(t *testing.T) {
	hrp := types.MainnetViewingKeyHRP
	payload := unifiedPayload(hrp,
		item(TypecodeSapling, testComponent(0x11).Bytes()),
		item(0x7f, []byte("future pool")),
	)
	s, err := types.Bech32mEncode(hrp, payload)
	if err != nil {
		t.Fatalf("Bech32mEncode: %v", err)
	}
	vk, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if pools := vk.Pools(); len(pools) != 1 || pools[0] != block.PoolSapling {
		t.Errorf("Pools() = %v, want [sapling]", pools)
	}
}

func TestParse_Invalid(t *testing.T) {
	hrp := types.MainnetViewingKeyHRP
	mustM := func(hrp string, payload []byte) string {
		s, err := types.Bech32mEncode(hrp, payload)
		if err != nil {
			t.Fatalf("Bech32mEncode: %v", err)
		}
		return s
	}
	zeroSapling := make([]byte, ComponentSize)
	bech32Unified, _ := types.Bech32Encode(hrp, unifiedPayload(hrp, item(TypecodeSapling, testComponent(0x11).Bytes())))

	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"garbage", "not a key"},
		{"unknown hrp", mustM("zxviews", unifiedPayload("zxviews", item(TypecodeSapling, testComponent(0x11).Bytes())))},
		{"only unknown items", mustM(hrp, unifiedPayload(hrp, item(0x7f, []byte{1, 2, 3})))},
		{"bad padding", mustM(hrp, item(TypecodeSapling, testComponent(0x11).Bytes()))},
		{"short component", mustM(hrp, unifiedPayload(hrp, item(TypecodeSapling, make([]byte, 10))))},
		{"zero sapling ivk", mustM(hrp, unifiedPayload(hrp, item(TypecodeSapling, zeroSapling)))},
		{"truncated item", mustM(hrp, unifiedPayload(hrp, []byte{TypecodeSapling, 64, 1, 2}))},
		{"bech32 checksum", bech32Unified},
		{"descending typecodes", mustM(hrp, unifiedPayload(hrp,
			item(TypecodeOrchard, testComponent(0x22).Bytes()),
			item(TypecodeSapling, testComponent(0x11).Bytes())))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidKey", tt.in, err)
			}
		})
	}
}

func TestNew_NoComponents(t *testing.T) {
	if _, err := New(types.Mainnet, nil, nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("New() error = %v, want ErrInvalidKey", err)
	}
}

func TestFingerprint_DiffersPerKey(t *testing.T) {
	a, _ := New(types.Mainnet, testComponent(0x11), nil)
	b, _ := New(types.Mainnet, testComponent(0x12), nil)
	c, _ := New(types.Testnet, testComponent(0x11), nil)
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("different keys share a fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("same material on different networks shares a fingerprint")
	}
}

func TestRedacted(t *testing.T) {
	vk, _ := New(types.Mainnet, testComponent(0x11), testComponent(0x22))
	r := vk.Redacted()
	if strings.Contains(r, vk.Encode()[12:len(vk.Encode())-6]) {
		t.Error("Redacted() leaks the key body")
	}
	if !strings.HasPrefix(r, "uview1") {
		t.Errorf("Redacted() = %q, want uview1 prefix", r)
	}
}

func TestRandom(t *testing.T) {
	a, err := Random(types.Testnet)
	if err != nil {
		t.Fatalf("Random() error: %v", err)
	}
	b, err := Random(types.Testnet)
	if err != nil {
		t.Fatalf("Random() error: %v", err)
	}
	if bytes.Equal(a.Fingerprint().Bytes(), b.Fingerprint().Bytes()) {
		t.Error("two random keys share a fingerprint")
	}
	if len(a.Pools()) != 2 {
		t.Errorf("Random() pools = %v, want both", a.Pools())
	}
}
