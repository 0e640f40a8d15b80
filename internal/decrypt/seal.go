package decrypt

import (
	"fmt"

	"github.com/Klingon-tech/shieldscan/internal/wallet"
	"github.com/Klingon-tech/shieldscan/pkg/block"
	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Pay seals a full output paying value with a text memo to the default
// address of vk in the given pool. It builds devnet chains and fixtures.
func (e *Engine) Pay(vk *keys.ViewingKey, pool block.Pool, value int64, memo string) (block.CompactOutput, error) {
	p, ok := e.pools[pool]
	if !ok {
		return block.CompactOutput{}, fmt.Errorf("unknown pool %s", pool)
	}
	dk, err := p.DeriveDetectionKey(vk)
	if err != nil {
		return block.CompactOutput{}, err
	}
	m, err := wallet.EncodeTextMemo(memo)
	if err != nil {
		return block.CompactOutput{}, err
	}
	return p.Seal(p.Address(dk), value, m)
}

// Decoy seals an output to a throwaway key, indistinguishable on chain from
// a real payment to someone else.
func (e *Engine) Decoy(pool block.Pool, value int64) (block.CompactOutput, error) {
	vk, err := keys.Random(types.Testnet)
	if err != nil {
		return block.CompactOutput{}, err
	}
	return e.Pay(vk, pool, value, "")
}
