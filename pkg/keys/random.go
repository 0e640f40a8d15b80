package keys

import (
	"github.com/Klingon-tech/shieldscan/pkg/crypto"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

// Random returns a viewing key with fresh random components for every pool.
// It exists for test networks and fixtures; it does not derive keys from a
// seed and the result has no spending key.
func Random(network types.Network) (*ViewingKey, error) {
	sapling, err := randomComponent(true)
	if err != nil {
		return nil, err
	}
	orchard, err := randomComponent(false)
	if err != nil {
		return nil, err
	}
	return New(network, &sapling, &orchard)
}

func randomComponent(secp bool) (Component, error) {
	var c Component
	var ivk []byte
	var err error
	if secp {
		ivk, err = crypto.RandomSecp256k1Scalar()
	} else {
		ivk, err = crypto.RandomBytes(32)
	}
	if err != nil {
		return Component{}, err
	}
	nk, err := crypto.RandomBytes(32)
	if err != nil {
		return Component{}, err
	}
	copy(c.IVK[:], ivk)
	copy(c.NK[:], nk)
	return c, nil
}
