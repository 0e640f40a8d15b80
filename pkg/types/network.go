package types

import "fmt"

// Network identifies the chain a key or address belongs to.
type Network uint8

const (
	Mainnet Network = iota
	Testnet
)

// Human-readable parts for keys and addresses.
const (
	MainnetViewingKeyHRP = "uview"
	TestnetViewingKeyHRP = "uviewtest"

	// Legacy single-pool sapling viewing keys.
	MainnetSaplingViewingKeyHRP = "zviews"
	TestnetSaplingViewingKeyHRP = "zviewtestsapling"

	MainnetSaplingAddressHRP = "zs"
	TestnetSaplingAddressHRP = "ztestsapling"

	MainnetUnifiedAddressHRP = "u"
	TestnetUnifiedAddressHRP = "utest"
)

// String returns the network name as used in configuration.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	}
	return fmt.Sprintf("network(%d)", uint8(n))
}

// ParseNetwork converts a configuration name into a Network.
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "mainnet", "main":
		return Mainnet, nil
	case "testnet", "test":
		return Testnet, nil
	}
	return 0, fmt.Errorf("unknown network %q", s)
}

// ViewingKeyHRP returns the unified viewing key HRP for the network.
func (n Network) ViewingKeyHRP() string {
	if n == Testnet {
		return TestnetViewingKeyHRP
	}
	return MainnetViewingKeyHRP
}

// SaplingAddressHRP returns the sapling payment address HRP for the network.
func (n Network) SaplingAddressHRP() string {
	if n == Testnet {
		return TestnetSaplingAddressHRP
	}
	return MainnetSaplingAddressHRP
}

// UnifiedAddressHRP returns the unified payment address HRP for the network.
func (n Network) UnifiedAddressHRP() string {
	if n == Testnet {
		return TestnetUnifiedAddressHRP
	}
	return MainnetUnifiedAddressHRP
}

// MarshalText implements encoding.TextMarshaler.
func (n Network) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Network) UnmarshalText(text []byte) error {
	parsed, err := ParseNetwork(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
