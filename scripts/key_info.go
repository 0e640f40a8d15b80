// key_info.go prints the network, pools and fingerprint of a viewing key
// read from a file, or generates a random testnet key with -new.
// Usage: go run scripts/key_info.go <keyfile> | -new
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/shieldscan/pkg/keys"
	"github.com/Klingon-tech/shieldscan/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: key_info <keyfile> | -new")
		os.Exit(1)
	}

	var vk *keys.ViewingKey
	var err error
	if os.Args[1] == "-new" {
		vk, err = keys.Random(types.Testnet)
	} else {
		var data []byte
		data, err = os.ReadFile(os.Args[1])
		if err == nil {
			vk, err = keys.Parse(strings.TrimSpace(string(data)))
		}
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("key=%s\n", vk.Encode())
	fmt.Printf("network=%s\n", vk.Network())
	fmt.Printf("pools=%v\n", vk.Pools())
	fmt.Printf("fingerprint=%s\n", vk.Fingerprint())
}
