// Shieldscan viewing-key scanning daemon.
//
// Usage:
//
//	zscand [--server=https://host:443] Run the scan service
//	zscand --devnet                     Serve and scan a local in-memory chain
//	zscand --help                       Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/shieldscan/config"
	"github.com/Klingon-tech/shieldscan/internal/node"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	if d := n.Devnet(); d != nil {
		fmt.Printf("Devnet server:      %s\n", d.URL())
		fmt.Printf("Devnet viewing key: %s\n", d.Key().Encode())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
