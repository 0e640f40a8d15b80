package block

import (
	"encoding/json"
	"testing"
)

// FuzzCompactBlockUnmarshal tests that arbitrary JSON input does not panic
// when unmarshaled into a CompactBlock.
func FuzzCompactBlockUnmarshal(f *testing.F) {
	f.Add([]byte(`{"height":1,"hash":"0000000000000000000000000000000000000000000000000000000000000000","prev_hash":"","time":1000,"vtx":[]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"vtx":[null]}`))
	f.Add([]byte(`{"vtx":[{"index":1,"outputs":[{"pool":"orchard","epk":"AA==","ciphertext":""}]}]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var blk CompactBlock
		if err := json.Unmarshal(data, &blk); err != nil {
			return
		}
		// If unmarshal succeeded, Validate and ComputeHash must not panic.
		blk.Validate()
		blk.ComputeHash()
		blk.OutputCount()
	})
}
