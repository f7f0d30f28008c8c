// internal/storage/filter.go
package storage

import (
	"bytes"
	"encoding/json"

	"github.com/weftlabs/loom/internal/models"
)

// MatchMetadata reports whether every filter key is present in meta with an
// equal value. Values are compared through their JSON encoding so in-process
// ints match the float64s a decode produces.
func MatchMetadata(meta, filters models.Payload) bool {
	for key, want := range filters {
		have, ok := meta[key]
		if !ok {
			return false
		}
		wantJSON, err := json.Marshal(want)
		if err != nil {
			return false
		}
		haveJSON, err := json.Marshal(have)
		if err != nil {
			return false
		}
		if !bytes.Equal(wantJSON, haveJSON) {
			return false
		}
	}
	return true
}
