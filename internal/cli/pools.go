package cli

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jason-s-yu/draftsync/internal/draft"
)

//go:embed pools.json
var defaultPools []byte

// LoadPools reads item pools from a JSON file, or returns the built-in pools when path is empty.
func LoadPools(path string) (draft.Pools, error) {
	raw := defaultPools
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return draft.Pools{}, fmt.Errorf("read pools: %w", err)
		}
		raw = b
	}
	var p draft.Pools
	if err := json.Unmarshal(raw, &p); err != nil {
		return draft.Pools{}, fmt.Errorf("decode pools: %w", err)
	}
	return p, nil
}
