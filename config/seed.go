package config

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed rbac_seed.yaml
var defaultRBACSeed []byte

// LoadRBACSeed returns the RBAC catalog seed document. An empty path selects
// the catalog compiled into the binary.
func LoadRBACSeed(path string) ([]byte, error) {
	if path == "" {
		return defaultRBACSeed, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read RBAC seed file: %w", err)
	}
	return data, nil
}
