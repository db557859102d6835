// Package service implements the engine's business logic: result caching,
// concurrency admission, and the run orchestrator.
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/FlowForge/internal/domain"
	"github.com/Strob0t/FlowForge/internal/domain/run"
)

// cacheKeyMaterial is the canonical key input. encoding/json writes map
// keys in sorted order, so identical inputs always produce identical bytes.
type cacheKeyMaterial struct {
	Name    string         `json:"name"`
	Version string         `json:"version,omitempty"`
	Inputs  map[string]any `json:"inputs"`
}

// ComputeCacheKey derives the deterministic cache key for a run: a sha256
// hex digest over the definition name, cache version and inputs. Inputs
// that cannot be serialized (channels, funcs, cycles) make the key
// underivable: the error wraps domain.ErrCacheKeyUnavailable and the caller
// disables caching for the run instead of failing it.
func ComputeCacheKey(def *run.Definition, inputs map[string]any) (string, error) {
	data, err := json.Marshal(cacheKeyMaterial{
		Name:    def.Name,
		Version: def.Cache.Version,
		Inputs:  inputs,
	})
	if err != nil {
		return "", fmt.Errorf("marshal key material for %s: %w", def.Name, domain.ErrCacheKeyUnavailable)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
