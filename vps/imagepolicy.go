package vps

import "strings"

// defaultDeniedPatterns seeds the deny-list with names of well-known
// resource-abuse tooling (cryptocurrency miners and mining pools).
var defaultDeniedPatterns = []string{"xmrig", "miner", "cryptonight", "stratum", "pool"}

// ImagePolicy classifies requested images as allowed or denied by
// case-insensitive substring match against a deny-list.
//
// This is a best-effort heuristic, not a security boundary: a renamed
// miner image passes, and an unrelated image whose name happens to
// contain a denied substring is rejected. Both are accepted tradeoffs;
// real isolation comes from the container resource limits.
type ImagePolicy struct {
	patterns []string
}

// NewImagePolicy builds a policy from the given deny patterns. An
// empty or nil slice falls back to the default deny-list; lowercasing
// happens once here so IsDenied stays allocation-free.
func NewImagePolicy(patterns []string) *ImagePolicy {
	if len(patterns) == 0 {
		patterns = defaultDeniedPatterns
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return &ImagePolicy{patterns: lowered}
}

// IsDenied reports whether the image reference matches the deny-list.
func (p *ImagePolicy) IsDenied(image string) bool {
	lowered := strings.ToLower(image)
	for _, pattern := range p.patterns {
		if pattern != "" && strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}
