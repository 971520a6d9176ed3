package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergePipeline layers user pipeline settings over the built-in defaults.
// Non-zero user values override. A set pointer overrides even when it points
// at zero, which mergo alone would skip.
func mergePipeline(builtin, user *PipelineConfig) (*PipelineConfig, error) {
	merged := *builtin
	merged.Seed = copyPtr(builtin.Seed)
	if user == nil {
		return &merged, nil
	}
	if err := mergo.Merge(&merged, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge pipeline config: %w", err)
	}
	if user.Seed != nil {
		merged.Seed = copyPtr(user.Seed)
	}
	return &merged, nil
}

// mergeIdentity layers user identity settings over the built-in defaults.
func mergeIdentity(builtin, user *IdentityConfig) (*IdentityConfig, error) {
	merged := *builtin
	merged.MinAge = copyPtr(builtin.MinAge)
	merged.MaxAge = copyPtr(builtin.MaxAge)
	merged.Extras = append([]string(nil), builtin.Extras...)
	if user == nil {
		return &merged, nil
	}
	if err := mergo.Merge(&merged, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge identity config: %w", err)
	}
	if user.MinAge != nil {
		merged.MinAge = copyPtr(user.MinAge)
	}
	if user.MaxAge != nil {
		merged.MaxAge = copyPtr(user.MaxAge)
	}
	return &merged, nil
}

// mergeLedger layers user ledger settings over the built-in defaults.
func mergeLedger(builtin, user *LedgerConfig) (*LedgerConfig, error) {
	merged := *builtin
	if user == nil {
		return &merged, nil
	}
	if err := mergo.Merge(&merged, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge ledger config: %w", err)
	}
	return &merged, nil
}

// mergeFields returns shared field mappings overridden by per-source ones.
// Neither input is modified.
func mergeFields(shared, perSource map[string]string) (map[string]string, error) {
	merged := make(map[string]string, len(shared)+len(perSource))
	for k, v := range shared {
		merged[k] = v
	}
	if len(perSource) == 0 {
		return merged, nil
	}
	if err := mergo.Merge(&merged, perSource, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge field mappings: %w", err)
	}
	return merged, nil
}

// copyPtr returns a pointer to a copy of *p, or nil.
func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// unionStrings concatenates lists, dropping repeats and keeping first-seen order.
func unionStrings(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, s := range l {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
