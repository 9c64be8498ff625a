package resolution

import "strings"

// KeyConfig controls which optional context parts participate in a
// resolution cache key (spec §3, "Resolution Cache Key").
type KeyConfig struct {
	IncludeTenantInKey bool
	IncludeEnvInKey    bool
}

// KeyInput holds the inputs to BuildKey.
type KeyInput struct {
	CanonicalIdentity string // if known, takes priority over Cap/Version
	Cap               string
	Version           string
	TenantID          string
	Env               string
}

// BuildKey is a pure function of its arguments: the same arguments always
// produce the same string, and differing TenantID/Env values change the key
// only when the corresponding Include*InKey flag is set (spec §8).
func BuildKey(input KeyInput, cfg KeyConfig) string {
	var b strings.Builder
	if input.CanonicalIdentity != "" {
		b.WriteString(input.CanonicalIdentity)
	} else {
		b.WriteString(input.Cap)
		if input.Version != "" {
			b.WriteString("|v:")
			b.WriteString(input.Version)
		}
	}
	if cfg.IncludeTenantInKey && input.TenantID != "" {
		b.WriteString("|t:")
		b.WriteString(input.TenantID)
	}
	if cfg.IncludeEnvInKey && input.Env != "" {
		b.WriteString("|e:")
		b.WriteString(input.Env)
	}
	return b.String()
}
