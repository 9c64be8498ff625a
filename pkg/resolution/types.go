// Package resolution implements capability resolution: a context-aware cache
// key builder over pkg/ttlcache, and a registry client that layers caching,
// in-flight dedup, fallback mappings, and stale-while-revalidate on top of a
// remote resolve/discover/describe RPC (spec §4.4, §4.5). It generalizes the
// teacher's pkg/registry.Resolve (local DB lookup + federation) into a
// client that calls a *remote* registry over the bus instead of a database,
// grounded on open-component-model's resolution.Resolver (cache check →
// singleflight dedup → enqueue) for the caching/dedup shape.
package resolution

// Output is the client-side counterpart of the teacher's
// registry.ResolveOutput — same field names, since it is decoded directly
// from the registry's wire reply.
type Output struct {
	CanonicalIdentity string            `json:"canonicalIdentity"`
	NatsUrl           string            `json:"natsUrl"`
	Subject           string            `json:"subject"`
	Major             int               `json:"major"`
	ResolvedVersion   string            `json:"resolvedVersion"`
	Status            string            `json:"status"`
	TTLSeconds        int               `json:"ttlSeconds"`
	Etag              string            `json:"etag"`
	Methods           []MethodInfo      `json:"methods,omitempty"`
	Schemas           map[string]Schema `json:"schemas,omitempty"`
}

// MethodInfo mirrors the teacher's registry.MethodInfo.
type MethodInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Modes       []string `json:"modes"`
	Tags        []string `json:"tags"`
}

// Schema mirrors the teacher's registry.Schema.
type Schema struct {
	Input  map[string]interface{} `json:"input"`
	Output map[string]interface{} `json:"output"`
}

// Input holds parameters for a Resolve call.
type Input struct {
	Cap            string
	Version        string
	TenantID       string
	Env            string
	IncludeMethods bool
	IncludeSchemas bool
}

// DiscoverInput holds parameters for a Discover call.
type DiscoverInput struct {
	App            string
	Tags           []string
	Query          string
	Status         string
	SupportsMethod string
	TenantID       string
	Env            string
	Page           int
	Limit          int
}

// DiscoveredCapability mirrors the teacher's registry.DiscoveredCapability.
type DiscoveredCapability struct {
	Cap           string   `json:"cap"`
	App           string   `json:"app"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Tags          []string `json:"tags"`
	DefaultMajor  int      `json:"defaultMajor"`
	LatestVersion string   `json:"latestVersion"`
	Majors        []int    `json:"majors"`
	Status        string   `json:"status"`
}

// DiscoverOutput mirrors the teacher's registry.DiscoverOutput.
type DiscoverOutput struct {
	Capabilities []DiscoveredCapability `json:"capabilities"`
	Pagination   Pagination             `json:"pagination"`
}

// Pagination mirrors the teacher's registry.Pagination.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// DescribeInput holds parameters for a Describe call.
type DescribeInput struct {
	Cap     string
	Major   *int
	Version string
}

// MethodDescription mirrors the teacher's registry.MethodDescription.
type MethodDescription struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  map[string]interface{} `json:"inputSchema"`
	OutputSchema map[string]interface{} `json:"outputSchema"`
	Modes        []string               `json:"modes"`
	Tags         []string               `json:"tags"`
	Examples     []interface{}          `json:"examples"`
}

// DescribeOutput mirrors the teacher's registry.DescribeOutput.
type DescribeOutput struct {
	Cap         string               `json:"cap"`
	App         string               `json:"app"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Version     string               `json:"version"`
	Major       int                  `json:"major"`
	Status      string               `json:"status"`
	Methods     []MethodDescription  `json:"methods"`
	Tags        []string             `json:"tags"`
	Changelog   string               `json:"changelog,omitempty"`
}
