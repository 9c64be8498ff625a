package capsdk

import "encoding/json"

// InvocationContext carries routing/authorization/deadline metadata for a
// single invocation (spec §3, "Invocation Context").
type InvocationContext struct {
	TenantID       string                 `json:"tenantId"`
	RequestID      string                 `json:"requestId"`
	Principal      string                 `json:"principal,omitempty"`
	UserID         string                 `json:"userId,omitempty"`
	Roles          []string               `json:"roles,omitempty"`
	Features       []string               `json:"features,omitempty"`
	Channels       []string               `json:"channels,omitempty"`
	Trace          string                 `json:"trace,omitempty"`
	CorrelationID  string                 `json:"correlationId,omitempty"`
	DeadlineUnixMs int64                  `json:"deadlineUnixMs,omitempty"`
	TimeoutMs      int64                  `json:"timeoutMs,omitempty"`
	IdempotencyKey string                 `json:"idempotencyKey,omitempty"`
	AccessToken    string                 `json:"accessToken,omitempty"`
	Obligations    map[string]interface{} `json:"obligations,omitempty"`
	Meta           map[string]interface{} `json:"meta,omitempty"`
	Env            string                 `json:"env,omitempty"`
}

// ResolvedCapability is produced by resolution and embedded into an envelope
// before it reaches the transport (spec §3, "Resolved Capability").
type ResolvedCapability struct {
	NatsUrl      string `json:"natsUrl"`
	Subject      string `json:"subject"`
	Version      string `json:"version"`
	SchemaHash   string `json:"schemaHash,omitempty"`
	PolicyHash   string `json:"policyHash,omitempty"`
	ArtifactHash string `json:"artifactHash,omitempty"`
}

// Empty reports whether the resolved capability is missing the fields the
// transport requires (spec §3 invariant: resolved.subject and
// resolved.natsUrl are non-empty once an envelope reaches the transport).
func (r *ResolvedCapability) Empty() bool {
	return r == nil || r.Subject == "" || r.NatsUrl == ""
}

// Envelope is the unit of request (spec §3, "Invocation Envelope").
type Envelope struct {
	Capability string              `json:"capability"`
	Version    string              `json:"version,omitempty"`
	Resolved   *ResolvedCapability `json:"resolved,omitempty"`
	Method     string              `json:"method"`
	Params     json.RawMessage     `json:"params,omitempty"`
	Ctx        *InvocationContext  `json:"ctx"`
}

// WirePayload is what actually goes over the bus request (spec §6.1).
type WirePayload struct {
	Capability string             `json:"capability"`
	Version    string             `json:"version,omitempty"`
	Method     string             `json:"method"`
	Params     json.RawMessage    `json:"params,omitempty"`
	Ctx        *InvocationContext `json:"ctx"`
}

// ResultMeta accompanies every InvocationResult.
type ResultMeta struct {
	StartedAtUnixMs  int64            `json:"startedAtUnixMs"`
	EndedAtUnixMs    int64            `json:"endedAtUnixMs"`
	DurationMs       int64            `json:"durationMs"`
	PolicyDecisionID string           `json:"policyDecisionId,omitempty"`
	PolicyReasons    []string         `json:"policyReasons,omitempty"`
	Usage            map[string]int64 `json:"usage,omitempty"`
	ExecutionID      string           `json:"executionId,omitempty"`
}

// Result is the tagged sum {ok: data} | {err: ...} described in spec §3.
type Result struct {
	Ok    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *InvocationErr  `json:"error,omitempty"`
	Meta  ResultMeta      `json:"meta"`
}

// Credentials is the sum over {token | user+pass | jwt+nkeySeed} used to
// authenticate to a sandbox bus (spec §3, "Credentials").
type Credentials struct {
	Token     string `json:"token,omitempty"`
	User      string `json:"user,omitempty"`
	Pass      string `json:"pass,omitempty"`
	JWT       string `json:"jwt,omitempty"`
	NkeySeed  string `json:"nkeySeed,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"` // Unix ms, 0 means no expiry
}

// expiryGraceMs is how far ahead of ExpiresAt credentials are treated as
// already expired (spec §3: "considered expired 30s before expiresAt").
const expiryGraceMs = 30_000

// Expired reports whether the credentials are expired as of nowUnixMs,
// applying the 30s grace window.
func (c Credentials) Expired(nowUnixMs int64) bool {
	if c.ExpiresAt == 0 {
		return false
	}
	return nowUnixMs >= c.ExpiresAt-expiryGraceMs
}

// Valid reports whether at least one credential shape is present.
func (c Credentials) Valid() bool {
	return c.Token != "" || c.User != "" || c.JWT != ""
}

// RegistryChangedEvent mirrors the teacher's events.RegistryChangedEvent —
// it is the payload published on registry.changed[.scope] subjects.
type RegistryChangedEvent struct {
	App             string   `json:"app"`
	Capability      string   `json:"capability"`
	ChangedFields   []string `json:"changedFields"`
	NewDefaultMajor *int     `json:"newDefaultMajor,omitempty"`
	AffectedMajors  []int    `json:"affectedMajors"`
	Revision        int      `json:"revision"`
	Etag            string   `json:"etag"`
	Timestamp       string   `json:"timestamp"`
	Env             string   `json:"env,omitempty"`
}

// RegistryRequest is the JSON envelope for a client→registry invoke call
// (spec §6.1), mirroring the teacher's dispatcher.RegistryRequest.
type RegistryRequest struct {
	ID     string             `json:"id"`
	Type   string             `json:"type"`
	Cap    string             `json:"cap"`
	Method string             `json:"method"`
	Params interface{}        `json:"params"`
	Ctx    *InvocationContext `json:"ctx,omitempty"`
}

// RegistryResponse is the reply to a RegistryRequest.
type RegistryResponse struct {
	ID     string          `json:"id"`
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *InvocationErr  `json:"error,omitempty"`
}
