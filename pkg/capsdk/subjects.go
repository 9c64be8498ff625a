package capsdk

import (
	"fmt"
	"strings"
)

// Default subjects, mirroring the teacher's commsutil.Subject* constants.
const (
	DefaultBootstrapSubject   = "system.registry.bootstrap"
	DefaultChangeSubject      = "registry.changed"
	DefaultRegistryCapability = "system.registry"
)

// BuildChangeSubject builds a granular per-capability change event subject,
// e.g. "registry.changed.billing.charge" (spec §4.5).
func BuildChangeSubject(app, capability string) string {
	return fmt.Sprintf("%s.%s.%s", DefaultChangeSubject, app, capability)
}

// BuildCapabilitySubject builds the bus subject a resolved capability is
// invoked on, e.g. "cap.billing.charge.v2" (spec §6.1).
func BuildCapabilitySubject(app, name string, major int) string {
	safe := strings.ReplaceAll(name, ".", "_")
	return fmt.Sprintf("cap.%s.%s.v%d", app, safe, major)
}
