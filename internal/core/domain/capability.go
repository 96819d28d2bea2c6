package domain

type Capability string

const (
	CapabilityBackupCreate  Capability = "backup.create"
	CapabilityBackupRestore Capability = "backup.restore"
	CapabilityBackupDelete  Capability = "backup.delete"
)

// ScopeAll grants every capability.
const ScopeAll = "all"

// ScopesGrant reports whether a token's scopes include the capability.
func ScopesGrant(scopes []string, capability Capability) bool {
	for _, s := range scopes {
		if s == ScopeAll || s == string(capability) {
			return true
		}
	}
	return false
}

// ValidScope accepts capability names and ScopeAll.
func ValidScope(scope string) bool {
	switch Capability(scope) {
	case CapabilityBackupCreate, CapabilityBackupRestore, CapabilityBackupDelete:
		return true
	}
	return scope == ScopeAll
}
