package auth

import "strings"

const agentUIDMaxLen = 120

// DeriveAgentUID builds the deterministic identity string for a site+machine
// pair. The raw identifiers are collapsed to [a-z0-9-]: lowercased, with
// every run of other characters replaced by a single '-'. Two distinct raw
// machine identifiers can collapse to the same UID; no uniqueness constraint
// prevents that (see DESIGN.md).
func DeriveAgentUID(siteID, machineID string) string {
	uid := "agent-" + sanitizeIdentifier(siteID) + "-" + sanitizeIdentifier(machineID)
	if len(uid) > agentUIDMaxLen {
		uid = uid[:agentUIDMaxLen]
	}
	return uid
}

func sanitizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
