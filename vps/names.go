package vps

import "strings"

// namePrefix namespaces every managed container so unmanaged
// containers on the same host are never mistaken for ours.
const namePrefix = "eaglenode-"

// Canonicalize maps a user-chosen label and owner ID to the canonical
// instance name: lowercase, every non-alphanumeric rune replaced with
// '-', owner ID embedded so two owners asking for the same label never
// collide. Any input is accepted; the result is always a valid Docker
// container name token.
func Canonicalize(label, ownerID string) string {
	var b strings.Builder
	b.WriteString(namePrefix)
	for _, r := range strings.ToLower(label + "-" + ownerID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
