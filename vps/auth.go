package vps

// Guard centralizes the ownership check applied to every mutating
// operation. A caller may mutate a record iff they own it or hold the
// admin capability; how admin status is determined is up to the
// injected AdminChecker.
type Guard struct {
	admins AdminChecker
}

// NewGuard builds a guard around the given admin predicate. A nil
// checker means nobody is admin.
func NewGuard(admins AdminChecker) *Guard {
	return &Guard{admins: admins}
}

// MayMutate returns nil when the caller is allowed to start, stop,
// restart, delete or exec the given record.
func (g *Guard) MayMutate(rec Record, caller Caller) error {
	if caller.ID != "" && caller.ID == rec.OwnerID {
		return nil
	}
	if g.IsAdmin(caller) {
		return nil
	}
	return E(KindPermissionDenied, "you do not own instance %q", rec.Name)
}

// IsAdmin reports whether the caller holds the admin capability.
func (g *Guard) IsAdmin(caller Caller) bool {
	return g.admins != nil && g.admins.IsAdmin(caller)
}

// StaticAdmins is the config-backed AdminChecker: a fixed set of admin
// caller IDs plus an optional role name granted by the chat gateway.
type StaticAdmins struct {
	IDs  map[string]bool
	Role string
}

// NewStaticAdmins builds the checker from the configured ID list and
// role name.
func NewStaticAdmins(ids []string, role string) *StaticAdmins {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	return &StaticAdmins{IDs: set, Role: role}
}

func (s *StaticAdmins) IsAdmin(caller Caller) bool {
	if s.IDs[caller.ID] {
		return true
	}
	if s.Role == "" {
		return false
	}
	for _, role := range caller.Roles {
		if role == s.Role {
			return true
		}
	}
	return false
}
