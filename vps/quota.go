package vps

// Quota holds the per-owner and global ceilings on simultaneously
// managed instances. Zero or negative values mean unlimited.
type Quota struct {
	MaxPerOwner int
	MaxTotal    int
}

// MayCreate decides whether one more instance may be created for the
// given owner. The per-owner check runs before the global check so the
// rejection message is deterministic when both limits are hit.
//
// The snapshot must be read under the same lock that guards the
// subsequent insert, otherwise two concurrent creates can both pass.
func (q Quota) MayCreate(snapshot map[string]Record, ownerID string) error {
	if q.MaxPerOwner > 0 {
		owned := 0
		for _, rec := range snapshot {
			if rec.OwnerID == ownerID {
				owned++
			}
		}
		if owned >= q.MaxPerOwner {
			return E(KindQuotaExceeded, "VPS limit reached: you already own %d of %d allowed instances", owned, q.MaxPerOwner)
		}
	}
	if q.MaxTotal > 0 && len(snapshot) >= q.MaxTotal {
		return E(KindQuotaExceeded, "global capacity reached: %d of %d instances in use", len(snapshot), q.MaxTotal)
	}
	return nil
}
