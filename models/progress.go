package models

import (
	"time"
)

// ProgressSchemaVersion is the only record version the store accepts.
// Anything else loads as a fresh record.
const ProgressSchemaVersion = 1

// ProgressRecord is one visitor's state for one passport.
type ProgressRecord struct {
	Version              int                   `json:"version"`
	Name                 string                `json:"name"`
	CreatedAt            *time.Time            `json:"createdAt"`
	HonorSystemDismissed bool                  `json:"honorSystemDismissed"`
	Badges               map[string]BadgeClaim `json:"badges"`
}

// BadgeClaim is the per-badge entry of a progress record. ClaimExtras are
// merged in when the badge is claimed.
type BadgeClaim struct {
	Claimed   bool       `json:"claimed"`
	ClaimedAt *time.Time `json:"claimedAt"`
	ClaimExtras
}

// ClaimExtras is optional metadata recorded with a claim.
type ClaimExtras struct {
	IsAutoUnlock bool `json:"isAutoUnlock,omitempty"`
	ViaQrScan    bool `json:"viaQrScan,omitempty"`
}

// NewProgressRecord returns the default record of a never-visited passport.
func NewProgressRecord() ProgressRecord {
	return ProgressRecord{
		Version: ProgressSchemaVersion,
		Badges:  map[string]BadgeClaim{},
	}
}

// Clone returns a deep copy so callers never share the store's map.
func (r ProgressRecord) Clone() ProgressRecord {
	out := r
	if r.CreatedAt != nil {
		t := *r.CreatedAt
		out.CreatedAt = &t
	}
	out.Badges = make(map[string]BadgeClaim, len(r.Badges))
	for id, claim := range r.Badges {
		if claim.ClaimedAt != nil {
			t := *claim.ClaimedAt
			claim.ClaimedAt = &t
		}
		out.Badges[id] = claim
	}
	return out
}

func (r ProgressRecord) IsClaimed(badgeID string) bool {
	return r.Badges[badgeID].Claimed
}

// IsNewUser reports whether the visitor has not set a name yet.
func (r ProgressRecord) IsNewUser() bool {
	return r.CreatedAt == nil
}
