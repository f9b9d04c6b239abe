package audit

import "vaultkit.org/internal/vault"

// VerifyResult reports chain integrity. BrokenAt is the index of the first
// event whose prev_hash does not match the recomputed digest of its
// predecessor, or -1 when the chain is intact.
type VerifyResult struct {
	Valid    bool `json:"valid"`
	BrokenAt int  `json:"broken_at"`
}

// Verify walks the ordered sequence from index 1 and recomputes linkage.
// Empty and single-event chains are always valid. The pass only verifies;
// it never reconstructs or repairs.
func Verify(events []vault.AuditEvent, fn HashFn) VerifyResult {
	if fn == nil {
		fn = DefaultHash
	}
	for i := 1; i < len(events); i++ {
		if events[i].PrevHash != fn(events[i-1]) {
			return VerifyResult{Valid: false, BrokenAt: i}
		}
	}
	return VerifyResult{Valid: true, BrokenAt: -1}
}
