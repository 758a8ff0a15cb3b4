package visibility

import "strings"

// DedupKey builds the policy-aware job ID for a piece of work. The wider the
// policy, the wider the key, so under "everyone" the whole deployment shares
// one import of a given target while under "owner" each user gets their own.
//
//	everyone:  {kind}_{target}
//	household: {kind}_{householdKey}_{target}
//	owner:     {kind}_{userId}_{target}
func DedupKey(policy PolicyLevel, vctx Context, kind, target string) string {
	t := sanitizeTarget(target)
	switch policy {
	case PolicyEveryone:
		return kind + "_" + t
	case PolicyHousehold:
		return kind + "_" + vctx.HouseholdKey + "_" + t
	default:
		return kind + "_" + vctx.UserID + "_" + t
	}
}

// sanitizeTarget normalizes a target (URL, hash, item ID) into job-ID-safe
// form. Job IDs are key fragments, so '/' and other structure must go. The
// mapping is deterministic: equal targets always produce equal keys.
func sanitizeTarget(target string) string {
	var b strings.Builder
	b.Grow(len(target))
	for _, r := range strings.ToLower(target) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
