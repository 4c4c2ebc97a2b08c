package policy

// Match reports whether an account's facts satisfy a rule's target
// selector.
//
// An ou_id selector matches if any of the rule's IDs appears anywhere
// in the account's OU path, so naming an ancestor OU targets its whole
// subtree. A tag selector matches if the account carries the key with
// one of the allowed values; a missing key never matches. Unknown
// selectors never match (fail closed).
func Match(target Target, ctx AccountContext) bool {
	switch target.Selector {
	case SelectorOUID:
		for _, id := range target.IDs {
			for _, pathID := range ctx.OUPathIDs {
				if id == pathID {
					return true
				}
			}
		}
		return false
	case SelectorTag:
		value, ok := ctx.Tags[target.Key]
		if !ok {
			return false
		}
		for _, allowed := range target.Values {
			if value == allowed {
				return true
			}
		}
		return false
	default:
		return false
	}
}
