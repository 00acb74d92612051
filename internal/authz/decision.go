package authz

// Decision holds the verdict per action for a single resource.
type Decision map[string]bool

// ResourceDecision is the verdict for one resource of a batch.
type ResourceDecision struct {
	Kind             string   `json:"kind"`
	ID               string   `json:"id"`
	Actions          Decision `json:"actions"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// BatchDecision is the decision point's answer to CheckResources. Results
// are correlated to requests by (Kind, ID), never by position.
type BatchDecision struct {
	RequestID string             `json:"request_id,omitempty"`
	Results   []ResourceDecision `json:"results"`
}

type resourceKey struct {
	kind string
	id   string
}

// IsAllowed reports whether d grants action. Actions missing from d are
// denied.
func IsAllowed(d Decision, action string) bool {
	return d[action]
}

// Lookup returns the verdicts recorded for (kind, id). When the decision
// point answered more than once for the same resource, an action is allowed
// only if every answer that mentions it allows it.
func Lookup(bd BatchDecision, kind, id string) (Decision, bool) {
	var (
		merged Decision
		found  bool
	)
	for _, rd := range bd.Results {
		if rd.Kind != kind || rd.ID != id {
			continue
		}
		merged = mergeInto(merged, rd.Actions)
		found = true
	}
	return merged, found
}

// AllowedMask reports, for each item in order, whether bd allows action on
// its resource.
func AllowedMask(bd BatchDecision, items []BatchItem, action string) []bool {
	index := make(map[resourceKey]Decision, len(bd.Results))
	for _, rd := range bd.Results {
		k := resourceKey{rd.Kind, rd.ID}
		index[k] = mergeInto(index[k], rd.Actions)
	}

	mask := make([]bool, len(items))
	for i, item := range items {
		d, ok := index[resourceKey{item.Resource.Kind, item.Resource.ID}]
		mask[i] = ok && IsAllowed(d, action)
	}
	return mask
}

// FilterAllowed returns the items whose resource is allowed action, in input
// order.
func FilterAllowed(bd BatchDecision, items []BatchItem, action string) []BatchItem {
	mask := AllowedMask(bd, items, action)
	out := make([]BatchItem, 0, len(items))
	for i, item := range items {
		if mask[i] {
			out = append(out, item)
		}
	}
	return out
}

func mergeInto(dst, src Decision) Decision {
	if dst == nil {
		dst = make(Decision, len(src))
	}
	for action, allowed := range src {
		if prev, seen := dst[action]; seen {
			dst[action] = prev && allowed
			continue
		}
		dst[action] = allowed
	}
	return dst
}
