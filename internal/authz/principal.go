package authz

import "fmt"

const (
	claimID    = "id"
	claimRoles = "roles"
)

// Principal is the actor a decision is requested for.
type Principal struct {
	ID         string     `json:"id"`
	Roles      []string   `json:"roles"`
	Attributes Attributes `json:"attr"`
}

// ToPrincipal maps verified identity claims into a Principal. "id" and
// "roles" are lifted out; every other claim is kept as an attribute under its
// claim name. A claim outside the Value shapes, such as a nested object,
// rejects the whole principal.
func ToPrincipal(claims map[string]any) (Principal, error) {
	rawID, ok := claims[claimID]
	if !ok {
		return Principal{}, fmt.Errorf("%w: missing %q claim", ErrInvalidPrincipal, claimID)
	}
	id, ok := rawID.(string)
	if !ok || id == "" {
		return Principal{}, fmt.Errorf("%w: %q claim must be a non-empty string", ErrInvalidPrincipal, claimID)
	}

	roles, err := rolesOf(claims[claimRoles])
	if err != nil {
		return Principal{}, err
	}

	rest := make(map[string]any, len(claims))
	for k, raw := range claims {
		if k == claimID || k == claimRoles {
			continue
		}
		rest[k] = raw
	}
	attrs, err := AttributesOf(rest)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidPrincipal, err)
	}

	return Principal{ID: id, Roles: roles, Attributes: attrs}, nil
}

func rolesOf(raw any) ([]string, error) {
	switch t := raw.(type) {
	case nil:
		return []string{}, nil
	case string:
		return []string{t}, nil
	case []string:
		return dedupe(t), nil
	case []any:
		roles := make([]string, 0, len(t))
		for _, r := range t {
			s, ok := r.(string)
			if !ok {
				return nil, fmt.Errorf("%w: roles must be strings, got %T", ErrInvalidPrincipal, r)
			}
			roles = append(roles, s)
		}
		return dedupe(roles), nil
	default:
		return nil, fmt.Errorf("%w: roles claim of type %T", ErrInvalidPrincipal, raw)
	}
}

// dedupe keeps first occurrences in order.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
