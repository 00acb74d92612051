package pdp

import "github.com/dhawalhost/contactguard/internal/authz"

const effectAllow = "EFFECT_ALLOW"

type checkResourcesRequest struct {
	RequestID string          `json:"requestId"`
	Principal principalEntry  `json:"principal"`
	Resources []resourceEntry `json:"resources"`
}

type principalEntry struct {
	ID            string           `json:"id"`
	Roles         []string         `json:"roles"`
	Attr          authz.Attributes `json:"attr,omitempty"`
	PolicyVersion string           `json:"policyVersion,omitempty"`
}

type resourceEntry struct {
	Actions  []string       `json:"actions"`
	Resource resourceFields `json:"resource"`
}

type resourceFields struct {
	Kind          string           `json:"kind"`
	ID            string           `json:"id"`
	Attr          authz.Attributes `json:"attr,omitempty"`
	PolicyVersion string           `json:"policyVersion,omitempty"`
}

type checkResourcesResponse struct {
	RequestID string        `json:"requestId"`
	Results   []resultEntry `json:"results"`
}

type resultEntry struct {
	Resource struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	} `json:"resource"`
	Actions          map[string]string `json:"actions"`
	ValidationErrors []validationError `json:"validationErrors,omitempty"`
}

type validationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

func (c *Client) encodeRequest(requestID string, p authz.Principal, items []authz.BatchItem) checkResourcesRequest {
	req := checkResourcesRequest{
		RequestID: requestID,
		Principal: principalEntry{
			ID:            p.ID,
			Roles:         p.Roles,
			Attr:          p.Attributes,
			PolicyVersion: c.policyVersion,
		},
		Resources: make([]resourceEntry, 0, len(items)),
	}
	if req.Principal.Roles == nil {
		req.Principal.Roles = []string{}
	}
	for _, item := range items {
		req.Resources = append(req.Resources, resourceEntry{
			Actions: uniqueActions(item.Actions),
			Resource: resourceFields{
				Kind:          item.Resource.Kind,
				ID:            item.Resource.ID,
				Attr:          item.Resource.Attributes,
				PolicyVersion: c.policyVersion,
			},
		})
	}
	return req
}

func decodeResponse(resp checkResourcesResponse) authz.BatchDecision {
	bd := authz.BatchDecision{
		RequestID: resp.RequestID,
		Results:   make([]authz.ResourceDecision, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		rd := authz.ResourceDecision{
			Kind:    r.Resource.Kind,
			ID:      r.Resource.ID,
			Actions: make(authz.Decision, len(r.Actions)),
		}
		for action, effect := range r.Actions {
			rd.Actions[action] = effect == effectAllow
		}
		for _, ve := range r.ValidationErrors {
			rd.ValidationErrors = append(rd.ValidationErrors, ve.Path+": "+ve.Message)
		}
		bd.Results = append(bd.Results, rd)
	}
	return bd
}

func uniqueActions(actions []string) []string {
	out := make([]string, 0, len(actions))
	seen := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
