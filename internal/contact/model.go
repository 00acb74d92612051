// Package contact serves the contacts API behind decision point enforcement.
package contact

import (
	"github.com/dhawalhost/contactguard/internal/authz"
	"github.com/dhawalhost/contactguard/internal/enforce"
	"github.com/lib/pq"
)

// Kind is the resource kind contacts are described as.
const Kind = "contact"

// Contact is a CRM contact record.
type Contact struct {
	ID             string         `json:"id" db:"id"`
	FirstName      string         `json:"first_name" db:"first_name"`
	LastName       string         `json:"last_name" db:"last_name"`
	OwnerID        string         `json:"owner_id" db:"owner_id"`
	Company        string         `json:"company" db:"company"`
	Active         bool           `json:"active" db:"active"`
	MarketingOptIn bool           `json:"marketing_opt_in" db:"marketing_opt_in"`
	Tags           pq.StringArray `json:"tags" db:"tags"`
}

var _ enforce.Record = Contact{}

// Attributes exposes every field of the contact under its JSON name.
func (c Contact) Attributes() authz.Attributes {
	return authz.Attributes{
		"id":               authz.StringValue(c.ID),
		"first_name":       authz.StringValue(c.FirstName),
		"last_name":        authz.StringValue(c.LastName),
		"owner_id":         authz.StringValue(c.OwnerID),
		"company":          authz.StringValue(c.Company),
		"active":           authz.BoolValue(c.Active),
		"marketing_opt_in": authz.BoolValue(c.MarketingOptIn),
		"tags":             authz.SetValue(c.Tags...),
	}
}

// Routes
var (
	readRoute   = enforce.Route{Kind: Kind, Action: "read", PreFetch: true}
	createRoute = enforce.Route{Kind: Kind, Action: "create"}
	updateRoute = enforce.Route{Kind: Kind, Action: "update", PreFetch: true}
	deleteRoute = enforce.Route{Kind: Kind, Action: "delete", PreFetch: true}
	listRoute   = enforce.Route{Kind: Kind, Action: "list", PreFetch: true, Batch: true}
)

// DefaultContacts is the data set the memory store starts with when no
// fixture file is configured.
func DefaultContacts() []Contact {
	return []Contact{
		{ID: "1", FirstName: "Nick", LastName: "Smyth", OwnerID: "1", Company: "Cerbos", Active: true, MarketingOptIn: true, Tags: pq.StringArray{"customer"}},
		{ID: "2", FirstName: "Simon", LastName: "Jaff", OwnerID: "1", Company: "Cerbos", Active: true, MarketingOptIn: false, Tags: pq.StringArray{"customer", "vip"}},
		{ID: "3", FirstName: "Mary", LastName: "Jane", OwnerID: "2", Company: "Pepsi Co", Active: false, MarketingOptIn: true, Tags: pq.StringArray{"lead"}},
		{ID: "4", FirstName: "Christina", LastName: "Baker", OwnerID: "2", Company: "Capital One", Active: true, MarketingOptIn: false, Tags: pq.StringArray{}},
		{ID: "5", FirstName: "Aleks", LastName: "Kozlov", OwnerID: "3", Company: "Salesforce", Active: true, MarketingOptIn: true, Tags: pq.StringArray{"partner"}},
	}
}
