package authz

// NewResourceID identifies a resource that does not exist yet.
const NewResourceID = "new"

// Resource describes the object an action targets.
type Resource struct {
	Kind       string     `json:"kind"`
	ID         string     `json:"id"`
	Attributes Attributes `json:"attr"`
}

// ToResource builds a descriptor for kind. With a record, the id is taken from
// the record's "id" attribute and the whole record is exposed as attributes.
// Without one, id is used as given ("new" when empty) and no attributes are
// attached.
func ToResource(kind string, record Attributes, id string) Resource {
	if record == nil {
		if id == "" {
			id = NewResourceID
		}
		return Resource{Kind: kind, ID: id, Attributes: Attributes{}}
	}
	if v, ok := record["id"]; ok {
		id = v.String()
	}
	return Resource{Kind: kind, ID: id, Attributes: record.Clone()}
}

// BatchItem is one entry of a multi-resource check.
type BatchItem struct {
	Resource Resource `json:"resource"`
	Actions  []string `json:"actions"`
}
