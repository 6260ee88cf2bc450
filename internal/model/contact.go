package model

// Contact is a person returned by the enrichment provider.
//
// ID, FirstName, LastName and the capability flags are provider-side
// identity and never leave the process; the JSON shape is the contact as
// clients see it, with absent optional fields omitted.
type Contact struct {
	ID               string `json:"-"`
	FirstName        string `json:"-"`
	LastName         string `json:"-"`
	Name             string `json:"name"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Title            string `json:"title,omitempty"`
	LinkedInURL      string `json:"linkedin_url,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
	HasEmail         bool   `json:"-"`
	HasDirectPhone   bool   `json:"-"`
}

// ContactIDs returns the non-empty provider ids of contacts, in order.
func ContactIDs(contacts []Contact) []string {
	ids := make([]string, 0, len(contacts))
	for _, c := range contacts {
		if c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
