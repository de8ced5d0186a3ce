package types

// JobEntry is one employment record on a contact's job history.
// Entries without a URL were entered by hand and are never replaced by
// enrichment.
type JobEntry struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Company        string `json:"company"`
	OrganizationID string `json:"organization_id,omitempty"`
	LogoURL        string `json:"logo_url,omitempty"`
	Description    string `json:"description,omitempty"`
	Location       string `json:"location,omitempty"`
	StartDate      string `json:"start_date,omitempty"` // YYYY-MM
	EndDate        string `json:"end_date,omitempty"`   // YYYY-MM, empty for a current role
	IsCurrentRole  bool   `json:"is_current_role"`
	URL            string `json:"url,omitempty"` // Organization page on the professional network

	// Fields only ever entered by hand
	EmploymentType   string   `json:"employment_type,omitempty"`
	Responsibilities []string `json:"responsibilities,omitempty"`
	ContactEmail     string   `json:"contact_email,omitempty"`
}

// IsManual reports whether the entry was entered by hand.
func (j JobEntry) IsManual() bool { return j.URL == "" }

func (j JobEntry) clone() JobEntry {
	if j.Responsibilities != nil {
		j.Responsibilities = append([]string(nil), j.Responsibilities...)
	}
	return j
}

// EducationEntry is one education record on a contact's education history.
type EducationEntry struct {
	ID             string `json:"id"`
	Institution    string `json:"institution"`
	OrganizationID string `json:"organization_id,omitempty"`
	LogoURL        string `json:"logo_url,omitempty"`
	Degree         string `json:"degree,omitempty"`
	FieldOfStudy   string `json:"field_of_study,omitempty"`
	Description    string `json:"description,omitempty"`
	StartDate      string `json:"start_date,omitempty"` // YYYY-MM
	EndDate        string `json:"end_date,omitempty"`   // YYYY-MM
	IsCurrent      bool   `json:"is_current"`
	URL            string `json:"url,omitempty"`

	Grade      string `json:"grade,omitempty"`
	Activities string `json:"activities,omitempty"`
}

// IsManual reports whether the entry was entered by hand.
func (e EducationEntry) IsManual() bool { return e.URL == "" }

// OrganizationType distinguishes employers from schools in the
// organization registry.
type OrganizationType string

const (
	OrganizationCompany OrganizationType = "company"
	OrganizationSchool  OrganizationType = "school"
)

// Organization is a registry entry shared across contacts.
// (Name, Type) is unique.
type Organization struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Type       OrganizationType `json:"type"`
	LogoURL    string           `json:"logo_url,omitempty"`
	ProfileURL string           `json:"profile_url,omitempty"`
}
