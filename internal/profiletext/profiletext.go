// Package profiletext renders a contact as the canonical description used
// as embedding input.
package profiletext

import (
	"strings"

	"github.com/scrypster/introducer/pkg/types"
)

// Separator joins the sections of a profile description.
const Separator = " | "

// genericEmailDomains are consumer mail providers that say nothing about
// where a contact works.
var genericEmailDomains = map[string]struct{}{
	"gmail.com":      {},
	"outlook.com":    {},
	"hotmail.com":    {},
	"yahoo.com":      {},
	"icloud.com":     {},
	"live.com":       {},
	"msn.com":        {},
	"protonmail.com": {},
}

// IsGenericEmailDomain reports whether domain belongs to a consumer mail provider.
func IsGenericEmailDomain(domain string) bool {
	_, ok := genericEmailDomains[strings.ToLower(strings.TrimSpace(domain))]
	return ok
}

// Build returns the description for c. The output is deterministic and
// empty when the contact carries no usable profile data.
func Build(c *types.Contact) string {
	if c == nil {
		return ""
	}

	var parts []string
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, label+": "+value)
		}
	}

	add("Name", displayName(c))

	title := c.Headline
	if strings.TrimSpace(title) == "" {
		title = c.JobTitle
	}
	add("Professional Title", title)
	add("Company", c.Company)
	add("Location", c.Location.String())
	add("Experience", experience(c.JobHistory))
	add("Education", education(c.Education))

	if domain := c.EmailDomain(); domain != "" && !IsGenericEmailDomain(domain) {
		add("Email Domain", domain)
	}

	return strings.Join(parts, Separator)
}

func displayName(c *types.Contact) string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	full := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if full != "" {
		return full
	}
	return c.DisplayName
}

func experience(jobs []types.JobEntry) string {
	entries := make([]string, 0, len(jobs))
	for _, j := range jobs {
		title, company := strings.TrimSpace(j.Title), strings.TrimSpace(j.Company)
		switch {
		case title != "" && company != "":
			entries = append(entries, title+" at "+company)
		case title != "":
			entries = append(entries, title)
		case company != "":
			entries = append(entries, company)
		}
	}
	return strings.Join(entries, ", ")
}

func education(schools []types.EducationEntry) string {
	entries := make([]string, 0, len(schools))
	for _, e := range schools {
		var b strings.Builder
		degree, field, inst := strings.TrimSpace(e.Degree), strings.TrimSpace(e.FieldOfStudy), strings.TrimSpace(e.Institution)
		b.WriteString(degree)
		if field != "" {
			if b.Len() > 0 {
				b.WriteString(" in ")
			}
			b.WriteString(field)
		}
		if inst != "" {
			if b.Len() > 0 {
				b.WriteString(" at ")
			}
			b.WriteString(inst)
		}
		if b.Len() > 0 {
			entries = append(entries, b.String())
		}
	}
	return strings.Join(entries, ", ")
}
