package enrichment

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/scrypster/introducer/pkg/types"
)

// Precedence rules for combining stored and freshly fetched profile data.
// Existing non-empty values always win.

func preferExistingString(existing, fresh string) string {
	if strings.TrimSpace(existing) != "" {
		return existing
	}
	return fresh
}

func preferExistingSlice(existing, fresh []string) []string {
	if len(existing) > 0 {
		return existing
	}
	return fresh
}

// preferExistingRaw treats null and {} as empty.
func preferExistingRaw(existing, fresh json.RawMessage) json.RawMessage {
	if !isEmptyRaw(existing) {
		return existing
	}
	return fresh
}

func isEmptyRaw(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte(`""`)) {
		return true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(t, &obj); err == nil && len(obj) == 0 {
		return true
	}
	return false
}

func preferExistingLocation(existing, fresh types.Location) types.Location {
	if !existing.IsZero() {
		return existing
	}
	return fresh
}

// mergeJobEntry adopts fresh core fields and keeps the existing entry's
// identity and hand-entered fields.
func mergeJobEntry(existing, fresh types.JobEntry) types.JobEntry {
	out := fresh
	out.ID = existing.ID
	out.OrganizationID = preferExistingString(fresh.OrganizationID, existing.OrganizationID)
	out.LogoURL = preferExistingString(fresh.LogoURL, existing.LogoURL)
	out.EmploymentType = preferExistingString(existing.EmploymentType, fresh.EmploymentType)
	out.Responsibilities = preferExistingSlice(existing.Responsibilities, fresh.Responsibilities)
	out.ContactEmail = preferExistingString(existing.ContactEmail, fresh.ContactEmail)
	return out
}

// mergeEducationEntry adopts fresh core fields and keeps the existing
// entry's identity, grade and activities.
func mergeEducationEntry(existing, fresh types.EducationEntry) types.EducationEntry {
	out := fresh
	out.ID = existing.ID
	out.OrganizationID = preferExistingString(fresh.OrganizationID, existing.OrganizationID)
	out.LogoURL = preferExistingString(fresh.LogoURL, existing.LogoURL)
	out.Grade = preferExistingString(existing.Grade, fresh.Grade)
	out.Activities = preferExistingString(existing.Activities, fresh.Activities)
	return out
}

func jobKey(j types.JobEntry) string {
	return norm(j.Company) + "|" + j.StartDate + "|" + norm(j.Title)
}

func educationKey(e types.EducationEntry) string {
	return norm(e.Institution) + "|" + e.StartDate + "|" + norm(e.FieldOfStudy)
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// mergeJobHistory folds fresh entries into existing. Manual entries are
// kept verbatim and absorb any fresh duplicate. Other matches, by URL and
// then by company, start date and title, are merged in place. Unmatched
// fresh entries are appended.
func mergeJobHistory(existing, fresh []types.JobEntry) []types.JobEntry {
	out := make([]types.JobEntry, len(existing), len(existing)+len(fresh))
	copy(out, existing)

	idx := matchHistory(len(existing), len(fresh),
		func(i int) (string, string, bool) {
			return existing[i].URL, existing[i].StartDate, existing[i].IsManual()
		},
		func(j int) (string, string) { return fresh[j].URL, fresh[j].StartDate },
		func(i, j int) bool { return jobKey(existing[i]) == jobKey(fresh[j]) },
	)

	for j, f := range fresh {
		i := idx[j]
		switch {
		case i < 0:
			out = append(out, f)
		case out[i].IsManual():
		default:
			out[i] = mergeJobEntry(out[i], f)
		}
	}
	return out
}

// mergeEducationHistory applies the job history rules to education entries.
func mergeEducationHistory(existing, fresh []types.EducationEntry) []types.EducationEntry {
	out := make([]types.EducationEntry, len(existing), len(existing)+len(fresh))
	copy(out, existing)

	idx := matchHistory(len(existing), len(fresh),
		func(i int) (string, string, bool) {
			return existing[i].URL, existing[i].StartDate, existing[i].IsManual()
		},
		func(j int) (string, string) { return fresh[j].URL, fresh[j].StartDate },
		func(i, j int) bool { return educationKey(existing[i]) == educationKey(fresh[j]) },
	)

	for j, f := range fresh {
		i := idx[j]
		switch {
		case i < 0:
			out = append(out, f)
		case out[i].IsManual():
		default:
			out[i] = mergeEducationEntry(out[i], f)
		}
	}
	return out
}

// matchHistory binds each fresh entry to at most one existing entry and
// returns the existing index per fresh entry, -1 when unmatched.
//
// URL is the primary key and applies to provider entries only. Among
// several entries sharing a URL (roles at one company) the one with the
// same start date wins, so binding runs in passes over all fresh entries:
// URL and start date, then URL alone, then the compound key.
func matchHistory(
	nExisting, nFresh int,
	existingAt func(i int) (url, start string, manual bool),
	freshAt func(j int) (url, start string),
	sameKey func(i, j int) bool,
) []int {
	idx := make([]int, nFresh)
	for j := range idx {
		idx[j] = -1
	}
	taken := make([]bool, nExisting)

	bind := func(match func(i, j int) bool) {
		for j := 0; j < nFresh; j++ {
			if idx[j] >= 0 {
				continue
			}
			for i := 0; i < nExisting; i++ {
				if !taken[i] && match(i, j) {
					idx[j] = i
					taken[i] = true
					break
				}
			}
		}
	}

	byURL := func(sameStart bool) func(i, j int) bool {
		return func(i, j int) bool {
			furl, fstart := freshAt(j)
			eurl, estart, manual := existingAt(i)
			if furl == "" || manual || eurl != furl {
				return false
			}
			return !sameStart || estart == fstart
		}
	}

	bind(byURL(true))
	bind(byURL(false))
	bind(sameKey)
	return idx
}

// fillEmptyFields copies profile fields from src into dst wherever dst is
// empty. Process fields are never touched.
func fillEmptyFields(dst, src *types.Contact) *types.Contact {
	if dst == nil || src == nil {
		return dst
	}
	dst.Name = preferExistingString(dst.Name, src.Name)
	dst.FirstName = preferExistingString(dst.FirstName, src.FirstName)
	dst.LastName = preferExistingString(dst.LastName, src.LastName)
	dst.Location = preferExistingLocation(dst.Location, src.Location)
	dst.JobTitle = preferExistingString(dst.JobTitle, src.JobTitle)
	dst.Headline = preferExistingString(dst.Headline, src.Headline)
	dst.Company = preferExistingString(dst.Company, src.Company)
	dst.ProfileURL = preferExistingString(dst.ProfileURL, src.ProfileURL)
	dst.AvatarURL = preferExistingString(dst.AvatarURL, src.AvatarURL)
	dst.RawEnrichment = preferExistingRaw(dst.RawEnrichment, src.RawEnrichment)

	if len(dst.JobHistory) == 0 && len(src.JobHistory) > 0 {
		dst.JobHistory = src.Clone().JobHistory
	}
	if len(dst.Education) == 0 && len(src.Education) > 0 {
		dst.Education = append([]types.EducationEntry(nil), src.Education...)
	}
	return dst
}

// applyScalars fills the contact's scalar profile fields from a provider
// profile, only where they are empty.
func applyScalars(c *types.Contact, p *Profile, profileURL string) {
	full := strings.TrimSpace(p.FullName)
	if full == "" {
		full = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	c.Name = preferExistingString(c.Name, full)
	c.FirstName = preferExistingString(c.FirstName, p.FirstName)
	c.LastName = preferExistingString(c.LastName, p.LastName)

	country := p.CountryFullName
	if country == "" {
		country = p.Country
	}
	c.Location = preferExistingLocation(c.Location, types.Location{City: p.City, State: p.State, Country: country})

	headline := p.Headline
	if strings.TrimSpace(headline) == "" {
		headline = p.Occupation
	}
	c.Headline = preferExistingString(c.Headline, headline)

	if cur := currentExperience(p.Experiences); cur != nil {
		c.JobTitle = preferExistingString(c.JobTitle, cur.Title)
		c.Company = preferExistingString(c.Company, cur.Company)
	}
	c.ProfileURL = preferExistingString(c.ProfileURL, profileURL)
}

// currentExperience returns the first open-ended role, or the first role.
func currentExperience(exps []Experience) *Experience {
	for i := range exps {
		if exps[i].EndsAt == nil {
			return &exps[i]
		}
	}
	if len(exps) > 0 {
		return &exps[0]
	}
	return nil
}
