package enrichment

import (
	"context"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/media"
	"github.com/scrypster/introducer/pkg/types"
)

// OrganizationRegistry deduplicates employers and schools by (name, type).
// storage.OrganizationStore satisfies it.
type OrganizationRegistry interface {
	UpsertOrganization(ctx context.Context, name string, orgType types.OrganizationType, profileURL string) (*types.Organization, error)
	UpdateOrganizationLogo(ctx context.Context, id, logoURL string) error
}

// orgResolver resolves organizations for one enrichment run.
// Failures are logged and leave the entry without an organization.
type orgResolver struct {
	registry OrganizationRegistry
	relay    media.Relay
	logger   *zap.Logger
	seen     map[string]*types.Organization
}

func newOrgResolver(registry OrganizationRegistry, relay media.Relay, logger *zap.Logger) *orgResolver {
	return &orgResolver{registry: registry, relay: relay, logger: logger, seen: make(map[string]*types.Organization)}
}

// resolve returns the organization id and logo URL for an entry.
func (r *orgResolver) resolve(ctx context.Context, name string, orgType types.OrganizationType, profileURL, providerLogo string) (id, logo string) {
	name = strings.TrimSpace(name)
	if name == "" || r.registry == nil {
		return "", providerLogo
	}

	key := string(orgType) + "|" + strings.ToLower(name)
	org, ok := r.seen[key]
	if !ok {
		var err error
		org, err = r.registry.UpsertOrganization(ctx, name, orgType, profileURL)
		if err != nil {
			r.logger.Warn("organization upsert failed",
				zap.String("name", name), zap.String("type", string(orgType)), zap.Error(err))
			return "", providerLogo
		}
		r.seen[key] = org
	}

	if org.LogoURL == "" && providerLogo != "" {
		if relayed := r.relayLogo(ctx, org, providerLogo); relayed != "" {
			org.LogoURL = relayed
		}
	}
	if org.LogoURL != "" {
		return org.ID, org.LogoURL
	}
	return org.ID, providerLogo
}

func (r *orgResolver) relayLogo(ctx context.Context, org *types.Organization, source string) string {
	if r.relay == nil {
		return ""
	}
	dest := "organizations/" + org.ID + imageExt(source)
	url, err := r.relay.DownloadAndStore(ctx, source, dest)
	if err != nil {
		r.logger.Warn("logo relay failed", zap.String("organization_id", org.ID), zap.Error(err))
		return ""
	}
	if url == "" {
		return ""
	}
	if err := r.registry.UpdateOrganizationLogo(ctx, org.ID, url); err != nil {
		r.logger.Warn("organization logo update failed", zap.String("organization_id", org.ID), zap.Error(err))
	}
	return url
}

// buildJobs converts provider experiences into job entries.
func (r *orgResolver) buildJobs(ctx context.Context, exps []Experience) []types.JobEntry {
	out := make([]types.JobEntry, 0, len(exps))
	for _, x := range exps {
		if strings.TrimSpace(x.Title) == "" && strings.TrimSpace(x.Company) == "" {
			continue
		}
		orgID, logo := r.resolve(ctx, x.Company, types.OrganizationCompany, x.CompanyLinkedinProfileURL, x.LogoURL)
		job := types.JobEntry{
			ID:             uuid.NewString(),
			Title:          strings.TrimSpace(x.Title),
			Company:        strings.TrimSpace(x.Company),
			OrganizationID: orgID,
			LogoURL:        logo,
			Description:    x.Description,
			Location:       x.Location,
			StartDate:      x.StartsAt.Format(),
			EndDate:        x.EndsAt.Format(),
			URL:            x.CompanyLinkedinProfileURL,
		}
		job.IsCurrentRole = job.EndDate == ""
		out = append(out, job)
	}
	return out
}

// buildEducation converts provider education into education entries.
func (r *orgResolver) buildEducation(ctx context.Context, edus []Education) []types.EducationEntry {
	out := make([]types.EducationEntry, 0, len(edus))
	for _, x := range edus {
		if strings.TrimSpace(x.School) == "" {
			continue
		}
		orgID, logo := r.resolve(ctx, x.School, types.OrganizationSchool, x.SchoolLinkedinProfileURL, x.LogoURL)
		edu := types.EducationEntry{
			ID:             uuid.NewString(),
			Institution:    strings.TrimSpace(x.School),
			OrganizationID: orgID,
			LogoURL:        logo,
			Degree:         x.DegreeName,
			FieldOfStudy:   x.FieldOfStudy,
			Description:    x.Description,
			StartDate:      x.StartsAt.Format(),
			EndDate:        x.EndsAt.Format(),
			URL:            x.SchoolLinkedinProfileURL,
			Grade:          x.Grade,
			Activities:     x.ActivitiesAndSocieties,
		}
		edu.IsCurrent = edu.EndDate == ""
		out = append(out, edu)
	}
	return out
}

func imageExt(source string) string {
	p := source
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg":
		return ext
	default:
		return ".jpg"
	}
}
