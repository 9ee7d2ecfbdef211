package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/example/peer-scheduler/internal/persistence"
)

// ProfileRepository captures the persistence operations needed by the identity service.
type ProfileRepository interface {
	UpsertProfile(ctx context.Context, profile persistence.Profile) error
	ListProfiles(ctx context.Context, ids []string) ([]persistence.Profile, error)
}

// NameResolver resolves user IDs to display names.
type NameResolver interface {
	ResolveDisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

const maxDisplayNameLength = 80

// IdentityService remembers the display names asserted by the gateway and
// resolves them for aggregated views.
type IdentityService struct {
	profiles ProfileRepository
	opts     serviceOptions
}

// NewIdentityService constructs an identity service.
func NewIdentityService(profiles ProfileRepository, opts ...Option) *IdentityService {
	return &IdentityService{profiles: profiles, opts: newServiceOptions(opts)}
}

// Remember upserts the principal's display name. Principals without a name
// are left alone.
func (s *IdentityService) Remember(ctx context.Context, principal Principal) error {
	if s == nil || s.profiles == nil {
		return nil
	}
	name := strings.TrimSpace(principal.DisplayName)
	if principal.UserID == "" || name == "" {
		return nil
	}
	if len(name) > maxDisplayNameLength {
		name = name[:maxDisplayNameLength]
	}

	err := s.profiles.UpsertProfile(ctx, persistence.Profile{
		ID:          principal.UserID,
		DisplayName: name,
		UpdatedAt:   s.opts.now(),
	})
	if err != nil {
		return fmt.Errorf("remember profile: %w", mapRepoError(err))
	}
	return nil
}

// ResolveDisplayNames returns names for the known IDs. The simulated partner
// always resolves.
func (s *IdentityService) ResolveDisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	lookup := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == persistence.SimulatedPartnerID {
			names[id] = "Practice partner"
			continue
		}
		lookup = append(lookup, id)
	}
	if s == nil || s.profiles == nil || len(lookup) == 0 {
		return names, nil
	}

	profiles, err := s.profiles.ListProfiles(ctx, lookup)
	if err != nil {
		serviceLogger(ctx, s.opts.logger, "IdentityService", "ResolveDisplayNames").
			WarnContext(ctx, "failed to resolve display names", "error", err, slog.Int("ids", len(lookup)))
		return names, mapRepoError(err)
	}
	for _, p := range profiles {
		names[p.ID] = p.DisplayName
	}
	return names, nil
}
