package featureflags

import (
	"context"

	"slotwise-platform/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

// Flag names consumed by the platform. ReleaseOnBookingCancel decides whether
// cancelling a confirmed booking frees its coupon slot; the ledger itself is
// policy-free.
const (
	FlagReleaseOnBookingCancel = "coupon_release_on_booking_cancel"
)

type FeatureFlag interface {
	IsEnabled(ctx context.Context, identifier, feature string) bool
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithBaseURL(p.Config.Flagsmith.Addr),
		flagsmith.WithAnalytics(),
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

// IsEnabled reports whether a feature is enabled for the given identifier.
// Without a configured client every feature defaults to enabled, which keeps
// local development permissive.
func (s *featureflag) IsEnabled(ctx context.Context, identifier, feature string) bool {
	if s.client == nil {
		return true
	}

	flags, err := s.client.GetIdentityFlags(identifier, nil)
	if err != nil {
		return true
	}

	enabled, err := flags.IsFeatureEnabled(feature)
	if err != nil {
		return true
	}

	return enabled
}
