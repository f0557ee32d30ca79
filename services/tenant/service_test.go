package tenant

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slotwise-platform/pkg/errutil"
	"slotwise-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestTenantService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Tenant{})
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestService_CreateSlugsName(t *testing.T) {
	svc := newTestTenantService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateTenantInput{Name: "Bella Hair Studio"})
	require.NoError(t, err)
	require.Equal(t, "bella-hair-studio", created.Slug)
	require.Equal(t, StatusActive, created.Status)

	_, err = svc.Create(ctx, CreateTenantInput{Name: "Other", Slug: "bella-hair-studio"})
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusConflict, base.Code)
}

func TestService_IsTenantActive(t *testing.T) {
	svc := newTestTenantService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateTenantInput{Name: "Studio"})
	require.NoError(t, err)

	active, err := svc.IsTenantActive(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, active)

	_, err = svc.SetStatus(ctx, created.ID, StatusSuspended)
	require.NoError(t, err)

	active, err = svc.IsTenantActive(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, active)
}

func TestService_IsTenantActiveUnknown(t *testing.T) {
	svc := newTestTenantService(t)

	_, err := svc.IsTenantActive(context.Background(), "missing")
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusNotFound, base.Code)
}
