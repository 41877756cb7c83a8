package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/famlink/internal/account/domain"
	"github.com/smallbiznis/famlink/internal/account/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Account{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return New(Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: repository.Provide()})
}

func TestCreateNormalizesAndValidates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	account, err := svc.Create(ctx, domain.CreateAccountRequest{
		Email:     "  Owner@Example.COM ",
		FirstName: " Alex ",
		Role:      domain.RoleOwner,
	})
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", account.Email)
	assert.Equal(t, "Alex", account.FirstName)
	assert.NotZero(t, account.ID)

	_, err = svc.Create(ctx, domain.CreateAccountRequest{Email: "missing-at-sign", Role: domain.RoleOwner})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)

	_, err = svc.Create(ctx, domain.CreateAccountRequest{Email: "a@b.com", Role: "admin"})
	assert.ErrorIs(t, err, domain.ErrInvalidRole)

	_, err = svc.Create(ctx, domain.CreateAccountRequest{Email: "a@b.com", Role: domain.RoleMember, ParentID: "not-a-number"})
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateAccountRequest{Email: "owner@example.com", Role: domain.RoleOwner})
	require.NoError(t, err)

	// Same address with different casing hits the unique index.
	_, err = svc.Create(ctx, domain.CreateAccountRequest{Email: "OWNER@example.com", Role: domain.RoleOwner})
	assert.ErrorIs(t, err, domain.ErrDuplicateEmail)
}

func TestLookupAndMutations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateAccountRequest{Email: "owner@example.com", Role: domain.RoleOwner})
	require.NoError(t, err)
	id := created.ID.String()

	found, err := svc.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	found, err = svc.GetByEmail(ctx, "owner@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)

	_, err = svc.GetByID(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	require.NoError(t, svc.SetExternalID(ctx, id, "ext-99"))
	found, err = svc.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found.ExternalID)
	assert.Equal(t, "ext-99", *found.ExternalID)

	require.NoError(t, svc.AssignRole(ctx, id, domain.RoleMember))
	found, err = svc.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, found.Role)

	require.NoError(t, svc.Delete(ctx, id))
	found, err = svc.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, found)
}
