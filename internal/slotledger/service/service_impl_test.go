package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
	accountrepository "github.com/smallbiznis/famlink/internal/account/repository"
	"github.com/smallbiznis/famlink/internal/config"
	graphdomain "github.com/smallbiznis/famlink/internal/familygraph/domain"
	graphrepository "github.com/smallbiznis/famlink/internal/familygraph/repository"
	graphservice "github.com/smallbiznis/famlink/internal/familygraph/service"
	"github.com/smallbiznis/famlink/internal/slotledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&accountdomain.Account{}, &graphdomain.Edge{}))
	return db
}

func newTestService(t *testing.T, db *gorm.DB, policy config.MembershipPolicy) (domain.Service, graphdomain.Service, accountdomain.Repository, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	accountRepo := accountrepository.Provide()
	graph := graphservice.New(graphservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  graphrepository.Provide(),
	})

	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		AccountRepo: accountRepo,
		Graph:       graph,
		Policy:      config.NewStaticPolicyHolder(policy),
	})
	return svc, graph, accountRepo, node
}

func seedOwner(t *testing.T, db *gorm.DB, node *snowflake.Node, purchased int) snowflake.ID {
	t.Helper()
	owner := accountdomain.Account{
		ID:                  node.Generate(),
		Email:               fmt.Sprintf("owner-%d@example.com", node.Generate()),
		Role:                accountdomain.RoleOwner,
		TotalSlotsPurchased: purchased,
		CreatedAt:           time.Now().UTC(),
		UpdatedAt:           time.Now().UTC(),
	}
	require.NoError(t, db.Create(&owner).Error)
	return owner.ID
}

func TestReconcileCountersFollowGraph(t *testing.T) {
	db := newTestDB(t)
	svc, graph, accountRepo, node := newTestService(t, db, config.DefaultMembershipPolicy())
	ctx := context.Background()

	ownerID := seedOwner(t, db, node, 3)
	require.NoError(t, graph.AddEdge(ctx, ownerID, node.Generate()))
	require.NoError(t, graph.AddEdge(ctx, ownerID, node.Generate()))

	summary, err := svc.Reconcile(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalPurchased)
	assert.Equal(t, 2, summary.ActualUsed)
	assert.Equal(t, 1, summary.Available)

	owner, err := accountRepo.FindByID(ctx, db, ownerID)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, 2, owner.SlotsUsedCached)
	assert.Equal(t, 1, owner.SlotsAvailable)
}

func TestReconcileClampsNegativeAvailability(t *testing.T) {
	db := newTestDB(t)
	svc, graph, _, node := newTestService(t, db, config.DefaultMembershipPolicy())
	ctx := context.Background()

	ownerID := seedOwner(t, db, node, 1)
	for i := 0; i < 3; i++ {
		require.NoError(t, graph.AddEdge(ctx, ownerID, node.Generate()))
	}

	summary, err := svc.Reconcile(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ActualUsed)
	assert.Equal(t, 0, summary.Available)
}

func TestCheckAvailability(t *testing.T) {
	policy := config.DefaultMembershipPolicy()
	policy.HardMaxDependents = 3

	t.Run("slot available", func(t *testing.T) {
		db := newTestDB(t)
		svc, _, _, node := newTestService(t, db, policy)
		ownerID := seedOwner(t, db, node, 2)

		summary, err := svc.CheckAvailability(context.Background(), ownerID)
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Available)
	})

	t.Run("quota exhausted", func(t *testing.T) {
		db := newTestDB(t)
		svc, graph, _, node := newTestService(t, db, policy)
		ctx := context.Background()
		ownerID := seedOwner(t, db, node, 1)
		require.NoError(t, graph.AddEdge(ctx, ownerID, node.Generate()))

		_, err := svc.CheckAvailability(ctx, ownerID)
		assert.ErrorIs(t, err, domain.ErrNoAvailableSlot)
	})

	t.Run("hard ceiling binds before purchased slots", func(t *testing.T) {
		db := newTestDB(t)
		svc, graph, _, node := newTestService(t, db, policy)
		ctx := context.Background()
		ownerID := seedOwner(t, db, node, 10)
		for i := 0; i < 3; i++ {
			require.NoError(t, graph.AddEdge(ctx, ownerID, node.Generate()))
		}

		_, err := svc.CheckAvailability(ctx, ownerID)
		assert.ErrorIs(t, err, domain.ErrHardMaximum)
	})

	t.Run("owner missing", func(t *testing.T) {
		db := newTestDB(t)
		svc, _, _, node := newTestService(t, db, policy)

		_, err := svc.CheckAvailability(context.Background(), node.Generate())
		assert.ErrorIs(t, err, domain.ErrOwnerNotFound)
	})

	t.Run("member is not an owner", func(t *testing.T) {
		db := newTestDB(t)
		svc, _, _, node := newTestService(t, db, policy)
		member := accountdomain.Account{
			ID:    node.Generate(),
			Email: "member@example.com",
			Role:  accountdomain.RoleMember,
		}
		require.NoError(t, db.Create(&member).Error)

		_, err := svc.CheckAvailability(context.Background(), member.ID)
		assert.ErrorIs(t, err, domain.ErrNotOwner)
	})
}

func TestPurchasedSlotMutations(t *testing.T) {
	db := newTestDB(t)
	svc, _, _, node := newTestService(t, db, config.DefaultMembershipPolicy())
	ctx := context.Background()
	ownerID := seedOwner(t, db, node, 0)

	summary, err := svc.AddPurchased(ctx, ownerID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalPurchased)
	assert.Equal(t, 3, summary.Available)

	summary, err = svc.SetPurchased(ctx, ownerID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalPurchased)

	_, err = svc.AddPurchased(ctx, ownerID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidSlots)

	_, err = svc.SetPurchased(ctx, ownerID, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidSlots)
}

// Concurrent enrollments racing for the last slot must not both win.
func TestWithParentLockSerializesSlotConsumption(t *testing.T) {
	db := newTestDB(t)
	svc, graph, _, node := newTestService(t, db, config.DefaultMembershipPolicy())
	ctx := context.Background()

	const purchased = 2
	ownerID := seedOwner(t, db, node, purchased)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.WithParentLock(ctx, ownerID, func(ctx context.Context) error {
				if _, err := svc.CheckAvailability(ctx, ownerID); err != nil {
					return err
				}
				return graph.AddEdge(ctx, ownerID, node.Generate())
			})
		}()
	}
	wg.Wait()

	used, err := svc.ActualUsed(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, purchased, used)
}
