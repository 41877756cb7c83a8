package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/famlink/internal/account/domain"
	accountrepo "github.com/smallbiznis/famlink/internal/account/repository"
	accountservice "github.com/smallbiznis/famlink/internal/account/service"
	"github.com/smallbiznis/famlink/internal/clock"
	"github.com/smallbiznis/famlink/internal/config"
	crmdomain "github.com/smallbiznis/famlink/internal/crm/domain"
	graphdomain "github.com/smallbiznis/famlink/internal/familygraph/domain"
	graphrepo "github.com/smallbiznis/famlink/internal/familygraph/repository"
	graphservice "github.com/smallbiznis/famlink/internal/familygraph/service"
	"github.com/smallbiznis/famlink/internal/lifecycle/domain"
	"github.com/smallbiznis/famlink/internal/notification"
	relservice "github.com/smallbiznis/famlink/internal/relationship/service"
	slotdomain "github.com/smallbiznis/famlink/internal/slotledger/domain"
	slotservice "github.com/smallbiznis/famlink/internal/slotledger/service"
	syncdomain "github.com/smallbiznis/famlink/internal/syncjob/domain"
	syncrepo "github.com/smallbiznis/famlink/internal/syncjob/repository"
	syncservice "github.com/smallbiznis/famlink/internal/syncjob/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeConnector is a minimal in-memory CRM for end-to-end lifecycle
// runs.
type fakeConnector struct {
	nextID        int64
	relationships map[string][]crmdomain.Relationship
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{nextID: 900, relationships: make(map[string][]crmdomain.Relationship)}
}

func (f *fakeConnector) RegisterOrUpdateConstituent(ctx context.Context, c crmdomain.Constituent) (string, error) {
	if c.ExternalID != "" {
		return c.ExternalID, nil
	}
	f.nextID++
	return fmt.Sprintf("ext-%d", f.nextID), nil
}

func (f *fakeConnector) CreateRelationship(ctx context.Context, req crmdomain.CreateRelationshipRequest) (int64, error) {
	f.nextID++
	typeName := "Child"
	if req.RelationTypeID == 1 {
		typeName = "Parent"
	}
	f.relationships[req.ConstituentID] = append(f.relationships[req.ConstituentID], crmdomain.Relationship{
		ID:                f.nextID,
		ConstituentID:     req.ConstituentID,
		RelationshipType:  typeName,
		RelationTypeID:    req.RelationTypeID,
		RelatedExternalID: req.RelatedExternalID,
	})
	return f.nextID, nil
}

func (f *fakeConnector) DeleteRelationship(ctx context.Context, constituentID string, relationshipID int64) error {
	kept := f.relationships[constituentID][:0]
	for _, rel := range f.relationships[constituentID] {
		if rel.ID != relationshipID {
			kept = append(kept, rel)
		}
	}
	f.relationships[constituentID] = kept
	return nil
}

func (f *fakeConnector) ListRelationships(ctx context.Context, constituentID string) ([]crmdomain.Relationship, error) {
	return f.relationships[constituentID], nil
}

func (f *fakeConnector) ListRelationshipTypes(ctx context.Context) ([]crmdomain.RelationshipType, error) {
	return []crmdomain.RelationshipType{
		{ID: 1, Name: "Parent"},
		{ID: 2, Name: "Child"},
	}, nil
}

// slotRecorder counts reconcile calls on the way through to the real
// slot service.
type slotRecorder struct {
	slotdomain.Service
	reconciles int
}

func (r *slotRecorder) Reconcile(ctx context.Context, parentID snowflake.ID) (slotdomain.Summary, error) {
	r.reconciles++
	return r.Service.Reconcile(ctx, parentID)
}

// fakeMailer records welcome messages instead of sending them.
type fakeMailer struct {
	sent []notification.WelcomeMessage
}

func (m *fakeMailer) SendWelcome(ctx context.Context, msg notification.WelcomeMessage) error {
	m.sent = append(m.sent, msg)
	return nil
}

type fixture struct {
	lifecycle   domain.Service
	scheduler   syncdomain.Scheduler
	slots       slotdomain.Service
	graph       graphdomain.Service
	accountRepo accountdomain.Repository
	db          *gorm.DB
	node        *snowflake.Node
	connector   *fakeConnector
	mailer      *fakeMailer
	slotRec     *slotRecorder
}

func newFixture(t *testing.T, policy config.MembershipPolicy) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&accountdomain.Account{}, &graphdomain.Edge{}, &syncdomain.SyncJob{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	holder := config.NewStaticPolicyHolder(policy)
	accounts := accountrepo.Provide()
	accountSvc := accountservice.New(accountservice.Params{DB: db, Log: log, GenID: node, Repo: accounts})
	graph := graphservice.New(graphservice.Params{DB: db, Log: log, GenID: node, Repo: graphrepo.Provide()})
	slots := slotservice.New(slotservice.Params{DB: db, Log: log, AccountRepo: accounts, Graph: graph, Policy: holder})

	connector := newFakeConnector()
	relationship := relservice.New(relservice.Params{Log: log, Connector: connector})
	scheduler := syncservice.New(syncservice.Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        clock.NewFakeClock(time.Now()),
		Repo:         syncrepo.Provide(),
		AccountRepo:  accounts,
		Relationship: relationship,
		Policy:       holder,
	})

	mailer := &fakeMailer{}
	slotRec := &slotRecorder{Service: slots}
	lifecycle := New(Params{
		DB:           db,
		Log:          log,
		Clock:        clock.NewFakeClock(time.Now()),
		AccountSvc:   accountSvc,
		AccountRepo:  accounts,
		Graph:        graph,
		Slots:        slotRec,
		Sync:         scheduler,
		Notification: mailer,
	})

	return &fixture{
		lifecycle:   lifecycle,
		scheduler:   scheduler,
		slots:       slots,
		graph:       graph,
		accountRepo: accounts,
		db:          db,
		node:        node,
		connector:   connector,
		mailer:      mailer,
		slotRec:     slotRec,
	}
}

func defaultPolicy() config.MembershipPolicy {
	return config.MembershipPolicy{
		HardMaxDependents: 5,
		SyncRetryDelay:    5 * time.Minute,
		SyncMaxAttempts:   3,
		WorkerInterval:    time.Second,
		WorkerBatchSize:   10,
	}
}

func (f *fixture) seedOwner(t *testing.T, purchased int) *accountdomain.Account {
	t.Helper()
	start := time.Now().UTC().Add(-30 * 24 * time.Hour)
	renewal := start.Add(365 * 24 * time.Hour)
	subscriptionID := "sub-1001"
	subscriptionStatus := "active"

	owner := &accountdomain.Account{
		ID:                  f.node.Generate(),
		Email:               fmt.Sprintf("owner-%s@example.com", f.node.Generate()),
		FirstName:           "Alex",
		LastName:            "Rivera",
		Role:                accountdomain.RoleOwner,
		MembershipLevel:     "family_plus",
		MembershipStart:     &start,
		MembershipRenewal:   &renewal,
		SubscriptionID:      &subscriptionID,
		SubscriptionStatus:  &subscriptionStatus,
		TotalSlotsPurchased: purchased,
	}
	require.NoError(t, f.accountRepo.Insert(context.Background(), f.db, owner))
	return owner
}

func TestCreateMemberEnrollsDependent(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()
	owner := f.seedOwner(t, 2)

	result, err := f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{
		OwnerID:   owner.ID,
		Email:     "Kid@Example.com",
		FirstName: "Sam",
		LastName:  "Rivera",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Account)

	member := result.Account
	assert.Equal(t, accountdomain.RoleMember, member.Role)
	assert.Equal(t, "kid@example.com", member.Email)
	require.NotNil(t, member.ParentID)
	assert.Equal(t, owner.ID, *member.ParentID)

	// Membership snapshot copied from the owner.
	assert.Equal(t, "family_plus", member.MembershipLevel)
	require.NotNil(t, member.MembershipStart)
	require.NotNil(t, member.SubscriptionID)
	assert.Equal(t, "sub-1001", *member.SubscriptionID)

	linked, err := f.graph.HasEdge(ctx, owner.ID, member.ID)
	require.NoError(t, err)
	assert.True(t, linked)

	summary, err := f.slots.Reconcile(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ActualUsed)
	assert.Equal(t, 1, summary.Available)

	assert.True(t, result.SyncQueued)
	assert.NotZero(t, result.SyncJobID)
	jobs, err := f.scheduler.ListJobs(ctx, syncdomain.ListFilter{Status: syncdomain.StatusQueued})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, member.ID, jobs[0].AccountID)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "kid@example.com", f.mailer.sent[0].Email)
	assert.Equal(t, "Alex Rivera", f.mailer.sent[0].OwnerName)
	assert.Equal(t, notification.OriginFamilyEnrollment, f.mailer.sent[0].Origin)
}

func TestCreateMemberValidation(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()
	owner := f.seedOwner(t, 2)

	_, err := f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{OwnerID: owner.ID, Email: "not-an-email"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{OwnerID: f.node.Generate(), Email: "kid@example.com"})
	assert.ErrorIs(t, err, slotdomain.ErrOwnerNotFound)

	result, err := f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{OwnerID: owner.ID, Email: "kid@example.com"})
	require.NoError(t, err)

	// Members cannot enroll their own dependents.
	_, err = f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{OwnerID: result.Account.ID, Email: "other@example.com"})
	assert.ErrorIs(t, err, slotdomain.ErrNotOwner)

	_, err = f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{OwnerID: owner.ID, Email: "KID@example.com"})
	assert.ErrorIs(t, err, accountdomain.ErrDuplicateEmail)
}

func TestCreateMemberQuotaExhausted(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()
	owner := f.seedOwner(t, 1)

	_, err := f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{OwnerID: owner.ID, Email: "first@example.com"})
	require.NoError(t, err)

	_, err = f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{OwnerID: owner.ID, Email: "second@example.com"})
	assert.ErrorIs(t, err, slotdomain.ErrNoAvailableSlot)

	used, err := f.slots.ActualUsed(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestCreateMemberHardCeiling(t *testing.T) {
	policy := defaultPolicy()
	policy.HardMaxDependents = 2
	f := newFixture(t, policy)
	ctx := context.Background()

	// Purchased slots beyond the ceiling do not raise it.
	owner := f.seedOwner(t, 10)

	for i := 0; i < 2; i++ {
		_, err := f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{
			OwnerID: owner.ID,
			Email:   fmt.Sprintf("kid%d@example.com", i),
		})
		require.NoError(t, err)
	}

	_, err := f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{OwnerID: owner.ID, Email: "kid9@example.com"})
	assert.ErrorIs(t, err, slotdomain.ErrHardMaximum)
}

func TestRemoveMembersBatch(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()
	owner := f.seedOwner(t, 3)

	var memberIDs []snowflake.ID
	for i := 0; i < 2; i++ {
		result, err := f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{
			OwnerID: owner.ID,
			Email:   fmt.Sprintf("kid%d@example.com", i),
		})
		require.NoError(t, err)
		memberIDs = append(memberIDs, result.Account.ID)
	}
	// Mirror both members into the CRM so removal has pairs to clean up.
	require.NoError(t, f.scheduler.RunOnce(ctx))

	unknown := f.node.Generate()
	result, err := f.lifecycle.RemoveMembers(ctx, owner.ID, append(memberIDs, unknown))
	require.ErrorIs(t, err, domain.ErrMemberNotFound)
	assert.ElementsMatch(t, memberIDs, result.Removed)

	for _, id := range memberIDs {
		stored, err := f.accountRepo.FindByID(ctx, f.db, id)
		require.NoError(t, err)
		assert.Nil(t, stored)
	}

	summary, err := f.slots.Reconcile(ctx, owner.ID)
	require.NoError(t, err)
	assert.Zero(t, summary.ActualUsed)
	assert.Equal(t, 3, summary.Available)

	// Delete jobs carry the captured CRM identifiers; running them
	// clears the mirrored pairs.
	jobs, err := f.scheduler.ListJobs(ctx, syncdomain.ListFilter{Status: syncdomain.StatusQueued})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.NoError(t, f.scheduler.RunOnce(ctx))
	for _, rels := range f.connector.relationships {
		assert.Empty(t, rels)
	}
}

func TestRemoveMembersReconcilesPerRemoval(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()
	owner := f.seedOwner(t, 3)

	var memberIDs []snowflake.ID
	for i := 0; i < 3; i++ {
		result, err := f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{
			OwnerID: owner.ID,
			Email:   fmt.Sprintf("kid%d@example.com", i),
		})
		require.NoError(t, err)
		memberIDs = append(memberIDs, result.Account.ID)
	}

	// One reconcile per removed member, plus the batch-final pass.
	f.slotRec.reconciles = 0
	_, err := f.lifecycle.RemoveMembers(ctx, owner.ID, memberIDs)
	require.NoError(t, err)
	assert.Equal(t, 4, f.slotRec.reconciles)

	// A batch where every member fails still reconciles once.
	f.slotRec.reconciles = 0
	_, err = f.lifecycle.RemoveMembers(ctx, owner.ID, []snowflake.ID{f.node.Generate()})
	require.ErrorIs(t, err, domain.ErrMemberNotFound)
	assert.Equal(t, 1, f.slotRec.reconciles)
}

func TestRemoveMembersGuards(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()
	owner := f.seedOwner(t, 2)
	other := f.seedOwner(t, 2)

	_, err := f.lifecycle.RemoveMembers(ctx, owner.ID, nil)
	assert.ErrorIs(t, err, domain.ErrNoMembersGiven)

	_, err = f.lifecycle.RemoveMembers(ctx, owner.ID, []snowflake.ID{owner.ID})
	assert.ErrorIs(t, err, domain.ErrSelfRemoval)

	// An account outside the owner's family cannot be removed through it.
	result, err := f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{OwnerID: other.ID, Email: "stranger@example.com"})
	require.NoError(t, err)
	_, err = f.lifecycle.RemoveMembers(ctx, owner.ID, []snowflake.ID{result.Account.ID})
	assert.ErrorIs(t, err, domain.ErrNotFamilyMember)

	stored, err := f.accountRepo.FindByID(ctx, f.db, result.Account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestListMembers(t *testing.T) {
	f := newFixture(t, defaultPolicy())
	ctx := context.Background()
	owner := f.seedOwner(t, 3)

	_, err := f.lifecycle.ListMembers(ctx, f.node.Generate())
	assert.ErrorIs(t, err, slotdomain.ErrOwnerNotFound)

	want := map[string]bool{}
	for i := 0; i < 2; i++ {
		email := fmt.Sprintf("kid%d@example.com", i)
		_, err := f.lifecycle.CreateMember(ctx, domain.CreateMemberRequest{OwnerID: owner.ID, Email: email})
		require.NoError(t, err)
		want[email] = true
	}

	members, err := f.lifecycle.ListMembers(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	for _, member := range members {
		assert.True(t, want[member.Email])
	}
}
