package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/famlink/internal/config"
	"github.com/smallbiznis/famlink/internal/crm/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestConnector(t *testing.T, handler http.Handler) domain.Connector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(Params{
		Cfg: config.Config{
			CRMBaseURL:  server.URL,
			CRMAPIToken: "test-token",
		},
		Log: zap.NewNop(),
	})
}

func TestRegisterConstituentSendsBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	connector := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "kid@example.com", body["email"])

		json.NewEncoder(w).Encode(map[string]string{"external_id": "ext-42"})
	}))

	externalID, err := connector.RegisterOrUpdateConstituent(context.Background(), domain.Constituent{
		Email:     "kid@example.com",
		FirstName: "Sam",
	})
	require.NoError(t, err)
	assert.Equal(t, "ext-42", externalID)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "/constituents", gotPath)
}

func TestCreateRelationship(t *testing.T) {
	connector := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/constituents/ext-1/relationships", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]int64{"id": 77})
	}))

	id, err := connector.CreateRelationship(context.Background(), domain.CreateRelationshipRequest{
		ConstituentID:     "ext-1",
		RelationTypeID:    2,
		RelatedExternalID: "ext-2",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
}

func TestServerErrorsAreTransient(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		connector := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := connector.ListRelationshipTypes(context.Background())
		assert.True(t, domain.IsTransient(err), "status %d should be retryable", status)
	}
}

func TestClientErrorsAreNotTransient(t *testing.T) {
	connector := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	_, err := connector.ListRelationshipTypes(context.Background())
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
}

func TestConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	cfg := config.Config{CRMBaseURL: server.URL, CRMAPIToken: "test-token"}
	server.Close()

	connector := New(Params{Cfg: cfg, Log: zap.NewNop()})
	_, err := connector.ListRelationshipTypes(context.Background())
	assert.True(t, domain.IsTransient(err))
}

func TestDeleteRelationshipReportsMissingAsGone(t *testing.T) {
	connector := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/constituents/ext-1/relationships/77", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))

	err := connector.DeleteRelationship(context.Background(), "ext-1", 77)
	assert.ErrorIs(t, err, domain.ErrRelationshipGone)
	assert.False(t, domain.IsTransient(err))
}

func TestUnconfiguredConnectorFailsFast(t *testing.T) {
	connector := New(Params{Cfg: config.Config{}, Log: zap.NewNop()})

	_, err := connector.ListRelationshipTypes(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
	assert.False(t, domain.IsTransient(err))
}

func TestListRelationships(t *testing.T) {
	connector := newTestConnector(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"relationships": []map[string]any{
				{"id": 5, "constituent_id": "ext-1", "relationship_type": "Child", "related_external_id": "ext-2"},
			},
		})
	}))

	relationships, err := connector.ListRelationships(context.Background(), "ext-1")
	require.NoError(t, err)
	require.Len(t, relationships, 1)
	assert.Equal(t, int64(5), relationships[0].ID)
	assert.Equal(t, "Child", relationships[0].RelationshipType)
	assert.Equal(t, "ext-2", relationships[0].RelatedExternalID)
}
