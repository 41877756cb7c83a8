package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/famlink/internal/config"
	"github.com/smallbiznis/famlink/internal/crm/domain"
	obsmetrics "github.com/smallbiznis/famlink/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type httpConnector struct {
	baseURL  string
	apiToken string
	client   *http.Client
	log      *zap.Logger
}

// New builds the HTTP CRM connector. The base URL and token come from
// configuration; when either is empty every call fails with
// ErrNotConfigured.
func New(p Params) domain.Connector {
	timeout := time.Duration(p.Cfg.CRMTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpConnector{
		baseURL:  strings.TrimRight(strings.TrimSpace(p.Cfg.CRMBaseURL), "/"),
		apiToken: strings.TrimSpace(p.Cfg.CRMAPIToken),
		client:   &http.Client{Timeout: timeout},
		log:      p.Log.Named("crm.connector"),
	}
}

type constituentRequest struct {
	ExternalID string `json:"external_id,omitempty"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

type constituentResponse struct {
	ExternalID string `json:"external_id"`
}

type relationshipRequest struct {
	ConstituentID     string `json:"constituent_id"`
	RelationTypeID    int64  `json:"relation_type_id"`
	RelatedExternalID string `json:"related_external_id"`
}

type relationshipResponse struct {
	ID int64 `json:"id"`
}

type relationshipListResponse struct {
	Relationships []domain.Relationship `json:"relationships"`
}

type relationshipTypeListResponse struct {
	Types []domain.RelationshipType `json:"types"`
}

func (c *httpConnector) RegisterOrUpdateConstituent(ctx context.Context, constituent domain.Constituent) (string, error) {
	var out constituentResponse
	err := c.do(ctx, "register_constituent", http.MethodPost, "/constituents", constituentRequest{
		ExternalID: constituent.ExternalID,
		Email:      constituent.Email,
		FirstName:  constituent.FirstName,
		LastName:   constituent.LastName,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ExternalID == "" {
		return "", fmt.Errorf("crm_empty_external_id")
	}
	return out.ExternalID, nil
}

func (c *httpConnector) CreateRelationship(ctx context.Context, req domain.CreateRelationshipRequest) (int64, error) {
	var out relationshipResponse
	path := fmt.Sprintf("/constituents/%s/relationships", url.PathEscape(req.ConstituentID))
	err := c.do(ctx, "create_relationship", http.MethodPost, path, relationshipRequest{
		ConstituentID:     req.ConstituentID,
		RelationTypeID:    req.RelationTypeID,
		RelatedExternalID: req.RelatedExternalID,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.ID, nil
}

// DeleteRelationship reports ErrRelationshipGone for a 404 so callers
// can tell a stale stored ID apart from a confirmed deletion.
func (c *httpConnector) DeleteRelationship(ctx context.Context, constituentID string, relationshipID int64) error {
	path := fmt.Sprintf("/constituents/%s/relationships/%d", url.PathEscape(constituentID), relationshipID)
	return c.do(ctx, "delete_relationship", http.MethodDelete, path, nil, nil)
}

func (c *httpConnector) ListRelationships(ctx context.Context, constituentID string) ([]domain.Relationship, error) {
	var out relationshipListResponse
	path := fmt.Sprintf("/constituents/%s/relationships", url.PathEscape(constituentID))
	if err := c.do(ctx, "list_relationships", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Relationships, nil
}

func (c *httpConnector) ListRelationshipTypes(ctx context.Context) ([]domain.RelationshipType, error) {
	var out relationshipTypeListResponse
	if err := c.do(ctx, "list_relationship_types", http.MethodGet, "/relationship-types", nil, &out); err != nil {
		return nil, err
	}
	return out.Types, nil
}

func (c *httpConnector) do(ctx context.Context, operation, method, path string, body, out any) error {
	if c.baseURL == "" || c.apiToken == "" {
		return domain.ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	obsmetrics.Sync().IncCRMCall(operation, err)
	if err != nil {
		// Connection failures and timeouts are retryable.
		return domain.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrRelationshipGone
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return domain.Transient(fmt.Errorf("crm_request_failed_status_%d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("crm_request_failed_status_%d", resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}
