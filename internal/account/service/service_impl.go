package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/famlink/internal/account/domain"
	"github.com/smallbiznis/famlink/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateAccountRequest) (domain.Account, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.Account{}, domain.ErrInvalidEmail
	}

	role := req.Role
	if role != domain.RoleOwner && role != domain.RoleMember {
		return domain.Account{}, domain.ErrInvalidRole
	}

	var parentID *snowflake.ID
	if trimmed := strings.TrimSpace(req.ParentID); trimmed != "" {
		parsed, err := parseID(trimmed)
		if err != nil {
			return domain.Account{}, domain.ErrInvalidID
		}
		parentID = &parsed
	}

	now := time.Now().UTC()
	account := domain.Account{
		ID:        s.genID.Generate(),
		Email:     email,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      role,
		ParentID:  parentID,
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, &account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Account{}, domain.ErrDuplicateEmail
		}
		return domain.Account{}, err
	}

	return account, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	parsed, err := parseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	return s.repo.FindByID(ctx, s.db, parsed)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	if strings.TrimSpace(email) == "" {
		return nil, domain.ErrInvalidEmail
	}
	return s.repo.FindByEmail(ctx, s.db, email)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	parsed, err := parseID(id)
	if err != nil {
		return domain.ErrInvalidID
	}
	return s.repo.Delete(ctx, s.db, parsed)
}

func (s *Service) AssignRole(ctx context.Context, id string, role domain.Role) error {
	parsed, err := parseID(id)
	if err != nil {
		return domain.ErrInvalidID
	}
	if role != domain.RoleOwner && role != domain.RoleMember {
		return domain.ErrInvalidRole
	}
	return s.repo.UpdateRole(ctx, s.db, parsed, role, time.Now().UTC())
}

func (s *Service) SetExternalID(ctx context.Context, id string, externalID string) error {
	parsed, err := parseID(id)
	if err != nil {
		return domain.ErrInvalidID
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return domain.ErrInvalidID
	}
	return s.repo.UpdateExternalID(ctx, s.db, parsed, externalID, time.Now().UTC())
}

func parseID(raw string) (snowflake.ID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return snowflake.ID(value), nil
}
