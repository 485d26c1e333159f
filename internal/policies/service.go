package policies

import (
	"context"
	"errors"

	"github.com/angelmondragon/starbuy/api/validators"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
)

// Service is the configuration surface for auto-buy policies.
type Service interface {
	Get(ctx context.Context, userID int64) (models.Policy, error)
	Save(ctx context.Context, policy models.Policy) (models.Policy, error)
	Enable(ctx context.Context, userID int64) (models.Policy, error)
	Disable(ctx context.Context, userID int64) (models.Policy, error)
	SetPriceRange(ctx context.Context, userID, min, max int64) (models.Policy, error)
	SetSupplyCeiling(ctx context.Context, userID int64, ceiling *int64) (models.Policy, error)
	SetCycles(ctx context.Context, userID int64, cycles int) (models.Policy, error)
	ListEnabled(ctx context.Context) ([]models.Policy, error)
}

type service struct {
	repo Repository
}

// NewService wires a policy service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("policy repository required")
	}
	return &service{repo: repo}, nil
}

// Validate rejects policies the evaluator cannot apply, such as an inverted
// price range.
func Validate(policy models.Policy) error {
	if err := validators.Struct(policy); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePolicyInvalid, err, "invalid auto-buy policy").
			WithDetails(pkgerrors.As(err).Details())
	}
	return nil
}

// Get returns the stored policy, or the disabled default when none exists.
func (s *service) Get(ctx context.Context, userID int64) (models.Policy, error) {
	if userID <= 0 {
		return models.Policy{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	stored, err := s.repo.Get(ctx, userID)
	if err != nil {
		return models.Policy{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load policy")
	}
	if stored == nil {
		return models.DefaultPolicy(userID), nil
	}
	return *stored, nil
}

func (s *service) Save(ctx context.Context, policy models.Policy) (models.Policy, error) {
	if err := Validate(policy); err != nil {
		return models.Policy{}, err
	}
	if err := s.repo.Upsert(ctx, &policy); err != nil {
		return models.Policy{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save policy")
	}
	return policy, nil
}

func (s *service) Enable(ctx context.Context, userID int64) (models.Policy, error) {
	return s.update(ctx, userID, func(p *models.Policy) { p.Enabled = true })
}

func (s *service) Disable(ctx context.Context, userID int64) (models.Policy, error) {
	return s.update(ctx, userID, func(p *models.Policy) { p.Enabled = false })
}

func (s *service) SetPriceRange(ctx context.Context, userID, min, max int64) (models.Policy, error) {
	return s.update(ctx, userID, func(p *models.Policy) {
		p.PriceMin = min
		p.PriceMax = max
	})
}

// SetSupplyCeiling sets the cap; nil removes it.
func (s *service) SetSupplyCeiling(ctx context.Context, userID int64, ceiling *int64) (models.Policy, error) {
	return s.update(ctx, userID, func(p *models.Policy) { p.SupplyCeiling = ceiling })
}

func (s *service) SetCycles(ctx context.Context, userID int64, cycles int) (models.Policy, error) {
	return s.update(ctx, userID, func(p *models.Policy) { p.Cycles = cycles })
}

func (s *service) ListEnabled(ctx context.Context) ([]models.Policy, error) {
	rows, err := s.repo.ListEnabled(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list enabled policies")
	}
	return rows, nil
}

func (s *service) update(ctx context.Context, userID int64, mutate func(*models.Policy)) (models.Policy, error) {
	policy, err := s.Get(ctx, userID)
	if err != nil {
		return models.Policy{}, err
	}
	mutate(&policy)
	return s.Save(ctx, policy)
}
