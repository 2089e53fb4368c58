package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/telecare/telecare/internal/platform/notification"
	"github.com/telecare/telecare/internal/platform/payment"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetAccount(ctx context.Context, id string) (*Account, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return s.repo.GetByID(ctx, id)
}

// GetDoctor returns the account only when it belongs to a doctor.
func (s *Service) GetDoctor(ctx context.Context, id string) (*Account, error) {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.IsDoctor() {
		return nil, fmt.Errorf("%w: %s is not a doctor", ErrNotFound, id)
	}
	return a, nil
}

// GetAvailability returns the doctor's rule, or nil when none is configured.
func (s *Service) GetAvailability(ctx context.Context, doctorID string) (*AvailabilityRule, error) {
	doc, err := s.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return doc.Availability, nil
}

// SetAvailability replaces the caller's own weekly rule.
func (s *Service) SetAvailability(ctx context.Context, callerID, doctorID string, rule AvailabilityRule) (*AvailabilityRule, error) {
	if callerID != doctorID {
		return nil, fmt.Errorf("%w: doctors may only edit their own availability", ErrForbidden)
	}
	if _, err := s.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	if err := rule.Normalize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.repo.SetAvailability(ctx, doctorID, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// SetWallet registers the caller's payable wallet.
func (s *Service) SetWallet(ctx context.Context, callerID, address string) error {
	address = strings.TrimSpace(address)
	if err := payment.ValidateAddress(address); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.repo.SetWallet(ctx, callerID, address)
}

// Contact satisfies notification.ContactLookup for the email sink.
func (s *Service) Contact(ctx context.Context, userID string) (notification.Contact, error) {
	a, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return notification.Contact{}, err
	}
	return notification.Contact{Name: a.Name, Email: a.Email}, nil
}
