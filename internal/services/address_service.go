package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mercadoparceiro/api/internal/domain"
	"github.com/mercadoparceiro/api/internal/platform/auth"
	"github.com/mercadoparceiro/api/internal/repositories"
	"github.com/mercadoparceiro/api/internal/validation"
)

// MaxAddressesPerUser bounds how many addresses a user keeps.
const MaxAddressesPerUser = 2

// AddressServiceDeps bundles collaborators for address management.
type AddressServiceDeps struct {
	Addresses   repositories.AddressRepository
	Gate        AccessGate
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type addressService struct {
	addresses  repositories.AddressRepository
	gate       AccessGate
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ AddressService = (*addressService)(nil)

func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("address service: access gate is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &addressService{
		addresses:  deps.Addresses,
		gate:       deps.Gate,
		unitOfWork: unit,
		clock:      utcClock(deps.Clock),
		newID:      idGen,
		logger:     logger,
	}, nil
}

func (s *addressService) List(ctx context.Context, identity *auth.Identity) ([]domain.Address, error) {
	userID, ok := callerID(identity)
	if !ok {
		return nil, ErrCallerUnauthenticated
	}
	return s.addresses.ListByUser(ctx, userID)
}

// Create stores a new address. The first address becomes the default; a
// third one is refused without touching the table.
func (s *addressService) Create(ctx context.Context, identity *auth.Identity, input validation.AddressInput) (domain.Address, error) {
	userID, ok := callerID(identity)
	if !ok {
		return domain.Address{}, ErrCallerUnauthenticated
	}
	input, err := validation.ValidateAddress(input)
	if err != nil {
		return domain.Address{}, invalid(ErrAddressInvalidInput, err)
	}
	now := s.clock()
	address := addressFromInput(input)
	address.ID = s.newID()
	address.UserID = userID
	address.CreatedAt = now
	address.UpdatedAt = now

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.addresses.LockOwner(txCtx, userID); err != nil {
			return err
		}
		existing, err := s.addresses.ListByUser(txCtx, userID)
		if err != nil {
			return err
		}
		if len(existing) >= MaxAddressesPerUser {
			return ErrAddressLimit
		}
		address.IsDefault = len(existing) == 0
		return s.addresses.Insert(txCtx, address)
	})
	if err != nil {
		if errors.Is(err, ErrAddressLimit) {
			return domain.Address{}, err
		}
		return domain.Address{}, fmt.Errorf("address service: create: %w", err)
	}
	s.logger(ctx, "address.created", map[string]any{"addressId": address.ID, "default": address.IsDefault})
	return address, nil
}

func (s *addressService) Update(ctx context.Context, identity *auth.Identity, addressID string, input validation.AddressInput) (domain.Address, error) {
	if _, ok := callerID(identity); !ok {
		return domain.Address{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManageAddress(ctx, identity, addressID) {
		return domain.Address{}, ErrAddressForbidden
	}
	input, err := validation.ValidateAddress(input)
	if err != nil {
		return domain.Address{}, invalid(ErrAddressInvalidInput, err)
	}
	current, err := s.find(ctx, addressID)
	if err != nil {
		return domain.Address{}, err
	}
	updated := addressFromInput(input)
	updated.ID = current.ID
	updated.UserID = current.UserID
	updated.IsDefault = current.IsDefault
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = s.clock()
	if err := s.addresses.Update(ctx, updated); err != nil {
		if isRepoNotFound(err) {
			return domain.Address{}, ErrAddressNotFound
		}
		return domain.Address{}, fmt.Errorf("address service: update: %w", err)
	}
	return updated, nil
}

// Delete removes the address and promotes the remaining one when the
// default goes away.
func (s *addressService) Delete(ctx context.Context, identity *auth.Identity, addressID string) error {
	userID, ok := callerID(identity)
	if !ok {
		return ErrCallerUnauthenticated
	}
	if !s.gate.CanManageAddress(ctx, identity, addressID) {
		return ErrAddressForbidden
	}
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.addresses.LockOwner(txCtx, userID); err != nil {
			return err
		}
		current, err := s.addresses.FindByID(txCtx, addressID)
		if err != nil {
			return err
		}
		if err := s.addresses.Delete(txCtx, addressID); err != nil {
			return err
		}
		if !current.IsDefault {
			return nil
		}
		remaining, err := s.addresses.ListByUser(txCtx, userID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		return s.addresses.SetDefault(txCtx, userID, remaining[0].ID, s.clock())
	})
	if err != nil {
		if isRepoNotFound(err) {
			return ErrAddressNotFound
		}
		return fmt.Errorf("address service: delete: %w", err)
	}
	s.logger(ctx, "address.deleted", map[string]any{"addressId": addressID})
	return nil
}

func (s *addressService) SetDefault(ctx context.Context, identity *auth.Identity, addressID string) (domain.Address, error) {
	userID, ok := callerID(identity)
	if !ok {
		return domain.Address{}, ErrCallerUnauthenticated
	}
	if !s.gate.CanManageAddress(ctx, identity, addressID) {
		return domain.Address{}, ErrAddressForbidden
	}
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.addresses.LockOwner(txCtx, userID); err != nil {
			return err
		}
		return s.addresses.SetDefault(txCtx, userID, addressID, s.clock())
	})
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Address{}, ErrAddressNotFound
		}
		return domain.Address{}, fmt.Errorf("address service: set default: %w", err)
	}
	return s.find(ctx, addressID)
}

func (s *addressService) find(ctx context.Context, addressID string) (domain.Address, error) {
	address, err := s.addresses.FindByID(ctx, addressID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Address{}, ErrAddressNotFound
		}
		return domain.Address{}, fmt.Errorf("address service: load: %w", err)
	}
	return address, nil
}

func addressFromInput(in validation.AddressInput) domain.Address {
	return domain.Address{
		Label:      in.Label,
		Recipient:  in.Recipient,
		Street:     in.Street,
		Number:     in.Number,
		Complement: in.Complement,
		District:   in.District,
		City:       in.City,
		State:      in.State,
		PostalCode: in.PostalCode,
		Phone:      in.Phone,
	}
}
