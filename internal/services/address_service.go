package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/sfykart/api/internal/repositories"
)

const pincodeLength = 6

var (
	// ErrAddressInvalidInput indicates missing or malformed address fields.
	ErrAddressInvalidInput = errors.New("address: invalid input")
	// ErrAddressNotFound indicates the address does not exist in the user's book.
	ErrAddressNotFound = errors.New("address: not found")
	// ErrAddressUnavailable indicates the address store could not be reached.
	ErrAddressUnavailable = errors.New("address: unavailable")
)

// AddressPatch holds the fields to change. Nil fields are left as stored.
type AddressPatch struct {
	Name     *string
	Mobile   *string
	Street   *string
	Post     *string
	District *string
	State    *string
	Pincode  *string
}

// AddressServiceDeps wires the address store.
type AddressServiceDeps struct {
	Addresses repositories.AddressRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type addressService struct {
	addresses repositories.AddressRepository
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewAddressService constructs an AddressService.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &addressService{
		addresses: deps.Addresses,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *addressService) List(ctx context.Context, userID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrAddressInvalidInput
	}
	addrs, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, translateAddressError(err)
	}
	return addrs, nil
}

// Add stores a new, non-default address after validating every field.
func (s *addressService) Add(ctx context.Context, userID string, addr Address) (Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Address{}, ErrAddressInvalidInput
	}
	addr, err := validateAddress(addr)
	if err != nil {
		return Address{}, err
	}
	now := s.now()
	addr.ID = ""
	addr.IsDefault = false
	addr.CreatedAt = now
	addr.UpdatedAt = now
	saved, err := s.addresses.Insert(ctx, userID, addr)
	if err != nil {
		return Address{}, translateAddressError(err)
	}
	s.logger(ctx, "address.added", map[string]any{"userId": userID, "addressId": saved.ID})
	return saved, nil
}

// Update applies patch to the stored address. The default flag only changes through SetDefault.
func (s *addressService) Update(ctx context.Context, userID, addressID string, patch AddressPatch) (Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return Address{}, ErrAddressInvalidInput
	}
	current, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return Address{}, translateAddressError(err)
	}
	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&current.Name, patch.Name)
	apply(&current.Mobile, patch.Mobile)
	apply(&current.Street, patch.Street)
	apply(&current.Post, patch.Post)
	apply(&current.District, patch.District)
	apply(&current.State, patch.State)
	apply(&current.Pincode, patch.Pincode)

	updated, err := validateAddress(current)
	if err != nil {
		return Address{}, err
	}
	updated.UpdatedAt = s.now()
	saved, err := s.addresses.Update(ctx, userID, updated)
	if err != nil {
		return Address{}, translateAddressError(err)
	}
	return saved, nil
}

// Delete removes the address. Removing the default leaves the book without one.
func (s *addressService) Delete(ctx context.Context, userID, addressID string) error {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return ErrAddressInvalidInput
	}
	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		return translateAddressError(err)
	}
	s.logger(ctx, "address.deleted", map[string]any{"userId": userID, "addressId": addressID})
	return nil
}

// SetDefault makes addressID the only default and returns the refreshed book.
func (s *addressService) SetDefault(ctx context.Context, userID, addressID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return nil, ErrAddressInvalidInput
	}
	if _, err := s.addresses.SetDefault(ctx, userID, addressID); err != nil {
		return nil, translateAddressError(err)
	}
	return s.List(ctx, userID)
}

// NormalisePincode folds full-width digits and reports whether the result is a 6-digit pincode.
func NormalisePincode(raw string) (string, bool) {
	pincode := strings.TrimSpace(width.Narrow.String(raw))
	pincode = strings.ReplaceAll(pincode, " ", "")
	if len(pincode) != pincodeLength {
		return pincode, false
	}
	for _, r := range pincode {
		if r < '0' || r > '9' {
			return pincode, false
		}
	}
	return pincode, true
}

func validateAddress(addr Address) (Address, error) {
	addr.Name = strings.TrimSpace(addr.Name)
	addr.Mobile = strings.TrimSpace(width.Narrow.String(addr.Mobile))
	addr.Street = strings.TrimSpace(addr.Street)
	addr.Post = strings.TrimSpace(addr.Post)
	addr.District = strings.TrimSpace(addr.District)
	addr.State = strings.TrimSpace(addr.State)

	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"name", addr.Name},
		{"mobile", addr.Mobile},
		{"street", addr.Street},
		{"district", addr.District},
		{"state", addr.State},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	pincode, ok := NormalisePincode(addr.Pincode)
	if !ok {
		missing = append(missing, "pincode")
	}
	if len(missing) > 0 {
		return Address{}, fmt.Errorf("%w: %s", ErrAddressInvalidInput, strings.Join(missing, ", "))
	}
	addr.Pincode = pincode
	return addr, nil
}

func translateAddressError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return ErrAddressNotFound
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrAddressUnavailable, err)
	default:
		return fmt.Errorf("address: %w", err)
	}
}
