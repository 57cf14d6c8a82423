package local

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/platform/kvstore"
	"github.com/sfykart/api/internal/repositories"
)

const profileKey = "sfy_user_v1"

// ProfileCache stores the last fetched profile for a device.
type ProfileCache struct {
	kv     kvstore.Store
	logger Logger
}

var _ repositories.ProfileCache = (*ProfileCache)(nil)

// NewProfileCache constructs a ProfileCache over kv.
func NewProfileCache(kv kvstore.Store, logger Logger) (*ProfileCache, error) {
	if kv == nil {
		return nil, errors.New("profile cache: kv store is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ProfileCache{kv: kv, logger: logger}, nil
}

// Load returns the cached profile or nil. Corrupt blobs are treated as a cache miss.
func (c *ProfileCache) Load(ctx context.Context, deviceID string) (*domain.UserProfile, error) {
	ns, err := deviceNamespace(c.kv, deviceID)
	if err != nil {
		return nil, err
	}
	raw, ok, err := ns.Get(ctx, profileKey)
	if err != nil {
		c.logger(ctx, "profile.cache_load_failed", map[string]any{"deviceId": deviceID, "error": err})
		return nil, nil
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var blob profileBlob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		c.logger(ctx, "profile.cache_decode_failed", map[string]any{"deviceId": deviceID, "error": err})
		return nil, nil
	}
	profile := blob.toDomain()
	return &profile, nil
}

// Save replaces the cached profile.
func (c *ProfileCache) Save(ctx context.Context, deviceID string, profile domain.UserProfile) error {
	ns, err := deviceNamespace(c.kv, deviceID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(fromDomainProfile(profile))
	if err != nil {
		return err
	}
	return ns.Set(ctx, profileKey, string(data))
}

// Evict drops the cached profile, used on sign-out.
func (c *ProfileCache) Evict(ctx context.Context, deviceID string) error {
	ns, err := deviceNamespace(c.kv, deviceID)
	if err != nil {
		return err
	}
	return ns.Remove(ctx, profileKey)
}

type addressBlob struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Mobile   string `json:"mobile,omitempty"`
	Street   string `json:"street,omitempty"`
	Post     string `json:"post,omitempty"`
	District string `json:"district,omitempty"`
	State    string `json:"state,omitempty"`
	Pincode  string `json:"pincode,omitempty"`
}

type profileBlob struct {
	UID             string       `json:"uid"`
	FirstName       string       `json:"firstName,omitempty"`
	LastName        string       `json:"lastName,omitempty"`
	Email           string       `json:"email,omitempty"`
	Mobile          string       `json:"mobile,omitempty"`
	PhotoURL        string       `json:"photoURL,omitempty"`
	BillingAddress  *addressBlob `json:"billingAddress,omitempty"`
	DeliveryAddress *addressBlob `json:"deliveryAddress,omitempty"`
	UpdatedAt       time.Time    `json:"updatedAt,omitempty"`
}

func (b profileBlob) toDomain() domain.UserProfile {
	return domain.UserProfile{
		UID:             b.UID,
		FirstName:       b.FirstName,
		LastName:        b.LastName,
		Email:           b.Email,
		Mobile:          b.Mobile,
		PhotoURL:        b.PhotoURL,
		BillingAddress:  b.BillingAddress.toDomain(),
		DeliveryAddress: b.DeliveryAddress.toDomain(),
		UpdatedAt:       b.UpdatedAt,
	}
}

func (b *addressBlob) toDomain() *domain.Address {
	if b == nil {
		return nil
	}
	return &domain.Address{
		ID:       b.ID,
		Name:     b.Name,
		Mobile:   b.Mobile,
		Street:   b.Street,
		Post:     b.Post,
		District: b.District,
		State:    b.State,
		Pincode:  b.Pincode,
	}
}

func fromDomainProfile(p domain.UserProfile) profileBlob {
	return profileBlob{
		UID:             p.UID,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Email:           p.Email,
		Mobile:          p.Mobile,
		PhotoURL:        p.PhotoURL,
		BillingAddress:  fromDomainAddress(p.BillingAddress),
		DeliveryAddress: fromDomainAddress(p.DeliveryAddress),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
}

func fromDomainAddress(a *domain.Address) *addressBlob {
	if a == nil {
		return nil
	}
	return &addressBlob{
		ID:       a.ID,
		Name:     a.Name,
		Mobile:   a.Mobile,
		Street:   a.Street,
		Post:     a.Post,
		District: a.District,
		State:    a.State,
		Pincode:  a.Pincode,
	}
}
