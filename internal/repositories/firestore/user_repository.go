package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sfykart/api/internal/domain"
	pfirestore "github.com/sfykart/api/internal/platform/firestore"
	"github.com/sfykart/api/internal/repositories"
)

const userCollection = "users"

// UserRepository persists account profiles in Firestore.
type UserRepository struct {
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{provider: provider}, nil
}

// FindByID loads the profile stored at users/{uid}.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.UserProfile, error) {
	ref, err := r.doc(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	doc, err := pfirestore.Get(ctx, ref, pfirestore.MapDecoder())
	if err != nil {
		return domain.UserProfile{}, err
	}
	profile := decodeProfile(doc.ID, doc.Data)
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = doc.UpdateTime
	}
	return profile, nil
}

// Upsert merges the profile fields into users/{uid}, leaving unknown fields untouched.
func (r *UserRepository) Upsert(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	ref, err := r.doc(ctx, profile.UID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = time.Now().UTC()
	}
	fields := map[string]any{
		"uid":       profile.UID,
		"firstName": profile.FirstName,
		"lastName":  profile.LastName,
		"email":     profile.Email,
		"mobile":    profile.Mobile,
		"photoURL":  profile.PhotoURL,
		"updatedAt": profile.UpdatedAt.UTC(),
	}
	if profile.BillingAddress != nil {
		fields["billingAddress"] = addressFields(*profile.BillingAddress)
	}
	if profile.DeliveryAddress != nil {
		fields["deliveryAddress"] = addressFields(*profile.DeliveryAddress)
	}
	if _, err := ref.Set(ctx, fields, firestore.MergeAll); err != nil {
		return domain.UserProfile{}, pfirestore.WrapError("users.upsert", err)
	}
	return profile, nil
}

func (r *UserRepository) doc(ctx context.Context, userID string) (*firestore.DocumentRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("user repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("user repository: user id is required")
	}
	coll, err := r.provider.Collection(ctx, userCollection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(uid), nil
}

// decodeProfile reads the loosely typed user document. Empty address maps, which the
// signup flow writes as placeholders, decode as absent.
func decodeProfile(id string, data map[string]any) domain.UserProfile {
	profile := domain.UserProfile{
		UID:       id,
		FirstName: firstString(data, "firstName"),
		LastName:  firstString(data, "lastName"),
		Email:     firstString(data, "email"),
		Mobile:    firstString(data, "mobile", "phone"),
		PhotoURL:  firstString(data, "photoURL", "photoUrl"),
		UpdatedAt: timeValue(data["updatedAt"]),
	}
	if addr := embeddedAddress(data["billingAddress"]); addr != (domain.Address{}) {
		profile.BillingAddress = &addr
	}
	if addr := embeddedAddress(data["deliveryAddress"]); addr != (domain.Address{}) {
		profile.DeliveryAddress = &addr
	}
	return profile
}

// Ensure interface compliance.
var _ repositories.UserRepository = (*UserRepository)(nil)
