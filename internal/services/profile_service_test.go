package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/sfykart/api/internal/domain"
	"github.com/sfykart/api/internal/platform/storage"
)

type memoryUserRepository struct {
	mu      sync.Mutex
	users   map[string]domain.UserProfile
	finds   int
	findErr error
}

func (m *memoryUserRepository) FindByID(_ context.Context, userID string) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return domain.UserProfile{}, m.findErr
	}
	profile, ok := m.users[userID]
	if !ok {
		return domain.UserProfile{}, errRepoNotFound
	}
	return profile, nil
}

func (m *memoryUserRepository) Upsert(_ context.Context, profile domain.UserProfile) (domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[profile.UID] = profile
	return profile, nil
}

type memoryProfileCache struct {
	mu       sync.Mutex
	profiles map[string]domain.UserProfile
}

func (m *memoryProfileCache) Load(_ context.Context, deviceID string) (*domain.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[deviceID]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (m *memoryProfileCache) Save(_ context.Context, deviceID string, profile domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[deviceID] = profile
	return nil
}

func (m *memoryProfileCache) Evict(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, deviceID)
	return nil
}

type stubAvatarSigner struct {
	bucket string
	object string
	opts   storage.UploadOptions
}

func (s *stubAvatarSigner) SignedUpload(_ context.Context, bucket, object string, opts storage.UploadOptions) (storage.SignedURL, error) {
	s.bucket, s.object, s.opts = bucket, object, opts
	return storage.SignedURL{URL: "https://storage.example/" + object, Method: "PUT"}, nil
}

func newTestProfileService(t *testing.T, users *memoryUserRepository, cache *memoryProfileCache, signer *stubAvatarSigner) ProfileService {
	t.Helper()
	deps := ProfileServiceDeps{
		Users:  users,
		Cache:  cache,
		Bucket: "sfykart-profiles",
		Clock:  func() time.Time { return orderTestNow },
	}
	if signer != nil {
		deps.Uploads = signer
	}
	svc, err := NewProfileService(deps)
	if err != nil {
		t.Fatalf("NewProfileService: %v", err)
	}
	return svc
}

func TestProfileServiceGetIsCacheFirst(t *testing.T) {
	users := &memoryUserRepository{users: map[string]domain.UserProfile{"u1": {UID: "u1", FirstName: "Remote"}}}
	cache := &memoryProfileCache{profiles: map[string]domain.UserProfile{"d1": {UID: "u1", FirstName: "Cached"}}}
	svc := newTestProfileService(t, users, cache, nil)

	profile, err := svc.Get(context.Background(), "u1", "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if profile.FirstName != "Cached" || users.finds != 0 {
		t.Fatalf("expected cached profile without remote read, got %q (%d finds)", profile.FirstName, users.finds)
	}

	// a different signed-in user on the same device misses the cache
	users.users["u2"] = domain.UserProfile{UID: "u2", FirstName: "Other"}
	profile, err = svc.Get(context.Background(), "u2", "d1")
	if err != nil || profile.FirstName != "Other" {
		t.Fatalf("expected remote profile for u2, got %v %#v", err, profile)
	}
	if cache.profiles["d1"].UID != "u2" {
		t.Fatalf("expected cache refilled for u2")
	}
}

func TestProfileServiceGetMissingProfile(t *testing.T) {
	svc := newTestProfileService(t, &memoryUserRepository{users: map[string]domain.UserProfile{}}, &memoryProfileCache{profiles: map[string]domain.UserProfile{}}, nil)
	profile, err := svc.Get(context.Background(), "u9", "d1")
	if err != nil || profile.UID != "u9" {
		t.Fatalf("expected empty profile for new user, got %v %#v", err, profile)
	}
}

func TestProfileServiceGetUnavailable(t *testing.T) {
	users := &memoryUserRepository{users: map[string]domain.UserProfile{}, findErr: errRepoUnavailable}
	svc := newTestProfileService(t, users, &memoryProfileCache{profiles: map[string]domain.UserProfile{}}, nil)
	if _, err := svc.Get(context.Background(), "u1", "d1"); !errors.Is(err, ErrProfileUnavailable) {
		t.Fatalf("expected ErrProfileUnavailable, got %v", err)
	}
}

func TestProfileServiceUpdateRefreshesCache(t *testing.T) {
	users := &memoryUserRepository{users: map[string]domain.UserProfile{"u1": {UID: "u1", FirstName: "Asha", Mobile: "9876543210"}}}
	cache := &memoryProfileCache{profiles: map[string]domain.UserProfile{}}
	svc := newTestProfileService(t, users, cache, nil)

	last := "Rao"
	profile, err := svc.Update(context.Background(), UpdateProfileCommand{
		UserID:         "u1",
		DeviceID:       "d1",
		LastName:       &last,
		BillingAddress: &domain.Address{Name: "Asha", Street: "12 MG Road", Pincode: "１１０００１"},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if profile.DisplayName() != "Asha Rao" || profile.Mobile != "9876543210" {
		t.Fatalf("unexpected profile %#v", profile)
	}
	if profile.BillingAddress == nil || profile.BillingAddress.Pincode != "110001" {
		t.Fatalf("expected normalised billing address, got %#v", profile.BillingAddress)
	}
	if cache.profiles["d1"].LastName != "Rao" {
		t.Fatalf("expected cache refreshed")
	}

	bad := &domain.Address{Pincode: "12"}
	if _, err := svc.Update(context.Background(), UpdateProfileCommand{UserID: "u1", BillingAddress: bad}); !errors.Is(err, ErrProfileInvalidInput) {
		t.Fatalf("expected ErrProfileInvalidInput, got %v", err)
	}
}

func TestProfileServiceAvatarUploadURL(t *testing.T) {
	signer := &stubAvatarSigner{}
	svc := newTestProfileService(t, &memoryUserRepository{users: map[string]domain.UserProfile{}}, &memoryProfileCache{profiles: map[string]domain.UserProfile{}}, signer)

	upload, err := svc.AvatarUploadURL(context.Background(), "u1", "image/jpeg")
	if err != nil {
		t.Fatalf("AvatarUploadURL: %v", err)
	}
	if signer.bucket != "sfykart-profiles" || signer.object != "profile/u1.jpg" || upload.ObjectPath != "profile/u1.jpg" {
		t.Fatalf("unexpected upload target %s/%s", signer.bucket, signer.object)
	}
	if signer.opts.MaxSize != maxAvatarBytes || len(signer.opts.AllowedContentTypes) == 0 {
		t.Fatalf("expected upload limits, got %#v", signer.opts)
	}
}

func TestProfileServiceSignedOutEvictsCache(t *testing.T) {
	cache := &memoryProfileCache{profiles: map[string]domain.UserProfile{"d1": {UID: "u1"}}}
	svc := newTestProfileService(t, &memoryUserRepository{users: map[string]domain.UserProfile{}}, cache, nil)
	if err := svc.SignedOut(context.Background(), "d1"); err != nil {
		t.Fatalf("SignedOut: %v", err)
	}
	if _, ok := cache.profiles["d1"]; ok {
		t.Fatalf("expected cached profile removed")
	}
}
