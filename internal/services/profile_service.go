package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sfykart/api/internal/platform/storage"
	"github.com/sfykart/api/internal/repositories"
)

const (
	defaultAvatarObjectPattern = "profile/%s.jpg"
	defaultAvatarUploadTTL     = 15 * time.Minute
	maxAvatarBytes             = 5 << 20
)

var avatarContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

var (
	// ErrProfileInvalidInput indicates the caller supplied invalid profile fields.
	ErrProfileInvalidInput = errors.New("profile: invalid input")
	// ErrProfileUnavailable indicates neither the cache nor the profile store could serve the request.
	ErrProfileUnavailable = errors.New("profile: unavailable")
	// ErrAvatarUploadDisabled indicates no avatar bucket is configured.
	ErrAvatarUploadDisabled = errors.New("profile: avatar upload disabled")
)

// UpdateProfileCommand patches the profile. Nil fields are left as stored.
type UpdateProfileCommand struct {
	UserID          string
	DeviceID        string
	FirstName       *string
	LastName        *string
	Email           *string
	Mobile          *string
	PhotoURL        *string
	BillingAddress  *Address
	DeliveryAddress *Address
}

// AvatarUpload is a signed URL the client PUTs the profile image to.
type AvatarUpload struct {
	URL        string
	Method     string
	Headers    map[string]string
	ObjectPath string
	ExpiresAt  time.Time
}

type avatarSigner interface {
	SignedUpload(ctx context.Context, bucket, object string, opts storage.UploadOptions) (storage.SignedURL, error)
}

// ProfileServiceDeps wires the profile store, the device cache and avatar signing.
type ProfileServiceDeps struct {
	Users         repositories.UserRepository
	Cache         repositories.ProfileCache
	Uploads       avatarSigner
	Bucket        string
	ObjectPattern string
	UploadTTL     time.Duration
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type profileService struct {
	users         repositories.UserRepository
	cache         repositories.ProfileCache
	uploads       avatarSigner
	bucket        string
	objectPattern string
	uploadTTL     time.Duration
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewProfileService constructs a ProfileService.
func NewProfileService(deps ProfileServiceDeps) (ProfileService, error) {
	if deps.Users == nil {
		return nil, errors.New("profile service: user repository is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("profile service: profile cache is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	pattern := strings.TrimSpace(deps.ObjectPattern)
	if pattern == "" {
		pattern = defaultAvatarObjectPattern
	}
	ttl := deps.UploadTTL
	if ttl <= 0 {
		ttl = defaultAvatarUploadTTL
	}
	return &profileService{
		users:         deps.Users,
		cache:         deps.Cache,
		uploads:       deps.Uploads,
		bucket:        strings.TrimSpace(deps.Bucket),
		objectPattern: pattern,
		uploadTTL:     ttl,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Get serves the device cache when it holds this user's profile, otherwise reads the store and
// refills the cache. Users without a profile document get an empty profile.
func (s *profileService) Get(ctx context.Context, userID, deviceID string) (UserProfile, error) {
	userID = strings.TrimSpace(userID)
	deviceID = strings.TrimSpace(deviceID)
	if userID == "" {
		return UserProfile{}, ErrProfileInvalidInput
	}

	if deviceID != "" {
		cached, err := s.cache.Load(ctx, deviceID)
		if err != nil {
			s.logger(ctx, "profile.cache_unavailable", map[string]any{"deviceId": deviceID, "error": err})
		}
		if cached != nil && cached.UID == userID {
			return *cached, nil
		}
	}

	profile, err := s.users.FindByID(ctx, userID)
	switch {
	case err == nil:
	case isRepoNotFound(err):
		profile = UserProfile{UID: userID}
	default:
		return UserProfile{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	profile.UID = userID
	s.fillCache(ctx, deviceID, profile)
	return profile, nil
}

// Update writes the patched profile to the store and then refreshes the device cache.
func (s *profileService) Update(ctx context.Context, cmd UpdateProfileCommand) (UserProfile, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return UserProfile{}, ErrProfileInvalidInput
	}

	current, err := s.users.FindByID(ctx, userID)
	switch {
	case err == nil:
	case isRepoNotFound(err):
		current = UserProfile{UID: userID}
	default:
		return UserProfile{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}

	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	apply(&current.FirstName, cmd.FirstName)
	apply(&current.LastName, cmd.LastName)
	apply(&current.Email, cmd.Email)
	apply(&current.Mobile, cmd.Mobile)
	apply(&current.PhotoURL, cmd.PhotoURL)

	if cmd.BillingAddress != nil {
		addr, err := normaliseProfileAddress(*cmd.BillingAddress)
		if err != nil {
			return UserProfile{}, err
		}
		current.BillingAddress = &addr
	}
	if cmd.DeliveryAddress != nil {
		addr, err := normaliseProfileAddress(*cmd.DeliveryAddress)
		if err != nil {
			return UserProfile{}, err
		}
		current.DeliveryAddress = &addr
	}
	if current.Email != "" && !strings.Contains(current.Email, "@") {
		return UserProfile{}, fmt.Errorf("%w: email", ErrProfileInvalidInput)
	}

	current.UID = userID
	current.UpdatedAt = s.now()
	saved, err := s.users.Upsert(ctx, current)
	if err != nil {
		return UserProfile{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	s.fillCache(ctx, strings.TrimSpace(cmd.DeviceID), saved)
	s.logger(ctx, "profile.updated", map[string]any{"userId": userID})
	return saved, nil
}

// AvatarUploadURL signs a PUT URL for the user's profile image.
func (s *profileService) AvatarUploadURL(ctx context.Context, userID, contentType string) (AvatarUpload, error) {
	userID = strings.TrimSpace(userID)
	contentType = strings.TrimSpace(contentType)
	if userID == "" || contentType == "" {
		return AvatarUpload{}, ErrProfileInvalidInput
	}
	if s.uploads == nil || s.bucket == "" {
		return AvatarUpload{}, ErrAvatarUploadDisabled
	}
	object := fmt.Sprintf(s.objectPattern, userID)
	signed, err := s.uploads.SignedUpload(ctx, s.bucket, object, storage.UploadOptions{
		ContentType:         contentType,
		AllowedContentTypes: avatarContentTypes,
		MaxSize:             maxAvatarBytes,
		ExpiresIn:           s.uploadTTL,
	})
	if err != nil {
		if errors.Is(err, storage.ErrContentTypeDenied) {
			return AvatarUpload{}, fmt.Errorf("%w: %v", ErrProfileInvalidInput, err)
		}
		return AvatarUpload{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	return AvatarUpload{
		URL:        signed.URL,
		Method:     signed.Method,
		Headers:    signed.Headers,
		ObjectPath: object,
		ExpiresAt:  signed.ExpiresAt,
	}, nil
}

// SignedOut drops the device's cached profile.
func (s *profileService) SignedOut(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrProfileInvalidInput
	}
	if err := s.cache.Evict(ctx, deviceID); err != nil {
		return fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	s.logger(ctx, "profile.signed_out", map[string]any{"deviceId": deviceID})
	return nil
}

func (s *profileService) fillCache(ctx context.Context, deviceID string, profile UserProfile) {
	if deviceID == "" {
		return
	}
	if err := s.cache.Save(ctx, deviceID, profile); err != nil {
		s.logger(ctx, "profile.cache_fill_failed", map[string]any{"deviceId": deviceID, "error": err})
	}
}

// normaliseProfileAddress trims the address and normalises a present pincode. Profile addresses
// may be partial; only a malformed pincode is rejected.
func normaliseProfileAddress(addr Address) (Address, error) {
	addr.Name = strings.TrimSpace(addr.Name)
	addr.Mobile = strings.TrimSpace(addr.Mobile)
	addr.Street = strings.TrimSpace(addr.Street)
	addr.Post = strings.TrimSpace(addr.Post)
	addr.District = strings.TrimSpace(addr.District)
	addr.State = strings.TrimSpace(addr.State)
	if strings.TrimSpace(addr.Pincode) == "" {
		addr.Pincode = ""
		return addr, nil
	}
	pincode, ok := NormalisePincode(addr.Pincode)
	if !ok {
		return Address{}, fmt.Errorf("%w: pincode", ErrProfileInvalidInput)
	}
	addr.Pincode = pincode
	return addr, nil
}
