package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sfykart/api/internal/platform/auth"
	"github.com/sfykart/api/internal/platform/httpx"
	"github.com/sfykart/api/internal/services"
)

// MeHandlers exposes the signed-in user's profile and address book.
type MeHandlers struct {
	authn     *auth.Authenticator
	profiles  services.ProfileService
	addresses services.AddressService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before invoking the services.
func NewMeHandlers(authn *auth.Authenticator, profiles services.ProfileService, addresses services.AddressService) *MeHandlers {
	return &MeHandlers{
		authn:     authn,
		profiles:  profiles,
		addresses: addresses,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(DeviceMiddleware(false))
	// Signing out only drops device state, so an expired token must not block it.
	r.Post("/sign-out", h.signOut)

	r.Group(func(user chi.Router) {
		if h.authn != nil {
			user.Use(h.authn.RequireUser())
		}
		user.Get("/profile", h.getProfile)
		user.Patch("/profile", h.updateProfile)
		user.Post("/profile/avatar-upload-url", h.avatarUploadURL)
		user.Route("/addresses", h.addressRoutes)
	})
}

type profileUpdateRequest struct {
	FirstName       *string         `json:"firstName"`
	LastName        *string         `json:"lastName"`
	Email           *string         `json:"email"`
	Mobile          *string         `json:"mobile"`
	PhotoURL        *string         `json:"photoUrl"`
	BillingAddress  *addressPayload `json:"billingAddress"`
	DeliveryAddress *addressPayload `json:"deliveryAddress"`
}

type profilePayload struct {
	UID             string          `json:"uid"`
	FirstName       string          `json:"firstName"`
	LastName        string          `json:"lastName"`
	DisplayName     string          `json:"displayName,omitempty"`
	Email           string          `json:"email,omitempty"`
	Mobile          string          `json:"mobile,omitempty"`
	PhotoURL        string          `json:"photoUrl,omitempty"`
	BillingAddress  *addressPayload `json:"billingAddress,omitempty"`
	DeliveryAddress *addressPayload `json:"deliveryAddress,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
}

type avatarUploadRequest struct {
	ContentType string `json:"contentType"`
}

type avatarUploadResponse struct {
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	ObjectPath string            `json:"objectPath"`
	ExpiresAt  string            `json:"expiresAt"`
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		serviceUnavailable(ctx, w, "profile")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	profile, err := h.profiles.Get(ctx, identity.UID, deviceID(ctx))
	if err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildProfilePayload(profile))
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		serviceUnavailable(ctx, w, "profile")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req profileUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd := services.UpdateProfileCommand{
		UserID:    identity.UID,
		DeviceID:  deviceID(ctx),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Mobile:    req.Mobile,
		PhotoURL:  req.PhotoURL,
	}
	if req.BillingAddress != nil {
		addr := req.BillingAddress.toAddress()
		cmd.BillingAddress = &addr
	}
	if req.DeliveryAddress != nil {
		addr := req.DeliveryAddress.toAddress()
		cmd.DeliveryAddress = &addr
	}
	profile, err := h.profiles.Update(ctx, cmd)
	if err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProfilePayload(profile))
}

func (h *MeHandlers) avatarUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		serviceUnavailable(ctx, w, "profile")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req avatarUploadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	upload, err := h.profiles.AvatarUploadURL(ctx, identity.UID, req.ContentType)
	if err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, avatarUploadResponse{
		URL:        upload.URL,
		Method:     upload.Method,
		Headers:    upload.Headers,
		ObjectPath: upload.ObjectPath,
		ExpiresAt:  formatTime(upload.ExpiresAt),
	})
}

func (h *MeHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		serviceUnavailable(ctx, w, "profile")
		return
	}
	if strings.TrimSpace(deviceID(ctx)) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("device_required", "X-Device-ID header is required", http.StatusBadRequest))
		return
	}
	if err := h.profiles.SignedOut(ctx, deviceID(ctx)); err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildProfilePayload(profile services.UserProfile) profilePayload {
	payload := profilePayload{
		UID:         profile.UID,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		DisplayName: profile.DisplayName(),
		Email:       profile.Email,
		Mobile:      profile.Mobile,
		PhotoURL:    profile.PhotoURL,
		UpdatedAt:   formatTime(profile.UpdatedAt),
	}
	if profile.BillingAddress != nil {
		addr := buildAddressPayload(*profile.BillingAddress)
		payload.BillingAddress = &addr
	}
	if profile.DeliveryAddress != nil {
		addr := buildAddressPayload(*profile.DeliveryAddress)
		payload.DeliveryAddress = &addr
	}
	return payload
}

func writeProfileError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrProfileInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAvatarUploadDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("avatar_upload_disabled", "avatar uploads are not configured", http.StatusNotImplemented))
	case errors.Is(err, services.ErrProfileUnavailable):
		serviceUnavailable(ctx, w, "profile")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("profile_error", "failed to process profile request", http.StatusInternalServerError))
	}
}
