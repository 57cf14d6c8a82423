package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sfykart/api/internal/platform/httpx"
	"github.com/sfykart/api/internal/services"
)

// ServiceabilityHandlers answers delivery pincode lookups.
type ServiceabilityHandlers struct {
	serviceability services.ServiceabilityService
}

// NewServiceabilityHandlers constructs serviceability handlers.
func NewServiceabilityHandlers(serviceability services.ServiceabilityService) *ServiceabilityHandlers {
	return &ServiceabilityHandlers{serviceability: serviceability}
}

// Routes registers the /serviceability endpoints.
func (h *ServiceabilityHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{pincode}", h.check)
}

type serviceabilityResponse struct {
	Pincode     string `json:"pincode"`
	Deliverable bool   `json:"deliverable"`
	Couriers    int    `json:"couriers"`
	CheckedAt   string `json:"checkedAt"`
}

func (h *ServiceabilityHandlers) check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.serviceability == nil {
		serviceUnavailable(ctx, w, "serviceability")
		return
	}
	result, err := h.serviceability.Check(ctx, chi.URLParam(r, "pincode"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrServiceabilityInvalidPincode):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_pincode", "pincode must be 6 digits", http.StatusBadRequest))
		case errors.Is(err, services.ErrServiceabilityUnavailable):
			serviceUnavailable(ctx, w, "serviceability")
		default:
			httpx.WriteError(ctx, w, httpx.NewError("serviceability_error", "failed to check pincode", http.StatusInternalServerError))
		}
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSONResponse(w, http.StatusOK, serviceabilityResponse{
		Pincode:     result.Pincode,
		Deliverable: result.Deliverable,
		Couriers:    result.Couriers,
		CheckedAt:   formatTime(result.CheckedAt),
	})
}
