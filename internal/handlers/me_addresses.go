package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sfykart/api/internal/platform/httpx"
	"github.com/sfykart/api/internal/services"
)

func (h *MeHandlers) addressRoutes(r chi.Router) {
	r.Get("/", h.listAddresses)
	r.Post("/", h.createAddress)
	r.Patch("/{addressID}", h.updateAddress)
	r.Delete("/{addressID}", h.deleteAddress)
	r.Post("/{addressID}/default", h.setDefaultAddress)
}

type addressListResponse struct {
	Items []addressPayload `json:"items"`
}

type addressPatchRequest struct {
	Name     *string `json:"name"`
	Mobile   *string `json:"mobile"`
	Street   *string `json:"street"`
	Post     *string `json:"post"`
	District *string `json:"district"`
	State    *string `json:"state"`
	Pincode  *string `json:"pincode"`
}

func (h *MeHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	addrs, err := h.addresses.List(ctx, identity.UID)
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildAddressList(addrs))
}

func (h *MeHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req addressPayload
	if !decodeBody(w, r, &req) {
		return
	}
	saved, err := h.addresses.Add(ctx, identity.UID, req.toAddress())
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildAddressPayload(saved))
}

func (h *MeHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req addressPatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	saved, err := h.addresses.Update(ctx, identity.UID, chi.URLParam(r, "addressID"), services.AddressPatch{
		Name:     req.Name,
		Mobile:   req.Mobile,
		Street:   req.Street,
		Post:     req.Post,
		District: req.District,
		State:    req.State,
		Pincode:  req.Pincode,
	})
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAddressPayload(saved))
}

func (h *MeHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if err := h.addresses.Delete(ctx, identity.UID, chi.URLParam(r, "addressID")); err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandlers) setDefaultAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	addrs, err := h.addresses.SetDefault(ctx, identity.UID, chi.URLParam(r, "addressID"))
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAddressList(addrs))
}

func buildAddressList(addrs []services.Address) addressListResponse {
	items := make([]addressPayload, 0, len(addrs))
	for _, addr := range addrs {
		items = append(items, buildAddressPayload(addr))
	}
	return addressListResponse{Items: items}
}

func writeAddressError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAddressInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAddressUnavailable):
		serviceUnavailable(ctx, w, "address")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("address_error", "failed to process address request", http.StatusInternalServerError))
	}
}
