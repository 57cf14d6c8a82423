package handlers

import (
	"net/http"
	"strings"

	"github.com/sfykart/api/internal/platform/httpx"
	"github.com/sfykart/api/internal/platform/requestctx"
)

const (
	deviceHeader      = "X-Device-ID"
	maxDeviceIDLength = 128
)

// DeviceMiddleware reads the device id header into the request context. Cart, buy-now and
// the cached profile are namespaced by this id.
func DeviceMiddleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(deviceHeader))
			if id == "" || len(id) > maxDeviceIDLength || strings.ContainsAny(id, "/:\r\n") {
				if !required && id == "" {
					next.ServeHTTP(w, r)
					return
				}
				httpx.WriteError(r.Context(), w, httpx.NewError("device_required", deviceHeader+" header missing or invalid", http.StatusBadRequest))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithDeviceID(r.Context(), id)))
		})
	}
}
