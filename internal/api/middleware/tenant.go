package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ankitraval/jobforge/internal/api/response"
)

type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	userIDKey   contextKey = "user_id"
)

// Tenant extracts the tenant identity placed on the request by the upstream
// gateway. Authentication itself happens there; this service only trusts and
// propagates the resolved ids.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Tenant-ID")
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"MISSING_TENANT", "X-Tenant-ID header is required", nil)
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TENANT", "X-Tenant-ID must be a UUID", nil)
			return
		}

		ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
		if rawUser := r.Header.Get("X-User-ID"); rawUser != "" {
			if userID, err := uuid.Parse(rawUser); err == nil {
				ctx = context.WithValue(ctx, userIDKey, userID)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenantID returns the tenant id set by the Tenant middleware.
func GetTenantID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(tenantIDKey).(uuid.UUID)
	return id, ok
}

// GetUserID returns the acting user id, when the gateway supplied one.
func GetUserID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(userIDKey).(uuid.UUID)
	return id, ok
}
