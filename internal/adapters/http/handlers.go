package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gitlab.com/arvasys/api/eam-gateway-service/internal/application"
	"gitlab.com/arvasys/api/eam-gateway-service/internal/domain"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/contextkeys"
)

// StartLoginRequest is the expected payload for the /auth/login endpoint.
type StartLoginRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

// StartLoginResponse acknowledges the background login with its handle; the
// caller polls /auth/status with the same session ID.
type StartLoginResponse struct {
	Handle string            `json:"handle"`
	Status domain.AuthStatus `json:"status"`
}

func sessionID(r *http.Request) string {
	if id, ok := r.Context().Value(contextkeys.SessionIDKey).(string); ok {
		return id
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload) // Best effort.
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		domain.NewErrorResponse(domain.CodeNotAuthenticated, "Not authenticated", err.Error()).WriteJSON(w, http.StatusUnauthorized)
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrConnectionFailed),
		errors.Is(err, domain.ErrMalformedResponse), errors.Is(err, domain.ErrLoginRedirect):
		domain.NewErrorResponse(domain.CodeRemoteUnavailable, "Remote system unavailable", err.Error()).WriteJSON(w, http.StatusBadGateway)
	default:
		domain.NewErrorResponse(domain.CodeInternal, "Internal error", err.Error()).WriteJSON(w, http.StatusInternalServerError)
	}
}

// StartLoginHandler starts a background login for the caller's session and
// returns immediately; the exchange itself never blocks the request.
func StartLoginHandler(coordinator *application.BackgroundAuthCoordinator, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload StartLoginRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			logger.Warn(r.Context(), "Failed to decode /auth/login payload", "error", err.Error())
			domain.NewErrorResponse(domain.CodeBadRequest, "Invalid request payload", err.Error()).WriteJSON(w, http.StatusBadRequest)
			return
		}
		if payload.Identity == "" || payload.Secret == "" {
			domain.NewErrorResponse(domain.CodeBadRequest, "Missing credentials", "identity and secret are required").WriteJSON(w, http.StatusBadRequest)
			return
		}

		session := sessionID(r)
		handle := coordinator.StartLogin(r.Context(), session, payload.Identity, payload.Secret)
		writeJSON(w, http.StatusAccepted, StartLoginResponse{
			Handle: handle,
			Status: coordinator.PollStatus(session),
		})
	}
}

// AuthStatusHandler reports the state of the caller session's login slot.
func AuthStatusHandler(coordinator *application.BackgroundAuthCoordinator, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, coordinator.PollStatus(sessionID(r)))
	}
}

// LogoutHandler clears the credential, the transport session, and all cached
// data for the identity.
func LogoutHandler(sessions *application.CredentialSessionManager, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions.Logout(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}

func getOptions(r *http.Request) application.GetOptions {
	opts := application.DefaultGetOptions()
	if r.URL.Query().Get("cache") == "false" {
		opts.UseCache = false
	}
	if r.URL.Query().Get("refresh") == "true" {
		opts.ForceRefresh = true
	}
	return opts
}

// ProfileHandler serves the caller's profile through the tiered cache.
func ProfileHandler(svc *application.QueryCacheService, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.GetProfile(r.Context(), getOptions(r))
		if err != nil {
			logger.Warn(r.Context(), "Profile request failed", "error", err.Error())
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// SitesHandler serves the caller's merged, sorted site list.
func SitesHandler(svc *application.QueryCacheService, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.GetSites(r.Context(), getOptions(r))
		if err != nil {
			logger.Warn(r.Context(), "Site list request failed", "error", err.Error())
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// WorkOrdersHandler runs one work-order search. Criteria come from query
// parameters; an entirely empty query returns an empty page without touching
// the remote.
func WorkOrdersHandler(engine *application.WorkOrderQueryEngine, logger domain.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		criteria := domain.SearchCriteria{
			Site:           q.Get("site"),
			WorkType:       q.Get("worktype"),
			FreeText:       q.Get("q"),
			WorkOrderID:    q.Get("wonum"),
			DefaultListing: q.Get("default") == "true",
		}
		if statuses := q.Get("status"); statuses != "" {
			criteria.Statuses = strings.Split(statuses, ",")
		}

		page, _ := strconv.Atoi(q.Get("page"))
		pageSize, _ := strconv.Atoi(q.Get("pagesize"))

		result, err := engine.Search(r.Context(), criteria, page, pageSize)
		if err != nil {
			logger.Warn(r.Context(), "Work-order search failed", "error", err.Error())
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
