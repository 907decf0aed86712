package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/verifier"
)

// maxBodyBytes caps request bodies. Retrain batches are the largest payload.
const maxBodyBytes = 8 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	svc      *verifier.Service
	validate *validator.Validate
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(svc *verifier.Service, version string) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		version:  version,
	}
}

// RequireCaller rejects principals that may not use the service before
// any body is read. It must run after authentication.
func (h *Handler) RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.Authorize(r.Context(), GetPrincipal(r.Context())); err != nil {
			writeServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects non-admin principals before any body is read.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.AuthorizeAdmin(r.Context(), GetPrincipal(r.Context())); err != nil {
			writeServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// decode reads a JSON body into dst and runs struct validation.
// It writes the 400 response itself and reports whether decoding succeeded.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationError(err))
		return false
	}
	return true
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.svc.Health(r.Context()); err != nil {
		slog.Warn("health check degraded", "error", err)
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	version, err := h.svc.Ready(r.Context())
	if err != nil {
		slog.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready":        "true",
		"modelVersion": version,
	})
}

// ListValidationTypes returns every supported validation type.
func (h *Handler) ListValidationTypes(w http.ResponseWriter, r *http.Request) {
	types := domain.SupportedValidationTypes()
	writeJSON(w, http.StatusOK, map[string]any{
		"validationTypes": types,
		"count":           len(types),
	})
}

// EstimateCost returns the compute cost of a validation type.
// Complexity defaults to zero.
func (h *Handler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	vt := domain.ValidationType(chi.URLParam(r, "type"))

	complexity := 0
	if raw := r.URL.Query().Get("complexity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "complexity must be an integer")
			return
		}
		complexity = n
	}

	cost, err := domain.EstimateCost(vt, complexity)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CostResponse{
		ValidationType: vt,
		Complexity:     complexity,
		Cost:           cost,
	})
}

// Validate handles POST /v1/validations. With ?async=true the request is
// queued and the status record is returned with 202.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body ValidationRequestBody
	if !h.decode(w, r, &body) {
		return
	}
	req := body.toDomain(time.Now().UTC())
	caller := GetPrincipal(ctx)

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		rec, err := h.svc.Enqueue(ctx, caller, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, rec)
		return
	}

	result, err := h.svc.ValidateWithContext(ctx, caller, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetValidation retrieves a validation result by request ID.
func (h *Handler) GetValidation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	result, err := h.svc.GetValidation(ctx, GetPrincipal(ctx), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetValidationStatus returns where a request is in its lifecycle.
func (h *Handler) GetValidationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	rec, err := h.svc.Status(ctx, GetPrincipal(ctx), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ValidateIdentity scores an identity using the profile held by the
// identity service.
func (h *Handler) ValidateIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID := chi.URLParam(r, "identityID")

	score, err := h.svc.ValidateIdentity(ctx, GetPrincipal(ctx), identityID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, IdentityScoreResponse{
		IdentityID:   identityID,
		OverallScore: score,
	})
}

// ListIdentityValidations returns an identity's results, newest first.
func (h *Handler) ListIdentityValidations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identityID := chi.URLParam(r, "identityID")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	results, err := h.svc.ListValidations(ctx, GetPrincipal(ctx), identityID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"validations": results,
		"count":       len(results),
	})
}

// DetectDeepfake scores a single biometric sample.
func (h *Handler) DetectDeepfake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body DeepfakeRequestBody
	if !h.decode(w, r, &body) {
		return
	}

	score, err := h.svc.DetectDeepfake(ctx, GetPrincipal(ctx), body.ImageHash, domain.BiometricData{
		BiometricType: body.Biometric.BiometricType,
		TemplateHash:  body.Biometric.TemplateHash,
		QualityScore:  body.Biometric.QualityScore,
		LivenessScore: body.Biometric.LivenessScore,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DeepfakeResponse{Score: score})
}

// GetModel returns the active model.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	m, err := h.svc.ActiveModel(ctx, GetPrincipal(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// UpdateModel replaces the active model wholesale. Admin only.
func (h *Handler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var m domain.FraudDetectionModel
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := h.svc.UpdateModel(ctx, GetPrincipal(ctx), &m); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "model updated",
		"version": m.Version,
	})
}

// RetrainModel stores a labeled batch and replaces the active model with a
// minor-version clone measured on the batch's Validation split. Admin only.
func (h *Handler) RetrainModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body RetrainRequestBody
	if !h.decode(w, r, &body) {
		return
	}

	perf, err := h.svc.RetrainModel(ctx, GetPrincipal(ctx), body.toDomain())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, perf)
}

// GetModelMetrics returns the rolling performance scorecard.
func (h *Handler) GetModelMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	perf, err := h.svc.PerformanceMetrics(ctx, GetPrincipal(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, perf)
}

// ListPatterns returns the fraud pattern registry.
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	list, err := h.svc.ListPatterns(ctx, GetPrincipal(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": list,
		"count":    len(list),
	})
}

// GetPattern returns a single fraud pattern.
func (h *Handler) GetPattern(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	p, err := h.svc.GetPattern(ctx, GetPrincipal(ctx), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// CreatePattern registers an admin-defined fraud pattern. Admin only.
func (h *Handler) CreatePattern(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body PatternRequestBody
	if !h.decode(w, r, &body) {
		return
	}

	p := body.toDomain()
	if err := h.svc.RegisterPattern(ctx, GetPrincipal(ctx), p); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// AddAdmin grants admin rights to a principal. Admin only.
func (h *Handler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body AdminRequestBody
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.svc.AddAdmin(ctx, GetPrincipal(ctx), body.Principal); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"principal": body.Principal,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
