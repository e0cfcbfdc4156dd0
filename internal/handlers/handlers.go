package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/damagex-api/internal/domain"
	"github.com/Brownie44l1/damagex-api/internal/service"
	"github.com/Brownie44l1/damagex-api/internal/upload"
)

const formField = "file"

// Loader reports whether a model is loaded without loading it.
type Loader interface {
	IsLoaded() bool
}

type Options struct {
	MaxUploadBytes int64
	// LowConfidence adds a warning to results below this confidence.
	LowConfidence float64
}

type Handler struct {
	pipeline      *service.Pipeline
	gatekeeper    Loader
	guard         *upload.Guard
	lowConfidence float64
	log           *zap.Logger
}

func NewHandler(pipeline *service.Pipeline, gatekeeper Loader, opts Options, log *zap.Logger) *Handler {
	return &Handler{
		pipeline:      pipeline,
		gatekeeper:    gatekeeper,
		guard:         upload.NewGuard(opts.MaxUploadBytes),
		lowConfidence: opts.LowConfidence,
		log:           log.Named("http"),
	}
}

type PredictionResponse struct {
	Category   string             `json:"category"`
	Confidence float64            `json:"confidence"`
	Details    map[string]float64 `json:"details"`
	IsValid    bool               `json:"is_valid"`
	Warning    *string            `json:"warning"`
}

type HealthResponse struct {
	Status           string `json:"status"`
	ModelLoaded      bool   `json:"model_loaded"`
	GatekeeperLoaded bool   `json:"gatekeeper_loaded"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		ModelLoaded:      h.pipeline.Ready(),
		GatekeeperLoaded: h.gatekeeper.IsLoaded(),
	})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.With(zap.String("request_id", service.RequestID(ctx)))

	// Leave room for multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.guard.MaxBytes+64<<10)

	data, err := h.readUpload(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("Upload aborted by client", zap.Error(err))
			return
		}
		status, msg := uploadError(err, h.guard.MaxBytes)
		log.Info("Upload rejected", zap.Int("status", status), zap.Error(err))
		respondError(w, status, msg)
		return
	}

	result, err := h.pipeline.Classify(ctx, data)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			respondError(w, http.StatusServiceUnavailable, "Service busy, please retry")
		case domain.IsValidation(err):
			respondError(w, http.StatusBadRequest, domain.PublicMessage(err))
		default:
			respondError(w, http.StatusInternalServerError, domain.MsgInternal)
		}
		return
	}

	resp := PredictionResponse{
		Category:   result.Category,
		Confidence: result.Confidence,
		Details:    result.Details,
		IsValid:    true,
	}
	if result.Confidence < h.lowConfidence {
		warning := fmt.Sprintf("Low confidence (%.0f%%). Try a clearer, well-lit photo of the damaged area.", result.Confidence*100)
		resp.Warning = &warning
	}
	respondJSON(w, http.StatusOK, resp)
}

// readUpload streams the multipart body to the file part and hands it to the guard.
func (h *Handler) readUpload(ctx context.Context, r *http.Request) ([]byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotMultipart, err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoFile
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		if part.FormName() != formField {
			part.Close()
			continue
		}
		defer part.Close()
		return h.guard.Accept(ctx, part.Header.Get("Content-Type"), part)
	}
}

var (
	errNotMultipart = errors.New("not a multipart upload")
	errNoFile       = errors.New("no file part")
)

func uploadError(err error, maxBytes int64) (int, string) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.Is(err, upload.ErrTooLarge), errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "File too large. Maximum size is " + formatSize(maxBytes) + "."
	case errors.Is(err, upload.ErrUnsupportedType):
		return http.StatusBadRequest, "Invalid file type. Only JPEG, PNG, and WebP are supported."
	case errors.Is(err, upload.ErrEmpty):
		return http.StatusBadRequest, "Empty file."
	case errors.Is(err, errNoFile):
		return http.StatusBadRequest, "No image file provided. Use 'file' as the form field name"
	case errors.Is(err, errNotMultipart):
		return http.StatusBadRequest, "Expected a multipart/form-data upload"
	}
	return http.StatusBadRequest, "Failed to read upload"
}

func formatSize(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}
