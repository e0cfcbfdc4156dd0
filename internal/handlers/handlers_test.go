package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"go.uber.org/zap"

	"github.com/Brownie44l1/damagex-api/internal/classifier"
	"github.com/Brownie44l1/damagex-api/internal/domain"
	"github.com/Brownie44l1/damagex-api/internal/gatekeeper"
	"github.com/Brownie44l1/damagex-api/internal/lifecycle"
	"github.com/Brownie44l1/damagex-api/internal/model"
	"github.com/Brownie44l1/damagex-api/internal/model/modeltest"
	"github.com/Brownie44l1/damagex-api/internal/service"
)

var (
	sedan = modeltest.PNG(modeltest.Solid(32, 24, color.RGBA{R: 210, G: 40, B: 40, A: 255}))
	sky   = modeltest.PNG(modeltest.Solid(32, 24, color.RGBA{R: 40, G: 90, B: 230, A: 255}))
)

func newServer(t *testing.T, damage model.Runner, opts Options) http.Handler {
	t.Helper()
	log := zap.NewNop()

	gateRunner := &modeltest.Runner{Fn: func(input []float32) ([]float32, error) {
		if modeltest.ChannelMeans(input)[0] > 0 {
			return modeltest.Hot(1000, map[int]float32{436: 7}), nil
		}
		return modeltest.Hot(1000, map[int]float32{3: 9}), nil
	}}
	gates := lifecycle.New("gatekeeper", func() (*gatekeeper.Gatekeeper, error) {
		return gatekeeper.New(modeltest.Handle(gateRunner, 8), nil, gatekeeper.Config{}, log), nil
	})
	classifiers := lifecycle.New("damage classifier", func() (*classifier.Classifier, error) {
		return classifier.New(modeltest.Handle(damage, 16), classifier.DefaultClassNames,
			gatekeeper.NewResolver(gates, gatekeeper.FailOpen, log), log)
	})

	h := NewHandler(service.NewPipeline(classifiers, 2, log), gates, opts, log)
	return h.Routes("/api/v1", []string{"*"})
}

func confidentRunner() *modeltest.Runner {
	return &modeltest.Runner{Fn: func(input []float32) ([]float32, error) {
		return []float32{0, 0, 3, 0, 0, 0}, nil
	}}
}

func uncertainRunner() *modeltest.Runner {
	return &modeltest.Runner{Fn: func(input []float32) ([]float32, error) {
		return []float32{0.1, 0, 0.2, 0, 0, 0}, nil
	}}
}

func uploadRequest(t *testing.T, field, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="car.png"`, field))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["detail"]
}

func TestHealth(t *testing.T) {
	srv := newServer(t, confidentRunner(), Options{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var health HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "healthy" || health.ModelLoaded || health.GatekeeperLoaded {
		t.Errorf("health before first use = %+v", health)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "file", "image/png", sedan))
	if rec.Code != http.StatusOK {
		t.Fatalf("predict status = %d: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	json.NewDecoder(rec.Body).Decode(&health)
	if !health.ModelLoaded || !health.GatekeeperLoaded {
		t.Errorf("health after use = %+v", health)
	}
}

func TestPredict(t *testing.T) {
	srv := newServer(t, confidentRunner(), Options{LowConfidence: 0.5})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "file", "image/png", sedan))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	var resp PredictionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Category != "Front Normal" || !resp.IsValid || resp.Warning != nil {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Details) != len(classifier.DefaultClassNames) {
		t.Errorf("details has %d entries", len(resp.Details))
	}
}

func TestPredictLowConfidenceWarning(t *testing.T) {
	srv := newServer(t, uncertainRunner(), Options{LowConfidence: 0.5})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, uploadRequest(t, "file", "", sedan))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var resp PredictionResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Warning == nil || !resp.IsValid {
		t.Errorf("expected a warning, got %+v", resp)
	}
}

func TestPredictErrors(t *testing.T) {
	tests := []struct {
		name   string
		runner model.Runner
		req    func(t *testing.T) *http.Request
		status int
		detail string
	}{
		{
			name:   "unsupported type",
			runner: confidentRunner(),
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "file", "image/gif", sedan) },
			status: http.StatusBadRequest,
			detail: "Invalid file type. Only JPEG, PNG, and WebP are supported.",
		},
		{
			name:   "too large",
			runner: confidentRunner(),
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "image/png", bytes.Repeat([]byte{1}, 4096))
			},
			status: http.StatusRequestEntityTooLarge,
		},
		{
			name:   "wrong field",
			runner: confidentRunner(),
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "image", "image/png", sedan) },
			status: http.StatusBadRequest,
			detail: "No image file provided. Use 'file' as the form field name",
		},
		{
			name:   "not multipart",
			runner: confidentRunner(),
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/predict/", bytes.NewReader(sedan))
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "corrupt image",
			runner: confidentRunner(),
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "file", "image/png", sedan[:40]) },
			status: http.StatusBadRequest,
			detail: domain.MsgDecode,
		},
		{
			name:   "no vehicle",
			runner: confidentRunner(),
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "file", "image/png", sky) },
			status: http.StatusBadRequest,
			detail: domain.MsgNoVehicle,
		},
		{
			name:   "inference failure",
			runner: modeltest.Failing(),
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "file", "image/png", sedan) },
			status: http.StatusInternalServerError,
			detail: domain.MsgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.runner, Options{MaxUploadBytes: 2048})
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, tt.req(t))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			detail := decodeDetail(t, rec)
			if tt.detail != "" && detail != tt.detail {
				t.Errorf("detail = %q, want %q", detail, tt.detail)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	log := zap.NewNop()
	h := NewHandler(service.NewPipeline(nil, 1, log), nil, Options{}, log)

	explicit := h.Routes("/api/v1", []string{"https://app.example"})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/predict/", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	explicit.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" ||
		rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Errorf("explicit origin headers = %v", rec.Header())
	}

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	explicit.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin was allowed")
	}

	wildcard := h.Routes("/api/v1", []string{"*"})
	rec = httptest.NewRecorder()
	wildcard.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" || rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Errorf("wildcard headers = %v", rec.Header())
	}
}
