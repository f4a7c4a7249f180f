package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/replicate"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/storage/catbox"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/poller"
	"github.com/fairyhunter13/ai-gen-gateway/internal/usecase"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

const chatReply = `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi"}}]}`

type fakeUpstream struct {
	mu          sync.Mutex
	modelsCode  int
	lastAuth    string
	lastUpload  []byte
	lastChatReq map[string]any
	lastSTT     map[string]string
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAuth = r.Header.Get("Authorization")
	switch {
	case r.URL.Path == "/openai":
		_ = json.NewDecoder(r.Body).Decode(&f.lastChatReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatReply)
	case r.URL.Path == "/models":
		if f.modelsCode != 0 {
			w.WriteHeader(f.modelsCode)
			_, _ = io.WriteString(w, "upstream exploded")
			return
		}
		_, _ = io.WriteString(w, `["flux","turbo"]`)
	case strings.HasPrefix(r.URL.Path, "/prompt/"):
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	case r.URL.Path == "/upload":
		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.lastUpload, _ = io.ReadAll(file)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"m1","url":"https://media.example/m1","contentType":"image/png"}`)
	case r.URL.Path == "/stt":
		_ = json.NewDecoder(r.Body).Decode(&f.lastSTT)
		_, _ = io.WriteString(w, `{"text":" hi there "}`)
	case r.URL.Path == "/user/api.php":
		if r.FormValue("reqtype") != "fileupload" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("fileToUpload")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.lastUpload, _ = io.ReadAll(file)
		_, _ = io.WriteString(w, "https://files.catbox.moe/t1.png")
	default:
		http.NotFound(w, r)
	}
}

type fakePredictions struct {
	mu   sync.Mutex
	reqs []replicate.CreateRequest
}

func (f *fakePredictions) Configured() bool { return true }

func (f *fakePredictions) Run(_ context.Context, req replicate.CreateRequest, _ poller.Config) (replicate.Prediction, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return replicate.Prediction{ID: "p1", Status: replicate.StatusSucceeded, Output: json.RawMessage(`["https://replicate.delivery/out.png"]`)}, nil
}

type fakeJobs struct {
	domain.JobRepository
	mu       sync.Mutex
	created  []domain.GenerationJob
	enqueued []domain.GenerationTask
}

func (f *fakeJobs) Create(_ context.Context, j domain.GenerationJob) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, j)
	return "0191f2a4-4a7e-7c1a-9d1e-8b2f3c4d5e6f", nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (domain.GenerationJob, error) {
	return domain.GenerationJob{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
}

func (f *fakeJobs) EnqueueGeneration(_ context.Context, t domain.GenerationTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, t)
	return nil
}

type fixture struct {
	srv   *Server
	up    *fakeUpstream
	preds *fakePredictions
	jobs  *fakeJobs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	up := &fakeUpstream{}
	ts := httptest.NewServer(up)
	t.Cleanup(ts.Close)

	hc := upstream.New(upstream.Options{
		Provider: domain.ProviderPollinations,
		Timeout:  5 * time.Second,
		Backoff: upstream.BackoffConfig{
			MaxElapsedTime:  100 * time.Millisecond,
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			Multiplier:      2,
		},
	})
	poll := pollinations.New(hc, pollinations.URLs{Text: ts.URL, Image: ts.URL, Gen: ts.URL, Enter: ts.URL, Media: ts.URL})
	catalog := config.MustDefaultCatalog()
	cfg := config.Config{ReplicateToolPassword: "s3cret"}
	preds := &fakePredictions{}
	jobs := &fakeJobs{}
	predSvc := &usecase.PredictionService{API: preds, Catalog: catalog}
	images := &usecase.ImageService{API: poll, Catalog: catalog}

	srv := &Server{
		Cfg:         cfg,
		Chat:        usecase.NewChatService(poll, nil, nil, usecase.SmartRouter{Catalog: catalog}),
		Images:      images,
		Predictions: predSvc,
		Media:       usecase.NewMediaService(poll, upstream.New(upstream.Options{Provider: "media_source"}), cfg),
		Uploads:     usecase.NewUploadService(catbox.New(hc, ts.URL+"/user/api.php"), nil, nil, cfg),
		Audio:       usecase.AudioService{API: poll},
		Jobs:        &usecase.JobService{Repo: jobs, Queue: jobs, Predictions: predSvc, Images: images},
	}
	return &fixture{srv: srv, up: up, preds: preds, jobs: jobs}
}

func postJSON(h http.Handler, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestChatCompletion_RelaysProviderBody(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.ChatCompletionHandler(),
		`{"modelId":"openai","messages":[{"role":"user","content":"hello"}],"systemPrompt":"be brief"}`,
		HeaderPollenKey, "sk_user")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, chatReply, rec.Body.String())
	assert.Equal(t, "Bearer sk_user", f.up.lastAuth)
	assert.Equal(t, "openai", f.up.lastChatReq["model"])
	assert.Equal(t, "be brief", f.up.lastChatReq["system"])
}

func TestChatCompletion_BodyAPIKeyIsForwarded(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.ChatCompletionHandler(),
		`{"modelId":"openai","messages":[{"role":"user","content":"hello"}],"apiKey":" sk_body "}`,
		HeaderPollenKey, "sk_header")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Bearer sk_body", f.up.lastAuth)
	assert.NotContains(t, f.up.lastChatReq, "apiKey")

	rec = postJSON(f.srv.ChatCompletionHandler(),
		`{"modelId":"openai","messages":[{"role":"user","content":"hello"}],"apiKey":"sk\u0001bad"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"apiKey": "printascii"}, decodeBody(t, rec)["details"])
}

func TestChatCompletion_Validation(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.ChatCompletionHandler(), `{"messages":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields: messages and modelId", decodeBody(t, rec)["error"])

	rec = postJSON(f.srv.ChatCompletionHandler(), `{"modelId":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid JSON in request body.", decodeBody(t, rec)["error"])

	rec = postJSON(f.srv.ChatCompletionHandler(), `{"modelId":"openai","messages":[{"role":"robot","content":"x"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "INVALID_ARGUMENT", body["code"])
	assert.NotNil(t, body["details"])
}

func TestGenerateImage_ReturnsBytes(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.GenerateImageHandler(), `{"prompt":"a lighthouse","model":"turbo","width":512,"seed":"42"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes, rec.Body.Bytes())
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}

func TestGenerateImage_RejectsGPTImage(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.GenerateImageHandler(), `{"prompt":"a lighthouse","model":"gptimage"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "gptimage", body["modelUsed"])
	assert.Contains(t, body["error"], "should use the OpenAI endpoint")

	rec = postJSON(f.srv.GenerateImageHandler(), `{"prompt":"  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "flux", decodeBody(t, rec)["modelUsed"])
}

func TestOpenAIImage_NoStore(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.OpenAIImageHandler(), `{"prompt":"a lighthouse","model":"flux"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestImageModels_FallbackListOnUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.srv.ImageModelsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	f.up.mu.Lock()
	f.up.modelsCode = http.StatusNotFound
	f.up.mu.Unlock()
	rec = httptest.NewRecorder()
	f.srv.ImageModelsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "Failed to fetch models from Pollinations: 404")
	assert.Equal(t, []any{"flux", "turbo", "gptimage"}, body["models"])
}

func TestReplicate_UnknownModel(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.ReplicateHandler(), `{"model":"nope","prompt":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "Unknown or invalid model specified: nope")
	assert.Empty(t, f.preds.reqs)
}

func TestReplicate_RunsCataloguedModel(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.ReplicateHandler(), `{"model":"imagen-4-ultra","prompt":"x","num_outputs":"2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"output":["https://replicate.delivery/out.png"]}`, rec.Body.String())
	require.Len(t, f.preds.reqs, 1)
	assert.Contains(t, f.preds.reqs[0].Version, "google/imagen-4-ultra")
	assert.NotContains(t, f.preds.reqs[0].Input, "model")
}

func TestRDGR_PasswordGate(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.RDGRHandler(), `{"model":"qwenrud","prompt":"x"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, rdgrPasswordMessage, decodeBody(t, rec)["error"])

	rec = postJSON(f.srv.RDGRHandler(), `{"model":"qwenrud","prompt":"x","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(f.srv.RDGRHandler(), `{"model":"qwenrud","prompt":"x","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.preds.reqs, 1)
	assert.NotContains(t, f.preds.reqs[0].Input, "password")
	assert.True(t, f.preds.reqs[0].PreferWait)
}

func TestRDGR_NoPasswordConfigured(t *testing.T) {
	f := newFixture(t)
	f.srv.Cfg.ReplicateToolPassword = ""
	rec := postJSON(f.srv.RDGRHandler(), `{"model":"qwenrud","prompt":"x"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestMediaUpload(t *testing.T) {
	f := newFixture(t)

	body, ct := multipartBody(t, "file", "cat.png", pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.srv.MediaUploadHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing Pollinations API key", decodeBody(t, rec)["error"])

	body, ct = multipartBody(t, "file", "cat.png", pngBytes)
	req = httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(HeaderPollenUserKey, "sk_user")
	rec = httptest.NewRecorder()
	f.srv.MediaUploadHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "m1", decodeBody(t, rec)["id"])
	assert.Equal(t, pngBytes, f.up.lastUpload)

	body, ct = multipartBody(t, "other", "cat.png", pngBytes)
	req = httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(HeaderPollenKey, "sk_user")
	rec = httptest.NewRecorder()
	f.srv.MediaUploadHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing file field in multipart form-data", decodeBody(t, rec)["error"])
}

func TestSignUpload_Gone(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.SignUploadHandler(), `{}`)
	require.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "GONE", decodeBody(t, rec)["code"])
}

func TestDisabledFeature_Gone(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.DisabledFeatureHandler(), `{}`)
	require.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "This feature has been disabled.", decodeBody(t, rec)["error"])
}

func TestSTT_TranscribesUpload(t *testing.T) {
	f := newFixture(t)
	wav := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)

	body, ct := multipartBody(t, "audioFile", "clip.wav", wav)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set(HeaderPollenKey, "sk_user")
	rec := httptest.NewRecorder()
	f.srv.STTHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "hi there", decodeBody(t, rec)["transcription"])
	assert.Equal(t, "Bearer sk_user", f.up.lastAuth)
	assert.True(t, strings.HasPrefix(f.up.lastSTT["audio_data_uri"], "data:audio/wav;base64,"))

	body, ct = multipartBody(t, "file", "clip.wav", wav)
	req = httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	f.srv.STTHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required field: audioFile", decodeBody(t, rec)["error"])
}

func TestUploadTemp_RelaysToTempHost(t *testing.T) {
	f := newFixture(t)

	body, ct := multipartBody(t, "file", "cat.png", pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	f.srv.UploadTempHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://files.catbox.moe/t1.png", decodeBody(t, rec)["url"])
	assert.Equal(t, pngBytes, f.up.lastUpload)

	body, ct = multipartBody(t, "other", "cat.png", pngBytes)
	req = httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	f.srv.UploadTempHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file provided", decodeBody(t, rec)["error"])
}

func TestUploadIngest_RequiresStorage(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.UploadIngestHandler(), `{"sourceUrl":"https://gen.test/x.png","kind":"gif"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(f.srv.UploadIngestHandler(), `{"sourceUrl":"https://gen.test/x.png"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Supabase not configured on server", decodeBody(t, rec)["error"])
}

func TestJobs_SubmitAndGet(t *testing.T) {
	f := newFixture(t)
	rec := postJSON(f.srv.SubmitJobHandler(), `{"kind":"replicate","payload":{"model":"imagen-4-ultra","input":{"prompt":"x"}}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "/v1/jobs/0191f2a4-4a7e-7c1a-9d1e-8b2f3c4d5e6f", rec.Header().Get("Location"))
	require.Len(t, f.jobs.enqueued, 1)
	assert.Equal(t, domain.JobKind("replicate"), f.jobs.enqueued[0].Kind)

	r := chi.NewRouter()
	r.Get("/v1/jobs/{id}", f.srv.GetJobHandler())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"id": "uuid"}, decodeBody(t, rec)["details"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/0191f2a4-4a7e-7c1a-9d1e-8b2f3c4d5e6f", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeBody(t, rec)["error"])
}

func TestJobs_Disabled(t *testing.T) {
	f := newFixture(t)
	f.srv.Jobs = nil
	rec := postJSON(f.srv.SubmitJobHandler(), `{"kind":"replicate","payload":{}}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_CONFIGURED", decodeBody(t, rec)["code"])
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.srv.HealthzHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	f.srv.Checks = []ReadinessCheck{
		{Name: "redis", Check: func(context.Context) error { return nil }},
		{Name: "db", Check: func(context.Context) error { return fmt.Errorf("dial tcp: refused") }},
	}
	rec = httptest.NewRecorder()
	f.srv.ReadyzHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "dial tcp: refused")
}
