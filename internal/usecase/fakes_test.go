package usecase_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/bfl"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/mistral"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/pollinations"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/provider/replicate"
	"github.com/fairyhunter13/ai-gen-gateway/internal/adapter/upstream"
	"github.com/fairyhunter13/ai-gen-gateway/internal/config"
	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
	"github.com/fairyhunter13/ai-gen-gateway/internal/service/poller"
)

func testConfig() config.Config {
	return config.Config{
		AppEnv:                 "test",
		ReplicatePollInterval:  time.Millisecond,
		ReplicatePollAttempts:  3,
		SpeechPollAttempts:     3,
		BFLPollInterval:        time.Millisecond,
		BFLPollAttempts:        3,
		MediaPollImageTimeout:  30 * time.Millisecond,
		MediaPollImageDelay:    5 * time.Millisecond,
		MediaPollVideoTimeout:  30 * time.Millisecond,
		MediaPollVideoDelay:    5 * time.Millisecond,
		WebContextCacheTTL:     time.Minute,
		WebContextLightTimeout: time.Second,
		WebContextDeepTimeout:  time.Second,
		EnhancePrimaryModel:    "claude",
		EnhanceFallbackModel:   "openai",
	}
}

func completion(text string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": text}}},
	})
	return b
}

type fakeChat struct {
	mu        sync.Mutex
	chat      func(req pollinations.ChatRequest) (json.RawMessage, error)
	enter     func(payload any) (json.RawMessage, error)
	chatReqs  []pollinations.ChatRequest
	enterReqs []any
}

func (f *fakeChat) Chat(_ context.Context, _ string, req pollinations.ChatRequest) (json.RawMessage, error) {
	f.mu.Lock()
	f.chatReqs = append(f.chatReqs, req)
	f.mu.Unlock()
	return f.chat(req)
}

func (f *fakeChat) EnterChat(_ context.Context, _ string, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	f.enterReqs = append(f.enterReqs, payload)
	f.mu.Unlock()
	return f.enter(payload)
}

type fakeMistral struct {
	configured bool
	reply      domain.ChatReply
	err        error
	reqs       []mistral.Request
}

func (f *fakeMistral) Configured() bool { return f.configured }

func (f *fakeMistral) Chat(_ context.Context, req mistral.Request) (domain.ChatReply, error) {
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

type fakeImage struct {
	media  domain.Media
	err    error
	models []string
	merr   error
	params []pollinations.ImageParams
}

func (f *fakeImage) GenerateImage(_ context.Context, _ string, p pollinations.ImageParams) (domain.Media, error) {
	f.params = append(f.params, p)
	return f.media, f.err
}

func (f *fakeImage) ImageModels(context.Context) ([]string, error) { return f.models, f.merr }

type mockBFL struct{ mock.Mock }

func (m *mockBFL) Configured() bool { return m.Called().Bool(0) }

func (m *mockBFL) Submit(ctx context.Context, endpoint string, payload map[string]any) (bfl.Job, error) {
	args := m.Called(ctx, endpoint, payload)
	return args.Get(0).(bfl.Job), args.Error(1)
}

func (m *mockBFL) Poll(ctx context.Context, job bfl.Job, cfg poller.Config) (bfl.Result, error) {
	args := m.Called(ctx, job, cfg)
	return args.Get(0).(bfl.Result), args.Error(1)
}

func (m *mockBFL) Download(ctx context.Context, url string) (domain.Media, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(domain.Media), args.Error(1)
}

type fakePredictions struct {
	configured bool
	pred       replicate.Prediction
	err        error
	reqs       []replicate.CreateRequest
	cfgs       []poller.Config
}

func (f *fakePredictions) Configured() bool { return f.configured }

func (f *fakePredictions) Run(_ context.Context, req replicate.CreateRequest, cfg poller.Config) (replicate.Prediction, error) {
	f.reqs = append(f.reqs, req)
	f.cfgs = append(f.cfgs, cfg)
	return f.pred, f.err
}

type fakeStore struct {
	configured bool
	uploads    map[string][]byte
	types      map[string]string
	items      []domain.StoredObject
	err        error
	prefix     string
}

func (f *fakeStore) Configured() bool { return f.configured }

func (f *fakeStore) Upload(_ context.Context, _, path, ct string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.uploads == nil {
		f.uploads, f.types = map[string][]byte{}, map[string]string{}
	}
	f.uploads[path], f.types[path] = body, ct
	return nil
}

func (f *fakeStore) List(_ context.Context, _, prefix string, _ int) ([]domain.StoredObject, error) {
	f.prefix = prefix
	return f.items, f.err
}

func (f *fakeStore) PublicURL(bucket, path string) string {
	return "https://store.test/" + bucket + "/" + path
}

type fakeFetcher struct {
	head  upstream.HeadInfo
	media domain.Media
	err   error
}

func (f *fakeFetcher) Head(context.Context, string) upstream.HeadInfo { return f.head }

func (f *fakeFetcher) Fetch(context.Context, string, int64) (domain.Media, error) {
	return f.media, f.err
}

type fakeMedia struct {
	mu       sync.Mutex
	fetches  int
	fetch    func(n int) (domain.Media, error)
	uploaded []byte
	upType   string
	up       pollinations.UploadedMedia
	upErr    error
	filename string
}

func (f *fakeMedia) UploadMedia(_ context.Context, _, ct string, body []byte) (pollinations.UploadedMedia, error) {
	f.uploaded, f.upType = body, ct
	return f.up, f.upErr
}

func (f *fakeMedia) UploadFile(_ context.Context, _, filename string, body []byte) (pollinations.UploadedMedia, error) {
	f.uploaded, f.filename = body, filename
	return f.up, f.upErr
}

func (f *fakeMedia) Fetch(context.Context, string, int64) (domain.Media, error) {
	f.mu.Lock()
	f.fetches++
	n := f.fetches
	f.mu.Unlock()
	return f.fetch(n)
}

func (f *fakeMedia) MediaURL(key string) string { return "https://media.test/" + key }

type fakeAudio struct {
	media    domain.Media
	err      error
	duration int
	speech   []pollinations.SpeechRequest
	text     string
	audioURI string
}

func (f *fakeAudio) Compose(_ context.Context, _, _ string, d int, _ bool) (domain.Media, error) {
	f.duration = d
	return f.media, f.err
}

func (f *fakeAudio) Speech(_ context.Context, _ string, sr pollinations.SpeechRequest) (domain.Media, error) {
	f.speech = append(f.speech, sr)
	return f.media, f.err
}

func (f *fakeAudio) Transcribe(_ context.Context, _, uri string) (string, error) {
	f.audioURI = uri
	return f.text, f.err
}

type fakeSearch struct {
	text string
	err  error
}

func (f fakeSearch) Search(context.Context, string, string) (string, error) { return f.text, f.err }

type mockJobRepo struct{ mock.Mock }

func (m *mockJobRepo) Create(ctx domain.Context, j domain.GenerationJob) (string, error) {
	args := m.Called(ctx, j)
	return args.String(0), args.Error(1)
}

func (m *mockJobRepo) Get(ctx domain.Context, id string) (domain.GenerationJob, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.GenerationJob), args.Error(1)
}

func (m *mockJobRepo) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, output json.RawMessage, errMsg *string) error {
	return m.Called(ctx, id, status, output, errMsg).Error(0)
}

func (m *mockJobRepo) SetRemoteID(ctx domain.Context, id, remoteID string) error {
	return m.Called(ctx, id, remoteID).Error(0)
}

func (m *mockJobRepo) FailStuck(ctx domain.Context, olderThan time.Time, reason string) (int64, error) {
	args := m.Called(ctx, olderThan, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockJobRepo) DeleteFinishedBefore(ctx domain.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type mockQueue struct{ mock.Mock }

func (m *mockQueue) EnqueueGeneration(ctx domain.Context, task domain.GenerationTask) error {
	return m.Called(ctx, task).Error(0)
}

type fakeTemp struct {
	url      string
	err      error
	filename string
	ctype    string
	body     []byte
}

func (f *fakeTemp) Upload(_ context.Context, filename, contentType string, body []byte) (string, error) {
	f.filename, f.ctype, f.body = filename, contentType, body
	return f.url, f.err
}
