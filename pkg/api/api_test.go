package api_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/tarsy-voice/tarsy-voice/pkg/api"
	"github.com/tarsy-voice/tarsy-voice/pkg/call"
	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/delivery"
	"github.com/tarsy-voice/tarsy-voice/pkg/digit"
	"github.com/tarsy-voice/tarsy-voice/pkg/events"
	"github.com/tarsy-voice/tarsy-voice/pkg/mediastream"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
	"github.com/tarsy-voice/tarsy-voice/pkg/provideradapter"
	"github.com/tarsy-voice/tarsy-voice/pkg/store"
	"github.com/tarsy-voice/tarsy-voice/pkg/streampump"
)

// fakeStore is a single in-memory double satisfying every store
// interface the orchestrator, digit engine, delivery engine, and event
// hub depend on, so handler tests can exercise the real domain
// services end to end without a database.
type fakeStore struct {
	mu           sync.Mutex
	calls        map[string]*models.Call
	messages     map[string]*models.Message
	idempotency  map[string]*models.IdempotencyRecord
	suppressions map[string]*models.Suppression
	events       []store.Event
	seq          int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		calls:        map[string]*models.Call{},
		messages:     map[string]*models.Message{},
		idempotency:  map[string]*models.IdempotencyRecord{},
		suppressions: map[string]*models.Suppression{},
	}
}

func (f *fakeStore) CreateCall(ctx context.Context, c *models.Call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.calls[c.ID] = &cp
	return nil
}

func (f *fakeStore) GetCall(ctx context.Context, callID string, includeDeleted bool) (*models.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[callID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) AppendCallTransition(ctx context.Context, callID string, newState models.CallStatus, data map[string]any, update *store.CallTransitionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[callID]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = newState
	if update != nil {
		if update.FailureReason != nil {
			c.FailureReason = *update.FailureReason
		}
		if update.CarrierStatus != nil {
			c.CarrierStatus = *update.CarrierStatus
		}
		if update.Provider != nil {
			c.Provider = *update.Provider
		}
	}
	return nil
}

func (f *fakeStore) UpdatePrompt(ctx context.Context, callID, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[callID]
	if !ok {
		return store.ErrNotFound
	}
	c.Prompt = prompt
	return nil
}

func (f *fakeStore) ListCalls(ctx context.Context, filter models.ListCallsCursor) ([]*models.Call, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Call, 0, len(f.calls))
	for _, c := range f.calls {
		cp := *c
		out = append(out, &cp)
	}
	return out, "", nil
}

func (f *fakeStore) CountActiveCalls(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if !c.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AddDigitEvent(ctx context.Context, e *models.DigitEvent) error { return nil }

func (f *fakeStore) AddTranscript(ctx context.Context, t *models.Transcript) error { return nil }

func (f *fakeStore) SetLastOTP(ctx context.Context, callID string, encrypted []byte, masked string) error {
	return nil
}

func (f *fakeStore) CheckIdempotency(ctx context.Context, key, requestHash string) (*models.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.idempotency[key]
	if !ok {
		return nil, nil
	}
	if rec.RequestHash != requestHash {
		return rec, store.ErrIdempotencyConflict
	}
	return rec, nil
}

func (f *fakeStore) RecordIdempotencyResult(ctx context.Context, key, messageID, bulkJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idempotency[key] = &models.IdempotencyRecord{Key: key, MessageID: messageID, BulkJobID: bulkJobID}
	return nil
}

func (f *fakeStore) GetSuppression(ctx context.Context, address string, channel models.MessageChannel) (*models.Suppression, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sup, ok := f.suppressions[address]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sup, nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, m *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.MessageID] = m
	return nil
}

func (f *fakeStore) IncrementMetricCounter(ctx context.Context, kind, outcome string) error { return nil }

func (f *fakeStore) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) UpdateMessageStatus(ctx context.Context, messageID string, status models.MessageStatus, retryCount int, providerMsgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[messageID]
	if !ok {
		return store.ErrNotFound
	}
	m.Status = status
	m.RetryCount = retryCount
	if providerMsgID != "" {
		m.ProviderMsgID = providerMsgID
	}
	return nil
}

func (f *fakeStore) SetSuppression(ctx context.Context, sup *models.Suppression) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suppressions[sup.Address] = sup
	return nil
}

func (f *fakeStore) CreateBulkJob(ctx context.Context, job *models.BulkJob) error { return nil }

func (f *fakeStore) IncrementBulkJobStatus(ctx context.Context, jobID string, status models.MessageStatus) error {
	return nil
}

func (f *fakeStore) EventsSince(ctx context.Context, topic string, since int64, limit int) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Event
	for _, e := range f.events {
		if e.Topic == topic && e.Sequence > since {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestSequence(ctx context.Context, topic string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq, nil
}

// fakeAdapter is a minimal provideradapter.Adapter double.
type fakeAdapter struct {
	name         string
	parseResult  models.CarrierEvent
	validateMode provideradapter.WebhookValidation
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Originate(ctx context.Context, req models.OriginateRequest, callID string) (*provideradapter.OriginateResult, error) {
	return &provideradapter.OriginateResult{ProviderCallID: callID}, nil
}

func (a *fakeAdapter) BuildAnswerDocument(ctx context.Context, callID, host string) (string, error) {
	return "<doc/>", nil
}

func (a *fakeAdapter) ValidateWebhook(r *http.Request, body []byte) (provideradapter.WebhookValidation, error) {
	mode := a.validateMode
	if mode == "" {
		mode = provideradapter.ValidationOK
	}
	if mode == provideradapter.ValidationFail {
		return mode, context.DeadlineExceeded
	}
	return mode, nil
}

func (a *fakeAdapter) ParseWebhook(r *http.Request, body []byte, callID string) (models.CarrierEvent, error) {
	ev := a.parseResult
	ev.CallID = callID
	ev.Provider = a.name
	return ev, nil
}

func (a *fakeAdapter) Terminate(ctx context.Context, providerCallID string) error { return nil }

func (a *fakeAdapter) SendDTMFResponse(ctx context.Context, callID string, plan *models.CollectionPlan) (string, error) {
	return "<doc/>", nil
}

func (a *fakeAdapter) EmitTTS(ctx context.Context, callID, audioURL, sayText string) (string, error) {
	return "<doc/>", nil
}

func testControlPlaneConfig(secret string) *config.ControlPlaneConfig {
	return &config.ControlPlaneConfig{SecretEnv: "TEST_API_SECRET", MaxSkew: 300 * time.Second, SSEHeartbeat: 15 * time.Second}
}

func testDigitEngine(fs *fakeStore) *digit.Engine {
	registry := config.NewDigitProfileRegistry(config.BuiltinDigitProfiles())
	return digit.New(registry, devCipher(), fs, digit.Callbacks{})
}

func devCipher() *digit.Cipher {
	c, err := digit.NewCipher(&config.ComplianceConfig{Mode: config.ComplianceDevInsecure})
	if err != nil {
		panic(err)
	}
	return c
}

type fakeHealthStore struct{}

func (fakeHealthStore) UpsertProviderHealth(ctx context.Context, h *models.ProviderHealth) error {
	return nil
}

func (fakeHealthStore) GetProviderHealth(ctx context.Context, provider string) (*models.ProviderHealth, error) {
	return nil, store.ErrNotFound
}

func testHealthTracker() *provideradapter.HealthTracker {
	return provideradapter.NewHealthTracker(120*time.Second, 5, 30*time.Second, time.Minute, fakeHealthStore{})
}

func testOrchestrator(fs *fakeStore, adapters map[string]provideradapter.Adapter, preference []string) *call.Orchestrator {
	reg := provideradapter.NewRegistry(adapters, preference, true, testHealthTracker())
	return call.New(fs, reg, call.Config{MaxOriginateAttempts: 3, RetryBaseMs: 1, RetryMaxMs: 5})
}

func testRegistry(adapters map[string]provideradapter.Adapter, preference []string) *provideradapter.Registry {
	return provideradapter.NewRegistry(adapters, preference, true, testHealthTracker())
}

func testHub(fs *fakeStore) *events.Hub {
	return events.NewHub(fs)
}

// newTestServerAndSecret builds a fully wired *api.Server backed by an
// in-memory fakeStore with one pre-seeded call ("call-1", created by a
// "twilio"-named fake adapter) and returns it alongside the shared
// secret used to sign HMAC-authenticated requests against it.
func newTestServerAndSecret(t *testing.T) (*api.Server, string) {
	t.Helper()
	const secret = "topsecret"
	t.Setenv("TEST_API_SECRET", secret)

	fs := newFakeStore()
	fs.calls["call-1"] = &models.Call{
		ID: "call-1", PhoneNumber: "+15551230000", Direction: models.DirectionOutbound,
		Status: models.CallAnswered, Provider: "twilio", ProviderCallID: "PC1",
	}

	adapters := map[string]provideradapter.Adapter{"twilio": &fakeAdapter{name: "twilio"}}
	orch := testOrchestrator(fs, adapters, []string{"twilio"})
	digitEngine := testDigitEngine(fs)
	deliveryEngine := delivery.NewEngine(fs, delivery.NewMemoryTemplateStore())
	hub := testHub(fs)
	registry := testRegistry(adapters, []string{"twilio"})

	cfg := &config.Config{ControlPlane: testControlPlaneConfig(secret)}
	mediaStream := mediastream.NewRegistry(fs, fs, nil, nil, streampump.Config{}, streampump.Callbacks{})
	reconciler := delivery.NewReconciler(fs)
	return api.NewServer(cfg, nil, orch, digitEngine, deliveryEngine, reconciler, hub, registry, mediaStream), secret
}

// newTestServerWithAdapter is newTestServerAndSecret but lets the
// caller supply a preconfigured fakeAdapter (e.g. one that fails
// webhook validation or parses into a digit event), for webhook
// ingress tests that need control over the adapter's behavior.
func newTestServerWithAdapter(t *testing.T, adapter *fakeAdapter) (*api.Server, string) {
	t.Helper()
	const secret = "topsecret"
	t.Setenv("TEST_API_SECRET", secret)

	fs := newFakeStore()
	fs.calls["call-1"] = &models.Call{
		ID: "call-1", PhoneNumber: "+15551230000", Direction: models.DirectionOutbound,
		Status: models.CallAnswered, Provider: adapter.name, ProviderCallID: "PC1",
	}

	adapters := map[string]provideradapter.Adapter{adapter.name: adapter}
	orch := testOrchestrator(fs, adapters, []string{adapter.name})
	digitEngine := testDigitEngine(fs)
	deliveryEngine := delivery.NewEngine(fs, delivery.NewMemoryTemplateStore())
	hub := testHub(fs)
	registry := testRegistry(adapters, []string{adapter.name})

	cfg := &config.Config{ControlPlane: testControlPlaneConfig(secret)}
	mediaStream := mediastream.NewRegistry(fs, fs, nil, nil, streampump.Config{}, streampump.Callbacks{})
	reconciler := delivery.NewReconciler(fs)
	return api.NewServer(cfg, nil, orch, digitEngine, deliveryEngine, reconciler, hub, registry, mediaStream), secret
}

// shortLivedContext returns a context that cancels almost immediately,
// for driving the SSE handler's streaming loop to a quick, deterministic
// return in tests.
func shortLivedContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}
