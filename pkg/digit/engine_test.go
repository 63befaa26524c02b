package digit_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/digit"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

type fakeDigitStore struct {
	mu     sync.Mutex
	events []*models.DigitEvent
	masked map[string]string
}

func newFakeDigitStore() *fakeDigitStore {
	return &fakeDigitStore{masked: make(map[string]string)}
}

func (f *fakeDigitStore) AddDigitEvent(ctx context.Context, e *models.DigitEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeDigitStore) SetLastOTP(ctx context.Context, callID string, encrypted []byte, masked string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.masked[callID] = masked
	return nil
}

func devCipher(t *testing.T) *digit.Cipher {
	t.Helper()
	c, err := digit.NewCipher(&config.ComplianceConfig{Mode: config.ComplianceDevInsecure})
	require.NoError(t, err)
	return c
}

func testRegistry() *config.DigitProfileRegistry {
	return config.NewDigitProfileRegistry(config.BuiltinDigitProfiles())
}

func TestEngine_InstallExpectationAndAcceptSingleStep(t *testing.T) {
	fs := newFakeDigitStore()
	var completed bool
	var completeEndCall bool
	eng := digit.New(testRegistry(), devCipher(t), fs, digit.Callbacks{
		OnPlanComplete: func(ctx context.Context, callID, msg string, endCall bool) {
			completed = true
			completeEndCall = endCall
		},
	})

	exp := models.Expectation{
		CallID: "call-1", Profile: "generic", MinLen: 1, MaxLen: 20,
		Terminator: '#', MaxRetries: 2, EndCallOnSuccess: true,
		OverallTimeout: 0,
	}
	eng.InstallExpectation("call-1", exp)

	require.NoError(t, eng.Submit(context.Background(), "call-1", models.DigitSourceDTMF, "1234#"))
	assert.True(t, completed)
	assert.True(t, completeEndCall)
	assert.False(t, eng.Active("call-1"))
	assert.Equal(t, "1**4", fs.masked["call-1"])
}

func TestEngine_RejectThenRepromptThenFallback(t *testing.T) {
	fs := newFakeDigitStore()
	var reprompts, fallbacks int
	eng := digit.New(testRegistry(), devCipher(t), fs, digit.Callbacks{
		OnReprompt: func(ctx context.Context, callID, msg string) { reprompts++ },
		OnFallback: func(ctx context.Context, callID, msg string) { fallbacks++ },
	})

	exp := models.Expectation{
		CallID: "call-2", Profile: "generic", MinLen: 1, MaxLen: 20,
		Terminator: '#', MaxRetries: 1,
	}
	eng.InstallExpectation("call-2", exp)

	require.NoError(t, eng.Submit(context.Background(), "call-2", models.DigitSourceDTMF, "abc#"))
	assert.Equal(t, 1, reprompts)
	assert.True(t, eng.Active("call-2"))

	require.NoError(t, eng.Submit(context.Background(), "call-2", models.DigitSourceDTMF, "xyz#"))
	assert.Equal(t, 1, fallbacks)
	assert.False(t, eng.Active("call-2"))
}

func TestEngine_MultiStepPlanAdvancesBetweenSteps(t *testing.T) {
	fs := newFakeDigitStore()
	var advances []string
	var completed bool
	eng := digit.New(testRegistry(), devCipher(t), fs, digit.Callbacks{
		OnStepAdvance: func(ctx context.Context, callID string, step models.CollectionPlanStep) {
			advances = append(advances, step.Profile)
		},
		OnPlanComplete: func(ctx context.Context, callID, msg string, endCall bool) { completed = true },
	})

	plan := &models.CollectionPlan{
		PlanID: "plan-1",
		Steps: []models.CollectionPlanStep{
			{Profile: "card", StepPrompt: "card number"},
			{Profile: "cvv", StepPrompt: "cvv"},
		},
		CompletionMessage: "thanks",
		EndCallOnSuccess:  true,
	}
	require.NoError(t, eng.InstallPlan(context.Background(), "call-3", plan))
	assert.Equal(t, []string{"card"}, advances)

	require.NoError(t, eng.Submit(context.Background(), "call-3", models.DigitSourceDTMF, "4532015112830366#"))
	assert.Equal(t, []string{"card", "cvv"}, advances)
	assert.True(t, eng.Active("call-3"))

	require.NoError(t, eng.Submit(context.Background(), "call-3", models.DigitSourceSpoken, "123#"))
	assert.True(t, completed)
	assert.False(t, eng.Active("call-3"))
}

func TestEngine_DualSourceDedupeSuppressesLoser(t *testing.T) {
	fs := newFakeDigitStore()
	var completions int
	eng := digit.New(testRegistry(), devCipher(t), fs, digit.Callbacks{
		OnPlanComplete: func(ctx context.Context, callID, msg string, endCall bool) { completions++ },
	})

	exp := models.Expectation{CallID: "call-4", Profile: "generic", MinLen: 1, MaxLen: 20, Terminator: '#', MaxRetries: 1}
	eng.InstallExpectation("call-4", exp)

	require.NoError(t, eng.Submit(context.Background(), "call-4", models.DigitSourceDTMF, "1234#"))
	// The inline speech path racing in with the same completed buffer
	// should be suppressed by the dedupe window, not counted again —
	// but the expectation is already closed by the first completion so
	// this also verifies Submit is a safe no-op once inactive.
	require.NoError(t, eng.Submit(context.Background(), "call-4", models.DigitSourceSpoken, "1234#"))
	assert.Equal(t, 1, completions)
}
