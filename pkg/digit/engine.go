// Package digit implements the Digit Capture Engine (§4.4): profile
// validation, multi-step collection plans, dual carrier/speech
// sourcing with completion dedupe, reprompt ladders, and
// compliance-mode encryption of raw captures.
package digit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tarsy-voice/tarsy-voice/pkg/config"
	"github.com/tarsy-voice/tarsy-voice/pkg/models"
)

// digitStore is the subset of *store.Store the engine depends on.
type digitStore interface {
	AddDigitEvent(ctx context.Context, e *models.DigitEvent) error
	SetLastOTP(ctx context.Context, callID string, encrypted []byte, masked string) error
}

// Callbacks lets the caller (the composition root, wiring this engine
// to the Call Orchestrator and a provideradapter.Adapter) react to
// engine-driven events without the engine importing either package.
type Callbacks struct {
	// OnReprompt fires when a buffer is rejected and a retry remains.
	OnReprompt func(ctx context.Context, callID, promptText string)
	// OnFallback fires when retries are exhausted.
	OnFallback func(ctx context.Context, callID, fallbackText string)
	// OnStepAdvance fires when a plan moves to its next step.
	OnStepAdvance func(ctx context.Context, callID string, step models.CollectionPlanStep)
	// OnPlanComplete fires when a plan (or a bare Expectation) finishes
	// successfully. endCall mirrors Expectation/CollectionPlan's
	// EndCallOnSuccess.
	OnPlanComplete func(ctx context.Context, callID, completionMessage string, endCall bool)
}

// activeCapture tracks one call's in-flight Expectation plus its
// owning plan, if any.
type activeCapture struct {
	exp       models.Expectation
	plan      *models.CollectionPlan
	deadline  time.Time // overall timeout
	lastDigit time.Time // inter-digit timeout anchor
}

// Engine owns all in-flight digit captures across calls.
type Engine struct {
	profiles *config.DigitProfileRegistry
	cipher   *Cipher
	store    digitStore
	dedupe   *completionDedupe
	cb       Callbacks

	mu     sync.Mutex
	active map[string]*activeCapture
}

// New constructs a digit Engine.
func New(profiles *config.DigitProfileRegistry, cipher *Cipher, store digitStore, cb Callbacks) *Engine {
	return &Engine{
		profiles: profiles,
		cipher:   cipher,
		store:    store,
		dedupe:   newCompletionDedupe(2 * time.Second),
		cb:       cb,
		active:   make(map[string]*activeCapture),
	}
}

// InstallExpectation installs a bare (non-plan) Expectation for a
// call, replacing anything previously active.
func (e *Engine) InstallExpectation(callID string, exp models.Expectation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.install(callID, exp, nil)
}

// InstallPlan installs a multi-step CollectionPlan, starting at its
// first step (§4.4 "card → exp → cvv").
func (e *Engine) InstallPlan(ctx context.Context, callID string, plan *models.CollectionPlan) error {
	if len(plan.Steps) == 0 {
		return fmt.Errorf("digit: plan %s has no steps", plan.PlanID)
	}
	exp, err := e.expectationForStep(callID, plan, 0)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.install(callID, exp, plan)
	e.mu.Unlock()

	if e.cb.OnStepAdvance != nil {
		e.cb.OnStepAdvance(ctx, callID, plan.Steps[0])
	}
	return nil
}

func (e *Engine) install(callID string, exp models.Expectation, plan *models.CollectionPlan) {
	now := time.Now()
	e.active[callID] = &activeCapture{
		exp:       exp,
		plan:      plan,
		deadline:  now.Add(exp.OverallTimeout),
		lastDigit: now,
	}
}

func (e *Engine) expectationForStep(callID string, plan *models.CollectionPlan, stepIdx int) (models.Expectation, error) {
	step := plan.Steps[stepIdx]
	profile, err := e.profiles.Get(step.Profile)
	if err != nil {
		return models.Expectation{}, err
	}
	return models.Expectation{
		CallID:            callID,
		Profile:           profile.Name,
		MinLen:            profile.MinLen,
		MaxLen:            profile.MaxLen,
		Terminator:        profile.Terminator,
		PlanID:            plan.PlanID,
		PlanStepIndex:     stepIdx,
		MaxRetries:        profile.MaxRetries,
		EndCallOnSuccess:  plan.EndCallOnSuccess && stepIdx == len(plan.Steps)-1,
		Prompt:            firstOr(profile.Prompts, step.StepPrompt),
		Reprompt:          secondOr(profile.Prompts),
		FailureMessage:    profile.Fallback,
		InterDigitTimeout: profile.InterDigitTimeout,
		OverallTimeout:    profile.OverallTimeout,
		CreatedAt:         time.Now(),
	}, nil
}

func firstOr(prompts []string, override string) string {
	if override != "" {
		return override
	}
	if len(prompts) > 0 {
		return prompts[0]
	}
	return ""
}

func secondOr(prompts []string) string {
	if len(prompts) > 1 {
		return prompts[1]
	}
	if len(prompts) > 0 {
		return prompts[0]
	}
	return ""
}

// Submit feeds one raw buffer from source into the call's active
// Expectation (§4.4's acceptance rule). A call with no active
// Expectation is a no-op — the caller is responsible for only routing
// digit events while a capture is open.
func (e *Engine) Submit(ctx context.Context, callID string, source models.DigitSource, rawBuffer string) error {
	e.mu.Lock()
	ac, ok := e.active[callID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	dedupeKey := fmt.Sprintf("%s|%s", callID, rawBuffer)
	if e.dedupe.SeenRecently(dedupeKey) {
		return nil
	}

	profile, err := e.profiles.Get(ac.exp.Profile)
	if err != nil {
		return err
	}
	outcome := Evaluate(profile, rawBuffer)

	if err := e.recordEvent(ctx, callID, source, profile.Name, outcome); err != nil {
		return err
	}

	if outcome.Accepted {
		return e.handleAccepted(ctx, callID, outcome)
	}
	return e.handleRejected(ctx, callID, outcome)
}

func (e *Engine) recordEvent(ctx context.Context, callID string, source models.DigitSource, profileName string, outcome Outcome) error {
	encrypted, err := e.cipher.Encrypt(outcome.Digits)
	if err != nil {
		return fmt.Errorf("digit: encrypt capture: %w", err)
	}
	ev := &models.DigitEvent{
		ID:       uuid.NewString(),
		CallID:   callID,
		Source:   source,
		Profile:  profileName,
		Digits:   encrypted,
		Len:      len(outcome.Digits),
		Accepted: outcome.Accepted,
		Reason:   outcome.Reason,
		Ts:       time.Now().UTC(),
	}
	if err := e.store.AddDigitEvent(ctx, ev); err != nil {
		return err
	}
	if outcome.Accepted {
		return e.store.SetLastOTP(ctx, callID, encrypted, MaskOTP(outcome.Digits))
	}
	return nil
}

func (e *Engine) handleAccepted(ctx context.Context, callID string, outcome Outcome) error {
	e.mu.Lock()
	ac, ok := e.active[callID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	plan := ac.plan
	stepIdx := ac.exp.PlanStepIndex
	endCall := ac.exp.EndCallOnSuccess
	delete(e.active, callID)
	e.mu.Unlock()

	if plan != nil && stepIdx < len(plan.Steps)-1 {
		nextExp, err := e.expectationForStep(callID, plan, stepIdx+1)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.install(callID, nextExp, plan)
		e.mu.Unlock()
		if e.cb.OnStepAdvance != nil {
			e.cb.OnStepAdvance(ctx, callID, plan.Steps[stepIdx+1])
		}
		return nil
	}

	completionMsg := ""
	if plan != nil {
		completionMsg = plan.CompletionMessage
	}
	if e.cb.OnPlanComplete != nil {
		e.cb.OnPlanComplete(ctx, callID, completionMsg, endCall)
	}
	return nil
}

func (e *Engine) handleRejected(ctx context.Context, callID string, outcome Outcome) error {
	e.mu.Lock()
	ac, ok := e.active[callID]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	ac.exp.Retries++
	exhausted := ac.exp.Retries > ac.exp.MaxRetries
	failureMsg := ac.exp.FailureMessage
	repromptMsg := ac.exp.Reprompt
	if exhausted {
		delete(e.active, callID)
	} else {
		ac.lastDigit = time.Now()
	}
	e.mu.Unlock()

	if exhausted {
		if e.cb.OnFallback != nil {
			e.cb.OnFallback(ctx, callID, failureMsg)
		}
		return nil
	}
	if e.cb.OnReprompt != nil {
		e.cb.OnReprompt(ctx, callID, repromptMsg)
	}
	return nil
}

// SweepTimeouts fails any Expectation whose inter-digit or overall
// timeout has elapsed (§4.4 timers). Intended to be driven by the
// composition root on a short ticker, the same jittered-poll-loop
// shape as the call orchestrator's RunTimeoutSweep.
func (e *Engine) SweepTimeouts(ctx context.Context) {
	now := time.Now()
	type expired struct {
		callID  string
		message string
		retry   bool
	}
	var toFire []expired

	e.mu.Lock()
	for callID, ac := range e.active {
		overallExpired := now.After(ac.deadline)
		interDigitExpired := ac.exp.InterDigitTimeout > 0 && now.Sub(ac.lastDigit) > ac.exp.InterDigitTimeout

		switch {
		case overallExpired:
			toFire = append(toFire, expired{callID: callID, message: ac.exp.FailureMessage, retry: false})
			delete(e.active, callID)
		case interDigitExpired:
			ac.exp.Retries++
			if ac.exp.Retries > ac.exp.MaxRetries {
				toFire = append(toFire, expired{callID: callID, message: ac.exp.FailureMessage, retry: false})
				delete(e.active, callID)
			} else {
				toFire = append(toFire, expired{callID: callID, message: ac.exp.Reprompt, retry: true})
				ac.lastDigit = now
			}
		}
	}
	e.mu.Unlock()

	for _, ex := range toFire {
		if ex.retry {
			if e.cb.OnReprompt != nil {
				e.cb.OnReprompt(ctx, ex.callID, ex.message)
			}
		} else if e.cb.OnFallback != nil {
			e.cb.OnFallback(ctx, ex.callID, ex.message)
		}
	}
}

// Active reports whether callID currently has an open Expectation.
func (e *Engine) Active(callID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[callID]
	return ok
}
