package models

import "time"

// DigitSource distinguishes where a digit buffer came from (§4.4 dual
// sourcing): carrier DTMF gather, inline speech-to-digit normalization,
// or a raw gather webhook payload before source classification.
type DigitSource string

const (
	DigitSourceDTMF   DigitSource = "dtmf"
	DigitSourceSpoken DigitSource = "spoken"
	DigitSourceGather DigitSource = "gather"
)

// DigitEvent is an append-only record of one digit capture attempt
// (§3). Raw digits are encrypted at rest when compliance=safe; only
// LastOTPMasked on the owning Call is ever returned by read APIs.
type DigitEvent struct {
	ID       string         `json:"id" db:"id"`
	CallID   string         `json:"call_id" db:"call_id"`
	Source   DigitSource    `json:"source" db:"source"`
	Profile  string         `json:"profile" db:"profile"`
	Digits   []byte         `json:"-" db:"digits"` // encrypted; never serialized
	Len      int            `json:"len" db:"len"`
	Accepted bool           `json:"accepted" db:"accepted"`
	Reason   string         `json:"reason,omitempty" db:"reason"`
	Metadata map[string]any `json:"metadata,omitempty" db:"metadata"`
	Ts       time.Time      `json:"ts" db:"ts"`
}

// Expectation describes the currently-expected digit input on a call
// (§3, §4.4). At most one is active per call at any instant.
type Expectation struct {
	CallID            string        `json:"call_id"`
	Profile           string        `json:"profile"`
	MinLen            int           `json:"min_len"`
	MaxLen            int           `json:"max_len"`
	Terminator        byte          `json:"terminator,omitempty"`
	PlanID            string        `json:"plan_id,omitempty"`
	PlanStepIndex     int           `json:"plan_step_index,omitempty"`
	Retries           int           `json:"retries"`
	MaxRetries        int           `json:"max_retries"`
	EndCallOnSuccess  bool          `json:"end_call_on_success"`
	Prompt            string        `json:"prompt,omitempty"`
	Reprompt          string        `json:"reprompt,omitempty"`
	FailureMessage    string        `json:"failure_message,omitempty"`
	InterDigitTimeout time.Duration `json:"-"`
	OverallTimeout    time.Duration `json:"-"`
	CreatedAt         time.Time     `json:"created_at"`
}

// CollectionPlanStep is one step of a multi-step digit collection plan.
type CollectionPlanStep struct {
	Profile    string `json:"profile"`
	StepPrompt string `json:"step_prompt,omitempty"`
}

// CollectionPlan is an ordered sequence of Expectations composing a
// multi-step digit capture (e.g. card → exp → cvv), immutable once
// installed on a call (§3).
type CollectionPlan struct {
	PlanID            string                `json:"plan_id"`
	GroupID           string                `json:"group_id,omitempty"`
	Steps             []CollectionPlanStep  `json:"steps"`
	CompletionMessage string                `json:"completion_message,omitempty"`
	EndCallOnSuccess  bool                  `json:"end_call_on_success"`
}
