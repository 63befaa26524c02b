// Package llmclient provides opaque RPC clients to the third-party
// STT/TTS/LLM HTTP APIs (§1): a speech-to-text transcription client, a
// text-to-speech synthesis client, and an OpenRouter-compatible
// summary client used to fill in a Call's summary/analysis fields once
// it reaches a terminal state.
//
// These are treated as opaque RPC endpoints with defined
// request/response shapes, not as a vendored SDK — the teacher's own
// LLM client (pkg/agent/llm_grpc.go) calls into a generated gRPC stub
// whose .proto/.pb.go files were never committed to its tree, so there
// is nothing to ground a gRPC client on here. Plain net/http +
// encoding/json is the better-grounded choice for the sidecar calls;
// the summary client uses the real github.com/openai/openai-go/v2 SDK
// since OpenRouter speaks the OpenAI chat-completions wire format.
package llmclient

import "errors"

// ErrRetryable marks a sidecar/LLM call failure the caller should
// retry rather than treat as permanent, mirroring
// pkg/provideradapter.ErrRetryable and pkg/delivery.ErrRetryable for
// the same distinction on the other two opaque-RPC boundaries.
var ErrRetryable = errors.New("llmclient: retryable upstream error")
