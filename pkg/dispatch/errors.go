package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/unifiedai/airelay/pkg/provider"
)

// fallbackErrorMessage is returned when nothing usable can be extracted.
const fallbackErrorMessage = "An unknown AI service error occurred."

// ErrorKind is the closed set of error classifications the orchestrator
// switches on. Substring heuristics on raw provider errors happen exactly
// once, in ClassifyError; every layer above works with the kind.
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindRetryable marks transient conditions worth a backoff retry.
	ErrorKindRetryable
	// ErrorKindFatal marks conditions where retrying the same role is
	// pointless (auth failure, local CLI interface incompatibility).
	ErrorKindFatal
	// ErrorKindCapability marks a model that cannot perform the requested
	// operation at all; switching roles will not help.
	ErrorKindCapability
	// ErrorKindConfig marks configuration problems (missing key, unknown
	// role); the affected role is skipped without a provider call.
	ErrorKindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindRetryable:
		return "retryable"
	case ErrorKindFatal:
		return "fatal"
	case ErrorKindCapability:
		return "capability"
	case ErrorKindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps a raw provider error with its classification and the
// normalized human-readable message. The original error stays reachable via
// Unwrap so status codes survive between layers.
type ClassifiedError struct {
	Kind    ErrorKind
	Message string
	Status  int
	Err     error
}

func (e *ClassifiedError) Error() string {
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

var (
	exitCodeRe = regexp.MustCompile(`process exited with code (\d+)`)

	retryablePatterns = []string{
		"rate limit",
		"too many requests",
		"overloaded",
		"service temporarily unavailable",
		"service unavailable",
		"timeout",
		"timed out",
		"network error",
		"connection reset",
		"connection refused",
	}

	fatalPatterns = []string{
		"raw mode is not supported",
		"not logged in",
		"authentication failed",
		"invalid api key",
		"invalid x-api-key",
	}

	capabilityPatterns = []string{
		"does not support tool_use",
		"does not support tool use",
		"does not support tools",
		"no endpoints found that support tool use",
		"function calling is not enabled",
	}
)

// ClassifyError inspects a raw error once and produces a tagged variant.
// Precedence: fatal beats retryable, since an auth failure wrapped in a 401
// must never be retried.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Kind: ErrorKindUnknown, Message: fallbackErrorMessage}
	}
	var cerr *ClassifiedError
	if errors.As(err, &cerr) {
		return cerr
	}

	msg := NormalizeError(err)
	// Match against the raw text too: normalization may rewrite a known
	// failure into prose that no longer contains the signature substring.
	lower := strings.ToLower(msg + "\n" + err.Error())
	status := statusCodeOf(err)

	kind := ErrorKindUnknown
	switch {
	case containsAny(lower, fatalPatterns):
		kind = ErrorKindFatal
	case containsAny(lower, capabilityPatterns):
		kind = ErrorKindCapability
	case status == 429 || status >= 500:
		kind = ErrorKindRetryable
	case containsAny(lower, retryablePatterns):
		kind = ErrorKindRetryable
	}

	return &ClassifiedError{Kind: kind, Message: msg, Status: status, Err: err}
}

// NormalizeError produces one concise string from an arbitrary error shape.
// It never panics; any internal failure yields the catch-all fallback.
func NormalizeError(err error) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = fallbackErrorMessage
		}
	}()

	if err == nil {
		return fallbackErrorMessage
	}

	raw := err.Error()

	// Local CLI process failures carry an exit code worth decoding.
	if m := exitCodeRe.FindStringSubmatch(raw); m != nil {
		code, _ := strconv.Atoi(m[1])
		return normalizeExitCodeError(raw, code)
	}

	// Known interface incompatibility when the CLI is driven headless.
	if strings.Contains(strings.ToLower(raw), "raw mode is not supported") {
		return "The local CLI provider requires an interactive terminal but was invoked headless. " +
			"Interface incompatibility between the CLI and this environment; " +
			"run the command from a regular terminal or switch this role to an API-backed provider."
	}

	// Interface mismatch on a dynamically registered provider usually means
	// the plugin was built against a different module version.
	if strings.Contains(raw, "does not implement") || strings.Contains(raw, "invalid client type") {
		return raw + " (provider plugin type mismatch - check that the plugin was built against the same module version)"
	}

	// Structured provider errors may carry a JSON body with the real message.
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		if m := messageFromResponseBody(apiErr.ResponseBody); m != "" {
			return m
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
	}

	if raw != "" {
		return raw
	}
	return fallbackErrorMessage
}

// normalizeExitCodeError surfaces the exit code, any nested stderr content
// and a code-specific remediation hint.
func normalizeExitCodeError(raw string, code int) string {
	detail := dedupeErrorPrefixes(raw)

	var hint string
	switch code {
	case 1:
		hint = "The CLI exited with a general error. Check the command output above for details."
	case 401:
		hint = "Authentication failed. Run 'claude auth' to log in again."
	case 403:
		hint = "Access denied. Your account may not have access to this model."
	case 429:
		hint = "Rate limit reached. Wait a moment before retrying."
	case 500:
		hint = "The provider reported a server error. This is usually transient."
	case 143:
		hint = "The process was interrupted (SIGTERM). This often indicates an interactive-mode conflict when driven headless."
	default:
		hint = "Unexpected exit code from the CLI process."
	}

	return fmt.Sprintf("%s\n%s", detail, hint)
}

var repeatedErrorPrefixRe = regexp.MustCompile(`(?:Error:\s*)+(Error:)`)

// dedupeErrorPrefixes collapses repeated "Error:" prefixes that accumulate
// when stderr is re-wrapped at each layer. The run may sit mid-string, after
// the "process exited with code N:" preamble.
func dedupeErrorPrefixes(s string) string {
	return repeatedErrorPrefixRe.ReplaceAllString(s, "$1")
}

// messageFromResponseBody pulls error.message out of a JSON error body.
func messageFromResponseBody(body string) string {
	if body == "" {
		return ""
	}
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return ""
	}
	return parsed.Error.Message
}

// statusCodeOf extracts an HTTP status from any error in the chain that
// exposes one.
func statusCodeOf(err error) int {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
