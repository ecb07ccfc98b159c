// ABOUTME: Explicit outcome type for gateway calls and its single user-text mapping
// ABOUTME: Success carries text; failures carry status/body/cause and degrade to fixed apologies

package llm

import "fmt"

// Outcome classifies a gateway call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeHTTPError
	OutcomeTransportError
	OutcomeMalformed
)

// String returns the label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// User-facing replies for failed calls.
const (
	ApologyHTTPError = "Sorry, the language model service returned an error."
	ApologyTimeout   = "Sorry, the request took too long."
	ApologyGeneric   = "Sorry, something went wrong while processing your request."
)

// Result is the outcome of one gateway call.
type Result struct {
	Outcome Outcome

	// Text is the completion for OutcomeSuccess.
	Text string

	// StatusCode and Body describe an OutcomeHTTPError response.
	StatusCode int
	Body       string

	// Err is the underlying cause for timeouts, transport errors and
	// malformed responses.
	Err error
}

// OK reports whether the call produced a completion.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Reply returns the text to show the end-user: the completion on success,
// otherwise the fixed apology for the failure class.
func (r Result) Reply() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return r.Text
	case OutcomeTimeout:
		return ApologyTimeout
	case OutcomeHTTPError:
		return ApologyHTTPError
	default:
		return ApologyGeneric
	}
}

// Cause describes the failure for logging. It is empty on success.
func (r Result) Cause() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return ""
	case OutcomeHTTPError:
		return fmt.Sprintf("status %d: %s", r.StatusCode, r.Body)
	default:
		if r.Err != nil {
			return r.Err.Error()
		}
		return r.Outcome.String()
	}
}

func success(text string) Result {
	return Result{Outcome: OutcomeSuccess, Text: text}
}
