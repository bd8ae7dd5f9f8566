package protocol

import (
	"strconv"

	"github.com/roach88/replica/internal/mutation"
)

// Status is the server's verdict on one pushed mutation, modeled on HTTP.
type Status int

const (
	StatusOK               Status = 200
	StatusCreated          Status = 201
	StatusBadRequest       Status = 400
	StatusUnauthorized     Status = 401
	StatusForbidden        Status = 403
	StatusNotFound         Status = 404
	StatusMethodNotAllowed Status = 405
	StatusConflict         Status = 409
	StatusInternalError    Status = 500
)

var statusText = map[Status]string{
	StatusOK:               "ok",
	StatusCreated:          "created",
	StatusBadRequest:       "bad_request",
	StatusUnauthorized:     "unauthorized",
	StatusForbidden:        "forbidden",
	StatusNotFound:         "not_found",
	StatusMethodNotAllowed: "method_not_allowed",
	StatusConflict:         "conflict",
	StatusInternalError:    "internal_error",
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	_, ok := statusText[s]
	return ok
}

// String returns the status name, or the bare number for unknown codes.
func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return strconv.Itoa(int(s))
}

// Outcome is what the client does with a mutation after a push.
type Outcome int

const (
	// OutcomeRetry keeps the mutation queued for another attempt.
	OutcomeRetry Outcome = iota
	// OutcomeRetire removes the mutation; the server applied it.
	OutcomeRetire
	// OutcomeReject removes the mutation and reports it as a failure.
	// Resending it verbatim would be rejected again.
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetire:
		return "retire"
	case OutcomeReject:
		return "reject"
	default:
		return "retry"
	}
}

// Classify maps a status to its outcome. Any 2xx retires, any 4xx rejects,
// and everything else, including 500 and codes the client does not know,
// is retried.
func Classify(s Status) Outcome {
	switch {
	case s >= 200 && s < 300:
		return OutcomeRetire
	case s >= 400 && s < 500:
		return OutcomeReject
	default:
		return OutcomeRetry
	}
}

// SyncMutationsInput is the push request body.
type SyncMutationsInput struct {
	Mutations []mutation.Mutation `json:"mutations"`
}

// MutationResult is the server's status for one pushed mutation.
type MutationResult struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// SyncMutationsOutput is the push response body.
type SyncMutationsOutput struct {
	Results []MutationResult `json:"results"`
}
