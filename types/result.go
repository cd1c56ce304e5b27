//nolint:revive // types is a common Go package naming convention
package types

import "fmt"

// ResultKind is the discriminator of a Result.
type ResultKind string

const (
	// ResultRun answers a run record.
	ResultRun ResultKind = "run_result"
	// ResultAck answers any other request/response record.
	ResultAck ResultKind = "ack"
)

// ResultError is a failure reported by the sender for a request.
type ResultError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *ResultError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Result is the sender's answer to a request/response record.
type Result struct {
	Kind    ResultKind   `json:"kind"`
	Mailbox string       `json:"mailbox,omitempty"`
	Run     *RunRecord   `json:"run,omitempty"`
	Error   *ResultError `json:"error,omitempty"`
}

// Viewer is the identity behind an API key.
type Viewer struct {
	Entity   string `json:"entity"`
	Username string `json:"username"`
}
