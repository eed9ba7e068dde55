package chat

import "errors"

// State is the lifecycle state of the controller's current send.
type State int

const (
	// StateIdle means no send is in flight.
	StateIdle State = iota
	// StateSending means the request was issued and the response headers are awaited.
	StateSending
	// StateStreaming means the response body is being read.
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

// Outcome is the terminal state a send converges to.
type Outcome int

const (
	// OutcomeNone is reported when no send has finished yet.
	OutcomeNone Outcome = iota
	// OutcomeCompleted means the stream ended naturally with content.
	OutcomeCompleted
	// OutcomeEmpty means the stream ended naturally without content.
	OutcomeEmpty
	// OutcomeErrored means a network or protocol failure ended the stream.
	OutcomeErrored
	// OutcomeCancelled means the user stopped the stream or a new send superseded it.
	OutcomeCancelled
	// OutcomePrecondition means the send never reached the backend because no conversation exists.
	OutcomePrecondition
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeEmpty:
		return "empty"
	case OutcomeErrored:
		return "errored"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomePrecondition:
		return "precondition"
	default:
		return "none"
	}
}

// Notices written into the bot message on terminal states.
const (
	NoticeCancelled      = "Request cancelled."
	NoticeEmpty          = "No response received from the server. Please try again."
	NoticeNoConversation = "Error: Conversation ID not available. Please refresh or try again."
	noticeErrorPrefix    = "Error: "
	noticeRetrying       = " Retrying..."
)

var (
	// ErrEmptyInput is returned by Send when the input is blank.
	ErrEmptyInput = errors.New("message is empty")
	// ErrStopped is the cancellation cause of an explicit stop.
	ErrStopped = errors.New("stream stopped by user")
	// ErrSuperseded is the cancellation cause of a send replaced by a newer one.
	ErrSuperseded = errors.New("stream superseded by a new send")
	// ErrIdleTimeout is the cancellation cause of a stream that produced no bytes for too long.
	ErrIdleTimeout = errors.New("stream idle timeout")
	// ErrBusy is returned by SendIfIdle while a send is in flight.
	ErrBusy = errors.New("a send is already in flight")
	// ErrClosed is returned by Send after the controller was closed.
	ErrClosed = errors.New("controller is closed")
)

// ErrorNotice formats the notice shown for a failed stream.
func ErrorNotice(err error) string {
	return noticeErrorPrefix + err.Error()
}
