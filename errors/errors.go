package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in an invocation the error occurred
type Phase string

const (
	PhaseConfigure   Phase = "configure"   // app configuration hooks
	PhaseInstantiate Phase = "instantiate" // instance preparation and engine instantiation
	PhaseHeaders     Phase = "headers"     // guest-visible header derivation
	PhaseDispatch    Phase = "dispatch"    // entrypoint resolution
	PhaseInvoke      Phase = "invoke"      // guest handler execution
	PhaseRespond     Phase = "respond"     // response delivery
)

// Kind categorizes the error
type Kind string

const (
	KindHeaderPrep          Kind = "header_prep"
	KindHostSetup           Kind = "host_setup"
	KindGuestPanic          Kind = "guest_panic"
	KindGuestError          Kind = "guest_error"
	KindResponseNotProduced Kind = "response_not_produced"
	KindPostResponse        Kind = "post_response"
)

// Blame indicates whether an error is more likely caused by the guest or the host.
type Blame string

const (
	BlameGuest Blame = "guest"
	BlameHost  Blame = "host"
)

// Blame returns the party an error of this kind is attributed to.
func (k Kind) Blame() Blame {
	switch k {
	case KindGuestError, KindResponseNotProduced, KindPostResponse:
		return BlameGuest
	default:
		return BlameHost
	}
}

// Error is the structured error type returned by the trigger
type Error struct {
	Cause     error
	Phase     Phase
	Kind      Kind
	Component string
	Detail    string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Component != "" {
		b.WriteString(" in component ")
		b.WriteString(e.Component)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Component sets the component id
func (b *Builder) Component(id string) *Builder {
	b.err.Component = id
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinels for errors.Is matching by kind.
var (
	ErrHeaderPrep          = &Error{Kind: KindHeaderPrep}
	ErrHostSetup           = &Error{Kind: KindHostSetup}
	ErrGuestPanic          = &Error{Kind: KindGuestPanic}
	ErrGuestError          = &Error{Kind: KindGuestError}
	ErrResponseNotProduced = &Error{Kind: KindResponseNotProduced}
	ErrPostResponse        = &Error{Kind: KindPostResponse}
)

// HostSetup creates a host-attributable setup error
func HostSetup(phase Phase, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindHostSetup,
		Detail: detail,
		Cause:  cause,
	}
}

// HeaderPrep creates a header preparation error
func HeaderPrep(cause error) *Error {
	return &Error{
		Phase:  PhaseHeaders,
		Kind:   KindHeaderPrep,
		Detail: "failed to prepare request headers",
		Cause:  cause,
	}
}

// GuestPanic creates an error for an invocation task that aborted abnormally
func GuestPanic(value any) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindGuestPanic,
		Detail: fmt.Sprintf("guest invocation panicked: %v", value),
	}
}

// GuestError creates an error for a guest call that returned an error
func GuestError(cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindGuestError,
		Detail: "guest invocation failed",
		Cause:  cause,
	}
}

// ResponseNotProduced creates an error for a guest that never delivered a response
func ResponseNotProduced(cause error, detail string) *Error {
	return &Error{
		Phase:  PhaseRespond,
		Kind:   KindResponseNotProduced,
		Detail: detail,
		Cause:  cause,
	}
}

// PostResponse wraps a failure that happened after the response was delivered
func PostResponse(cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindPostResponse,
		Detail: "component error after response started",
		Cause:  cause,
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// BlameOf returns the blame for err, or false when err carries no kind.
func BlameOf(err error) (Blame, bool) {
	kind, ok := KindOf(err)
	if !ok {
		return "", false
	}
	return kind.Blame(), true
}

// WithComponent returns err with the component id stamped on its *Error if
// that has none. The *Error in err is left untouched, so shared values such as
// sentinels keep their fields.
func WithComponent(err error, id string) error {
	var e *Error
	if !stderrors.As(err, &e) || e.Component != "" {
		return err
	}
	stamped := *e
	stamped.Component = id
	if err == error(e) {
		return &stamped
	}
	return &componentError{error: err, stamped: &stamped}
}

// componentError resolves errors.As to the stamped copy of a wrapped *Error.
type componentError struct {
	error
	stamped *Error
}

func (c *componentError) Unwrap() error { return c.error }

func (c *componentError) As(target any) bool {
	if p, ok := target.(**Error); ok {
		*p = c.stamped
		return true
	}
	return false
}
