package assembly

import (
	"errors"
	"fmt"

	"contexthub/internal/entity"
)

// Kind classifies assembly failures for callers that branch on them.
type Kind string

const (
	// KindNotFound: the requested entity does not exist.
	KindNotFound Kind = "not_found"
	// KindDegraded: a payload was produced but with sections missing.
	// Degraded results are delivered as payloads with warnings, not as
	// errors; the kind exists for collaborators that need to signal it.
	KindDegraded Kind = "degraded"
	// KindUnavailable: the entity store could not serve the request even
	// after retry. No payload could be produced.
	KindUnavailable Kind = "unavailable"
	// KindConflict: a conditional update lost a concurrent race.
	KindConflict Kind = "conflict"
	// KindCache: a cache-layer failure surfaced to an operator path.
	KindCache Kind = "cache_error"
	// KindInvalid: the request itself was malformed.
	KindInvalid Kind = "invalid_request"
)

// Error is the engine's failure type: a kind, the entity involved, and
// the underlying cause. Works with errors.Is/As, and unwraps to the
// gateway sentinels where one applies.
type Error struct {
	Kind   Kind
	Entity entity.Ref
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("assembly: %s: %s", e.Kind, e.Entity)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind, or "" for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func notFound(ref entity.Ref, err error) error {
	return &Error{Kind: KindNotFound, Entity: ref, Err: err}
}

func unavailable(ref entity.Ref, detail string, err error) error {
	return &Error{Kind: KindUnavailable, Entity: ref, Detail: detail, Err: err}
}

func conflict(ref entity.Ref, err error) error {
	return &Error{Kind: KindConflict, Entity: ref, Err: err}
}

func invalid(ref entity.Ref, detail string) error {
	return &Error{Kind: KindInvalid, Entity: ref, Detail: detail}
}
