package attendance

import (
	"errors"
	"net/http"

	"github.com/GiraffeSchool/student-signin-system/internal/geo"
)

// Kind classifies a failed sign-in.
type Kind int

const (
	KindInput Kind = iota + 1
	KindPolicy
	KindNotFound
	KindConflict
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindPolicy:
		return "policy"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindDependency:
		return "dependency"
	}
	return "unknown"
}

// ErrAlreadyMarked wraps the policy rejection for a second sign-in on the
// same day.
var ErrAlreadyMarked = errors.New("already signed in today")

// Error is a classified sign-in failure. Msg is safe to show to the person
// signing in; Err carries the detail for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindDependency for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependency
}

// HTTPStatus maps a sign-in error to its response status.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindInput:
		return http.StatusBadRequest
	case KindPolicy:
		var oor *geo.OutOfRangeError
		if errors.As(err, &oor) {
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message to show for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindDependency {
		return e.Msg
	}
	return msgInternal
}
