package models

import "errors"

// Error kinds exposed to callers. Transport layers map these to status
// codes; the CLI maps them to exit messages.
const (
	KindNotFound             = "NotFound"
	KindUnknownQuestion      = "UnknownQuestion"
	KindValidation           = "ValidationFailure"
	KindDuplicateFingerprint = "DuplicateFingerprint"
	KindActiveSessionExists  = "ActiveSessionExists"
	KindSessionEnded         = "SessionEnded"
	KindGeneratorTransient   = "GeneratorTransient"
	KindGeneratorPermanent   = "GeneratorPermanent"
	KindStoreUnavailable     = "StoreUnavailable"
)

// Kinder is implemented by errors that carry a stable kind. KindOf walks
// the wrap chain looking for it, so packages can define richer error types
// without importing each other.
type Kinder interface {
	ErrorKind() string
}

// Error is a sentinel-friendly error with a stable kind.
type Error struct {
	Kind string
	msg  string
}

func (e *Error) Error() string     { return e.msg }
func (e *Error) ErrorKind() string { return e.Kind }

// Sentinel errors shared across packages. Wrap with fmt.Errorf("%w: ...")
// so errors.Is keeps matching.
var (
	ErrNotFound         = &Error{Kind: KindNotFound, msg: "not found"}
	ErrUnknownQuestion  = &Error{Kind: KindUnknownQuestion, msg: "unknown question"}
	ErrUnknownLearner   = &Error{Kind: KindNotFound, msg: "unknown learner"}
	ErrNoQuestions      = &Error{Kind: KindNotFound, msg: "no questions available"}
	ErrSessionEnded     = &Error{Kind: KindSessionEnded, msg: "session already ended"}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable, msg: "store unavailable"}
)

// KindOf returns the kind of the first Kinder in err's wrap chain, or the
// empty string if none is found.
func KindOf(err error) string {
	for err != nil {
		if k, ok := err.(Kinder); ok {
			return k.ErrorKind()
		}
		err = errors.Unwrap(err)
	}
	return ""
}
