package domain

import "errors"

// Error kinds. Callers wrap these with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrNotFound         = errors.New("record not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInsufficientData = errors.New("insufficient data")
	ErrShapeMismatch    = errors.New("shape mismatch")
)

// Messages returned to callers verbatim.
const (
	MsgNoLayers         = "Model must have at least one layer"
	MsgWeightLayerCount = "Weight layers count must match architecture layers count"
	MsgFeatureCount     = "Feature count must match input size"
	MsgLayerShape       = "Layer weights do not match architecture shape"
	MsgInputSize        = "Input size must match the extracted feature count"
	MsgInsufficientData = "Insufficient training data. Minimum 100 examples required"
	MsgUnauthorizedCall = "Unauthorized: caller is neither an admin nor the identity service"
	MsgAdminOnly        = "Unauthorized: admin privileges required"
)

// Error is a failure with a caller-facing message. It unwraps to one of
// the sentinel kinds above, so errors.Is keeps working.
type Error struct {
	kind error
	msg  string
}

// NewError returns an error that prints msg and matches kind.
func NewError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// Kind is the coarse category of a failure.
type Kind string

const (
	KindAuthorization    Kind = "Authorization"
	KindValidation       Kind = "Validation"
	KindInsufficientData Kind = "InsufficientData"
	KindNotFound         Kind = "NotFound"
	KindInternal         Kind = "Internal"
)

// ErrorKind maps err to its Kind.
func ErrorKind(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return KindAuthorization
	case errors.Is(err, ErrInsufficientData):
		return KindInsufficientData
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
