package model

import "errors"

var (
	// ErrInvalidCoordinate marks a coordinate with a NaN or infinite component.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrInvalidBoundary marks a boundary that cannot be used as a polygon.
	ErrInvalidBoundary = errors.New("invalid boundary")
	// ErrUnknownAreaID is returned when an update or removal targets a missing area.
	ErrUnknownAreaID = errors.New("unknown area id")
	// ErrNotEligible is returned when a registration is attempted outside every area.
	ErrNotEligible = errors.New("not eligible to register")
	// ErrValidation is returned when caller input fails a business rule.
	ErrValidation = errors.New("validation error")

	ErrPositionPermissionDenied = errors.New("position permission denied")
	ErrPositionUnavailable      = errors.New("position unavailable")
	ErrPositionTimeout          = errors.New("position request timed out")
	ErrPositionUnsupported      = errors.New("position source unsupported")
	ErrPositionUnknown          = errors.New("unknown position error")
)

// ErrorKind is the reason code attached to a failed observation.
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindPermissionDenied    ErrorKind = "PermissionDenied"
	ErrorKindPositionUnavailable ErrorKind = "PositionUnavailable"
	ErrorKindTimeout             ErrorKind = "Timeout"
	ErrorKindUnsupported         ErrorKind = "Unsupported"
	ErrorKindUnknown             ErrorKind = "Unknown"
)

// PositionErrorKind classifies err into the position error taxonomy.
// Anything it does not recognise is ErrorKindUnknown.
func PositionErrorKind(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrPositionPermissionDenied):
		return ErrorKindPermissionDenied
	case errors.Is(err, ErrPositionUnavailable):
		return ErrorKindPositionUnavailable
	case errors.Is(err, ErrPositionTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrPositionUnsupported):
		return ErrorKindUnsupported
	default:
		return ErrorKindUnknown
	}
}

// Err returns the sentinel error matching k, or nil for ErrorKindNone.
func (k ErrorKind) Err() error {
	switch k {
	case ErrorKindNone:
		return nil
	case ErrorKindPermissionDenied:
		return ErrPositionPermissionDenied
	case ErrorKindPositionUnavailable:
		return ErrPositionUnavailable
	case ErrorKindTimeout:
		return ErrPositionTimeout
	case ErrorKindUnsupported:
		return ErrPositionUnsupported
	default:
		return ErrPositionUnknown
	}
}
