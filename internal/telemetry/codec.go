package telemetry

import (
	"errors"
	"fmt"

	"github.com/mpuview/mpuview/internal/domain"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingField     = errors.New("missing field")
	ErrInvalidNumber    = errors.New("invalid number")
)

// DecodeErrorKind classifies why an inbound payload was rejected.
type DecodeErrorKind int

const (
	MalformedPayload DecodeErrorKind = iota + 1
	MissingField
	InvalidNumber
)

func (k DecodeErrorKind) String() string {
	switch k {
	case MalformedPayload:
		return "malformed_payload"
	case MissingField:
		return "missing_field"
	case InvalidNumber:
		return "invalid_number"
	default:
		return "unknown"
	}
}

// DecodeError reports a rejected inbound payload. Field is the dotted path of
// the offending value and is empty for MalformedPayload.
type DecodeError struct {
	Kind  DecodeErrorKind
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("decode frame: missing field %q", e.Field)
	case InvalidNumber:
		if e.Err != nil {
			return fmt.Sprintf("decode frame: invalid number in %q: %v", e.Field, e.Err)
		}
		return fmt.Sprintf("decode frame: invalid number in %q", e.Field)
	default:
		if e.Err != nil {
			return fmt.Sprintf("decode frame: malformed payload: %v", e.Err)
		}
		return "decode frame: malformed payload"
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformedPayload:
		return e.Kind == MalformedPayload
	case ErrMissingField:
		return e.Kind == MissingField
	case ErrInvalidNumber:
		return e.Kind == InvalidNumber
	default:
		return false
	}
}

// Codec translates between wire payloads and domain values.
type Codec interface {
	Decode(raw string) (domain.SensorFrame, error)
	Encode(cfg domain.DeviceConfig) (string, error)
}
