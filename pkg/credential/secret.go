package credential

import (
	"encoding/json"

	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// Secret is a string of credential material.
//
// It never prints itself: fmt, JSON and zap all see "[REDACTED]".
// Call Reveal to get the value.
type Secret string

func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) IsZero() bool {
	return s == ""
}

func (Secret) String() string {
	return redacted
}

func (Secret) GoString() string {
	return redacted
}

func (Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func (Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

var _ zapcore.ObjectMarshaler = fields{}

// fields lists non-secret fields of a credential for logging.
type fields map[string]string

func (f fields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for k, v := range f {
		enc.AddString(k, v)
	}
	return nil
}
