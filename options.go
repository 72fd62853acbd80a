package ftp

import (
	"log/slog"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// DialOptions is validated before Connect opens a socket (grounded on
// nabbar-golib/ftpclient/config.go's Config.Validate() using
// validator.New().Struct(c)).
type DialOptions struct {
	DialTimeout time.Duration `validate:"gte=0"`
	Mode        connMode      `validate:"oneof=0 1"`
	Logger      *slog.Logger
}

func defaultDialOptions() *DialOptions {
	return &DialOptions{
		DialTimeout: 30 * time.Second,
		Mode:        ModePassive,
	}
}

func (o *DialOptions) validate() error {
	return validator.New().Struct(o)
}

// DialOption configures a Session at Connect time (functional-option
// pattern, grounded on the teacher's options.go Option type).
type DialOption func(*DialOptions)

// WithDialTimeout bounds the initial TCP connect.
func WithDialTimeout(d time.Duration) DialOption {
	return func(o *DialOptions) { o.DialTimeout = d }
}

// WithActiveMode selects active (PORT) data connections instead of the
// passive (PASV) default.
func WithActiveMode() DialOption {
	return func(o *DialOptions) { o.Mode = ModeActive }
}

// WithLogger attaches a structured logger; every control command and
// reply is logged at Debug level.
func WithLogger(logger *slog.Logger) DialOption {
	return func(o *DialOptions) { o.Logger = logger }
}

// optionKey enumerates the five keys spec.md §4.6 names for
// set_options(key, value).
type optionKey int

const (
	OptionConnectionMode optionKey = iota
	OptionCallbackFunction
	OptionIdleTimeMillis
	OptionCallbackArgument
	OptionCallbackByteThreshold
)

// SetOptions implements the single-key setter form of spec.md §4.6's
// set_options(key, value), alongside the structured SetCallback/
// ClearCallback for the atomic four-field form.
func (s *Session) SetOptions(key optionKey, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch key {
	case OptionConnectionMode:
		mode, ok := value.(connMode)
		if !ok {
			return errInvalidOptionValue(key, value)
		}
		s.mode = mode
	case OptionCallbackFunction:
		fn, ok := value.(CallbackFunc)
		if !ok {
			return errInvalidOptionValue(key, value)
		}
		s.callback.Func = fn
	case OptionIdleTimeMillis:
		ms, ok := value.(int)
		if !ok {
			return errInvalidOptionValue(key, value)
		}
		s.callback.IdleThreshold = time.Duration(ms) * time.Millisecond
	case OptionCallbackArgument:
		s.callback.Arg = value
	case OptionCallbackByteThreshold:
		n, ok := value.(int64)
		if !ok {
			return errInvalidOptionValue(key, value)
		}
		s.callback.BytesThresh = n
	default:
		return errInvalidOptionKey(key)
	}
	return nil
}

func errInvalidOptionValue(key optionKey, value any) error {
	return errors.Errorf("ftp: invalid value %v for option key %d", value, key)
}

func errInvalidOptionKey(key optionKey) error {
	return errors.Errorf("ftp: unknown option key %d", key)
}
