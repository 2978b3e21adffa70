package realtime

import (
	"errors"
	"fmt"
)

const (
	ConnectionError = iota

	ConnectionRefusedError

	DisconnectedError

	InvalidURIError

	ProtocolError

	MessageHandlerError

	UnknownError
)

// Error is a coded client error. Errors produced by NewError can be matched
// against a code with IsCode.
type Error struct {
	Code    int
	Message string
	cause   error
}

func (err *Error) Error() string {
	if err.Message == "" {
		return codeName(err.Code)
	}
	return codeName(err.Code) + ": " + err.Message
}

func (err *Error) Unwrap() error { return err.cause }

func codeName(errorCode int) string {
	switch errorCode {
	case ConnectionError:
		return "ConnectionError"
	case ConnectionRefusedError:
		return "ConnectionRefusedError"
	case DisconnectedError:
		return "DisconnectedError"
	case InvalidURIError:
		return "InvalidURIError"
	case ProtocolError:
		return "ProtocolError"
	case MessageHandlerError:
		return "MessageHandlerError"
	default:
		return "UnknownError"
	}
}

// NewError builds a coded error. An error argument is wrapped; any other value
// is formatted into the message.
func NewError(errorCode int, message ...interface{}) error {
	err := &Error{Code: errorCode}
	if len(message) > 0 {
		if cause, ok := message[0].(error); ok {
			err.cause = cause
			err.Message = cause.Error()
		} else {
			err.Message = fmt.Sprint(message[0])
		}
	}
	switch err.Code {
	case ConnectionError, ConnectionRefusedError, DisconnectedError,
		InvalidURIError, ProtocolError, MessageHandlerError:
	default:
		err.Code = UnknownError
	}
	return err
}

// IsCode reports whether err carries the given error code anywhere in its chain.
func IsCode(err error, errorCode int) bool {
	var coded *Error
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == errorCode
}
