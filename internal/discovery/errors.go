package discovery

import (
	"github.com/jmgilman/go/errors"
)

// errorMessage prefers the bare message of a platform error over its
// "[CODE] message: cause" rendering.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe errors.PlatformError
	if errors.As(err, &pe) {
		if cause := pe.Unwrap(); cause != nil {
			return pe.Message() + ": " + cause.Error()
		}
		return pe.Message()
	}
	return err.Error()
}
