package storage

import (
	stderrors "errors"
	"io/fs"

	"github.com/jmgilman/go/errors"
)

func notFound(repoID, path string) error {
	return errors.WithContext(
		errors.Newf(errors.CodeNotFound, "item %s not found in repository %s", path, repoID),
		"repository", repoID,
	)
}

// IsNotFound reports whether any error in the chain carries the NOT_FOUND code
// or is an fs.ErrNotExist.
func IsNotFound(err error) bool {
	return HasCode(err, errors.CodeNotFound) || stderrors.Is(err, fs.ErrNotExist)
}

// IsUnsupported reports whether the operation is not supported by the store.
func IsUnsupported(err error) bool {
	return HasCode(err, errors.CodeNotImplemented)
}

// HasCode reports whether any PlatformError in the chain carries code.
func HasCode(err error, code errors.ErrorCode) bool {
	for err != nil {
		var pe errors.PlatformError
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Code() == code {
			return true
		}
		err = pe.Unwrap()
	}
	return false
}
