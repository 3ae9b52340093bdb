package lang

import "errors"

// ErrInvalid indicates a transcript language whose base code is not a
// supported ISO 639-1 code.
var ErrInvalid = errors.New("unsupported language")
