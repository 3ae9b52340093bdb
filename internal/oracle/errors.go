package oracle

import "errors"

// ErrAPIKeyMissing indicates the provider's API key environment variable is not set.
var ErrAPIKeyMissing = errors.New("API key not set")

// ErrUnknownProvider indicates an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown provider")
