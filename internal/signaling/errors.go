package signaling

import "errors"

var errRequiredValidator = errors.New("signaling: validator is required")
