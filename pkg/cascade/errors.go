package cascade

import "errors"

// ErrCascadeExhausted is returned when every tier, including synthesis, has
// failed or the attempt cap was reached.
var ErrCascadeExhausted = errors.New("cascade exhausted")
