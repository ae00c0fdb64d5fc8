package synth

import "errors"

// ErrSynthesisInvalid is returned when no structurally valid tool can be
// synthesized.
var ErrSynthesisInvalid = errors.New("synthesized tool is invalid")
