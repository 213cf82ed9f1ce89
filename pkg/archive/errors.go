package archive

import (
	"errors"
	"fmt"

	"streamarc/pkg/archive/engine"
)

// ErrNullSession is returned when construction fails to obtain a valid
// engine session.
var ErrNullSession = errors.New("null decoding session")

// EngineError wraps a diagnostic reported by the decoding engine.
type EngineError struct {
	Code int
	Msg  string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("decoding engine error (code %d): %s", e.Code, e.Msg)
}

// statusErr translates an engine status code into an error, attaching the
// session's own diagnostic string so callback-reported source failures keep
// their original description.
func statusErr(code int, s *engine.Session) error {
	if code == engine.StatusOK || code == engine.StatusEOF {
		return nil
	}
	msg := "unknown error"
	if err := s.LastError(); err != nil {
		msg = err.Error()
	}
	return &EngineError{Code: code, Msg: msg}
}
