package gatekeeper

import "go.uber.org/zap"

// Posture decides what happens to a request when the gatekeeper itself fails.
type Posture int

const (
	// FailOpen admits the request.
	FailOpen Posture = iota
	// FailClosed rejects it.
	FailClosed
)

func PostureFor(failClosed bool) Posture {
	if failClosed {
		return FailClosed
	}
	return FailOpen
}

func (p Posture) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// resolve returns the admission decision for a failed check and logs the branch.
func (p Posture) resolve(log *zap.Logger, reason string, err error) bool {
	fields := []zap.Field{zap.String("posture", p.String())}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if p == FailClosed {
		log.Error(reason+"; rejecting request (fail closed)", fields...)
		return false
	}
	log.Warn(reason+"; allowing request (fail open)", fields...)
	return true
}
