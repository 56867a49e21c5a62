package token

import "errors"

// Reason is the closed set of outcomes that make a token unusable.
type Reason string

// Rejection reasons. Callers branch on these and must not infer anything finer.
const (
	ReasonNoToken        Reason = "no_token"
	ReasonBadFormat      Reason = "bad_format"
	ReasonBadSignature   Reason = "bad_signature"
	ReasonBadPayload     Reason = "bad_payload"
	ReasonMissingSubject Reason = "missing_subject"
	ReasonExpired        Reason = "expired"
)

// RejectError reports why a presented token was not accepted.
type RejectError struct {
	Reason Reason
}

func (e *RejectError) Error() string { return "token rejected: " + string(e.Reason) }

// Sentinel rejections, comparable with errors.Is.
var (
	ErrNoToken        = &RejectError{Reason: ReasonNoToken}
	ErrBadFormat      = &RejectError{Reason: ReasonBadFormat}
	ErrBadSignature   = &RejectError{Reason: ReasonBadSignature}
	ErrBadPayload     = &RejectError{Reason: ReasonBadPayload}
	ErrMissingSubject = &RejectError{Reason: ReasonMissingSubject}
	ErrExpired        = &RejectError{Reason: ReasonExpired}
)

// ReasonOf extracts the rejection reason from err.
// ok is false when err is nil or is not a token rejection (e.g. a missing secret).
func ReasonOf(err error) (reason Reason, ok bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}
