package session

import "strings"

// Follow-up policies.
const (
	FollowUpAuto   = "auto"
	FollowUpNever  = "never"
	FollowUpAlways = "always"
)

// questionMarks are the punctuation characters that mark an utterance as
// a question across the languages the device speaks.
const questionMarks = "?¿？؟‽"

// wantsFollowUpHeuristic reports whether the assistant's transcript
// sounds like it expects an answer.
func wantsFollowUpHeuristic(transcript string) bool {
	return strings.ContainsAny(transcript, questionMarks)
}

// decideFollowUp is the end-of-turn decision. Precedence is fixed:
// the policy overrides first; under "auto" the tool-declared intent is
// honored, with the transcript heuristic as fallback.
func decideFollowUp(policy string, declared, declaredValue bool, transcript string) bool {
	switch policy {
	case FollowUpAlways:
		return true
	case FollowUpNever:
		return false
	default:
		return (declared && declaredValue) || wantsFollowUpHeuristic(transcript)
	}
}
