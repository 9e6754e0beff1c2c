package calls

// IsValidTransition encodes the call lifecycle graph:
//
//	ringing → active | ended | missed | rejected | voicemail
//	active  → ended | voicemail
//	terminal states → only themselves
//
// Self-transitions are always legal so duplicate deliveries of the same
// event are harmless. Pure and total: any pair of values, including
// unrecognized ones, yields an answer without panicking.
func IsValidTransition(current, next Status) bool {
	if current == next {
		return true
	}
	switch current {
	case StatusRinging:
		switch next {
		case StatusActive, StatusEnded, StatusMissed, StatusRejected, StatusVoicemail:
			return true
		}
	case StatusActive:
		switch next {
		case StatusEnded, StatusVoicemail:
			return true
		}
	}
	return false
}
