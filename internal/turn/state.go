package turn

// State is the controller's view of whose turn it is.
type State int

const (
	Idle State = iota
	UserSpeaking
	Committing
	AIGenerating
	AISpeaking
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case UserSpeaking:
		return "USER_SPEAKING"
	case Committing:
		return "COMMITTING"
	case AIGenerating:
		return "AI_GENERATING"
	case AISpeaking:
		return "AI_SPEAKING"
	case Ended:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// aiOwned reports whether the AI holds the turn.
func (s State) aiOwned() bool { return s == AIGenerating || s == AISpeaking }
