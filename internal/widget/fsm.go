package widget

// MessagingState is the chat exchange state
type MessagingState int

const (
	Idle MessagingState = iota
	Waiting
)

func (s MessagingState) String() string {
	if s == Waiting {
		return "waiting"
	}
	return "idle"
}

// FeedbackState is the rating prompt state
type FeedbackState int

const (
	FeedbackHidden FeedbackState = iota
	FeedbackPrompting
	FeedbackThanking
)

func (s FeedbackState) String() string {
	switch s {
	case FeedbackPrompting:
		return "prompting"
	case FeedbackThanking:
		return "thanking"
	default:
		return "hidden"
	}
}

type event int

const (
	evSubmit event = iota
	evResolve
	evPrompt
	evSkip
	evSubmitFeedback
	evDismiss
)

type edge[S comparable] struct {
	from S
	on   event
}

var messagingTransitions = map[edge[MessagingState]]MessagingState{
	{Idle, evSubmit}:     Waiting,
	{Waiting, evResolve}: Idle,
}

var feedbackTransitions = map[edge[FeedbackState]]FeedbackState{
	{FeedbackHidden, evPrompt}:            FeedbackPrompting,
	{FeedbackPrompting, evSkip}:           FeedbackHidden,
	{FeedbackPrompting, evSubmitFeedback}: FeedbackThanking,
	{FeedbackThanking, evDismiss}:         FeedbackHidden,
}

// machine is a table-driven state machine; events with no edge from the current
// state are rejected and leave it unchanged.
type machine[S comparable] struct {
	state S
	table map[edge[S]]S
}

func (m *machine[S]) can(e event) bool {
	_, ok := m.table[edge[S]{m.state, e}]
	return ok
}

func (m *machine[S]) fire(e event) bool {
	next, ok := m.table[edge[S]{m.state, e}]
	if ok {
		m.state = next
	}
	return ok
}
