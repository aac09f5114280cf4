package recovery

// SessionOutcome is the closed set of ways a recovery attempt can end up.
// Outcomes exists so tests can prove the resolver is total over the set.
type SessionOutcome int

const (
	OutcomeNeedsUserDecision SessionOutcome = iota
	OutcomeBlocked
	OutcomeAutoInProgress
	OutcomeAutoRecovered
	OutcomeCancelled
)

// Outcomes lists every SessionOutcome member.
var Outcomes = []SessionOutcome{
	OutcomeNeedsUserDecision,
	OutcomeBlocked,
	OutcomeAutoInProgress,
	OutcomeAutoRecovered,
	OutcomeCancelled,
}

func (o SessionOutcome) String() string {
	switch o {
	case OutcomeNeedsUserDecision:
		return "needs-user-decision"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeAutoInProgress:
		return "auto-in-progress"
	case OutcomeAutoRecovered:
		return "auto-recovered"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FlowOutcome is either nothing (Pending false) or a classified outcome that
// still needs a disposition.
type FlowOutcome struct {
	Pending        bool
	Outcome        SessionOutcome
	Classification Classification
}

// Context is the ambient session state the resolver consults. It is received
// read-only; only the recovery orchestrator mutates session state.
type Context struct {
	ManualRecheck    bool
	ActiveSession    bool
	EscalationGrace  bool
	SuppressFeedback bool
}

// Action is the closed set of next steps a disposition can demand.
type Action int

const (
	ActionNone Action = iota
	ActionShowModal
	ActionMarkBlocked
	ActionEnqueue
	ActionUpdateSession
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionShowModal:
		return "show-modal"
	case ActionMarkBlocked:
		return "mark-blocked"
	case ActionEnqueue:
		return "enqueue"
	case ActionUpdateSession:
		return "update-session"
	default:
		return "unknown"
	}
}

type Disposition struct {
	Action        Action
	ShowFeedback  bool
	UpdateSession bool
}

// Determine turns a flow outcome plus ambient context into the next step.
// Pure: no I/O, no side effects, and it never fails. An outcome that should
// have been resolved upstream is a safe no-op here, not a fault.
func Determine(flow FlowOutcome, ctx Context) Disposition {
	if ctx.ManualRecheck {
		// Manual rechecks never wait on the flow and never raise a modal:
		// they update the active session or enqueue a fresh one.
		if ctx.ActiveSession {
			return Disposition{Action: ActionUpdateSession}
		}
		return Disposition{Action: ActionEnqueue}
	}

	if !flow.Pending {
		if ctx.EscalationGrace {
			// The caller expected a resolution that never arrived; fall back
			// to blocking rather than leaving the job in limbo.
			return Disposition{Action: ActionMarkBlocked, ShowFeedback: !ctx.SuppressFeedback}
		}
		return Disposition{Action: ActionNone}
	}

	switch flow.Outcome {
	case OutcomeNeedsUserDecision:
		if ctx.ActiveSession {
			return Disposition{Action: ActionUpdateSession}
		}
		return Disposition{Action: ActionShowModal}
	case OutcomeBlocked:
		return Disposition{
			Action:        ActionMarkBlocked,
			ShowFeedback:  !ctx.SuppressFeedback,
			UpdateSession: ctx.ActiveSession,
		}
	case OutcomeAutoInProgress, OutcomeAutoRecovered, OutcomeCancelled:
		// Resolved upstream already.
		return Disposition{Action: ActionNone}
	default:
		return Disposition{Action: ActionNone}
	}
}
