package imapconn

// ConnState is a protocol state as defined by RFC 3501 section 3.
type ConnState int

const (
	// NoneState is the state before the transport has ever been opened,
	// and the state Connect reverts to when STARTTLS or authentication
	// fails.
	NoneState ConnState = iota

	// NotAuthenticatedState is entered as soon as the transport is open,
	// before the greeting is read, including on a connection whose
	// greeting turns out to be PREAUTH.
	NotAuthenticatedState

	// AuthenticatedState is entered when Connect completes: after
	// acceptable credentials have been supplied, or, on a
	// pre-authenticated connection, without them.
	AuthenticatedState

	// SelectedState is entered once a higher layer has successfully
	// selected a mailbox. This engine never enters it on its own; it
	// is driven by SetState.
	SelectedState

	// LogoutState is terminal: the connection is being or has been
	// torn down.
	LogoutState
)

func (s ConnState) String() string {
	switch s {
	case NoneState:
		return "none"
	case NotAuthenticatedState:
		return "not-authenticated"
	case AuthenticatedState:
		return "authenticated"
	case SelectedState:
		return "selected"
	case LogoutState:
		return "logout"
	default:
		return "unknown"
	}
}
