package errs

// Codes are grouped the way the wire reports them: 14xx terminal to the
// causing operation, 15xx dependency failures.
const (
	CodeHandshakeRejected  = 1401
	CodeMembershipDenied   = 1403
	CodeUnknownConnection  = 1404
	CodeTooManyConnections = 1409
	CodePersistenceFailure = 1500
	CodeSequenceFailure    = 1501
	CodeInternal           = 1599
)

var (
	// ErrHandshakeRejected covers both a disallowed origin and an invalid
	// session credential; the connection is never admitted.
	ErrHandshakeRejected = NewCodeError(CodeHandshakeRejected, "handshake rejected")

	// ErrMembershipDenied is reported to the offending connection only; the
	// connection stays open.
	ErrMembershipDenied = NewCodeError(CodeMembershipDenied, "membership denied")

	ErrUnknownConnection  = NewCodeError(CodeUnknownConnection, "unknown connection")
	ErrTooManyConnections = NewCodeError(CodeTooManyConnections, "connection limit reached")

	// ErrPersistenceFailure means the store rejected or timed out on a write;
	// nothing was broadcast and the server does not retry.
	ErrPersistenceFailure = NewCodeError(CodePersistenceFailure, "persistence failure")

	ErrSequenceFailure = NewCodeError(CodeSequenceFailure, "sequence allocation failure")
	ErrInternal        = NewCodeError(CodeInternal, "internal error")
)
