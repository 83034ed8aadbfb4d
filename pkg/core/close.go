package core

// CloseReason tags why a channel's transport closed. Reconnect policy keys
// off this tag rather than raw numeric websocket close codes.
type CloseReason int

const (
	// CloseNormal is a deliberate, clean shutdown. No reconnect follows.
	CloseNormal CloseReason = iota
	// CloseAbnormal covers every other termination: connection reset,
	// handshake failure, non-normal close codes. Triggers the single-retry
	// reconnect path.
	CloseAbnormal
)

func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "normal"
	case CloseAbnormal:
		return "abnormal"
	default:
		return "unknown"
	}
}
