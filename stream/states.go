// Package stream implements the per-connection HTTP/1.x state machine:
// request-line and field parsing, chunked framing in both directions,
// reply serialization and the event-loop interest derived from the
// current state. The package does no I/O; the daemon feeds received
// bytes in and carries produced bytes out.
package stream

// State is the position of a stream in its request/response cycle.
// Milestone states perform no I/O; they are the synchronization points
// where the application is consulted.
type State uint8

const (
	StateInit State = iota
	StateReqLineReceiving
	StateReqLineReceived
	StateReqHeadersReceiving
	StateHeadersReceived
	StateHeadersProcessed
	StateContinueSending
	StateBodyReceiving
	StateBodyReceived
	StateFootersReceiving
	StateFootersReceived
	StateFullReqReceived
	StateReqRecvFinished
	StateStartReply
	StateHeadersSending
	StateHeadersSent
	StateUnchunkedBodyUnready
	StateUnchunkedBodyReady
	StateChunkedBodyUnready
	StateChunkedBodyReady
	StateChunkedBodySent
	StateFootersSending
	StateFullReplySent
	StateUpgradeHeadersSending
	StateUpgrading
	StateClosed
)

var stateNames = [...]string{
	StateInit:                  "init",
	StateReqLineReceiving:      "req_line_receiving",
	StateReqLineReceived:       "req_line_received",
	StateReqHeadersReceiving:   "req_headers_receiving",
	StateHeadersReceived:       "headers_received",
	StateHeadersProcessed:      "headers_processed",
	StateContinueSending:       "continue_sending",
	StateBodyReceiving:         "body_receiving",
	StateBodyReceived:          "body_received",
	StateFootersReceiving:      "footers_receiving",
	StateFootersReceived:       "footers_received",
	StateFullReqReceived:       "full_req_received",
	StateReqRecvFinished:       "req_recv_finished",
	StateStartReply:            "start_reply",
	StateHeadersSending:        "headers_sending",
	StateHeadersSent:           "headers_sent",
	StateUnchunkedBodyUnready:  "unchunked_body_unready",
	StateUnchunkedBodyReady:    "unchunked_body_ready",
	StateChunkedBodyUnready:    "chunked_body_unready",
	StateChunkedBodyReady:      "chunked_body_ready",
	StateChunkedBodySent:       "chunked_body_sent",
	StateFootersSending:        "footers_sending",
	StateFullReplySent:         "full_reply_sent",
	StateUpgradeHeadersSending: "upgrade_headers_sending",
	StateUpgrading:             "upgrading",
	StateClosed:                "closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Interest is what the stream currently wants from the event loop.
type Interest uint8

const (
	InterestRecvOnly Interest = iota
	InterestSendOnly
	InterestProcess // waiting on the application, no socket interest
	InterestCleanup
)

func (i Interest) String() string {
	switch i {
	case InterestRecvOnly:
		return "recv_only"
	case InterestSendOnly:
		return "send_only"
	case InterestProcess:
		return "process"
	}
	return "cleanup"
}

// KeepAliveState records what may happen to the connection after the
// current cycle.
type KeepAliveState uint8

const (
	ConnMayClose KeepAliveState = iota
	ConnKeepAlive
	ConnMustUpgrade
)

// Strictness loosens or tightens protocol acceptance. Default rejects
// obsolete line folding and TE+CL combinations; Loose permits them and
// unknown methods; Strict additionally refuses bare-LF line ends.
type Strictness int8

const (
	StrictnessStrict  Strictness = 1
	StrictnessDefault Strictness = 0
	StrictnessLoose   Strictness = -1
)
