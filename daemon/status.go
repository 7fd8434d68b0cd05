package daemon

// StatusCode is the closed result taxonomy of the embedding API. Every
// log site carries one, and every lifecycle call returns one.
type StatusCode uint16

const (
	SCOK StatusCode = iota

	// parameter / state errors
	SCTooEarly
	SCTooLate
	SCInfoTypeNotApplicable
	SCInfoBuffTooSmall
	SCOptionUnsupported
	SCOptionInvalid
	SCDaemonAlreadyStarted
	SCDaemonNotStarted
	SCDaemonShuttingDown

	// resource errors
	SCMemoryAllocFailure
	SCConnectionLimitReached
	SCPerIPLimitReached
	SCFDLimitReached

	// network errors
	SCListenFailure
	SCListenPortBusy
	SCAcceptFailure
	SCEpollCreateFailure
	SCEpollCtlFailure
	SCPollFailure
	SCSelectFailure
	SCITCFailure
	SCConnectionHardError

	// TLS errors
	SCTLSNotSupported
	SCTLSHandshakeFailure

	// upgrade errors
	SCUpgradeTooLate
	SCUpgradeWaitUnsupported
	SCHandleInvalid

	// digest configuration
	SCAuthEntropyMissing

	SCInternal
)

var statusNames = [...]string{
	SCOK:                     "ok",
	SCTooEarly:               "too_early",
	SCTooLate:                "too_late",
	SCInfoTypeNotApplicable:  "info_type_not_applicable",
	SCInfoBuffTooSmall:       "info_buff_too_small",
	SCOptionUnsupported:      "option_unsupported",
	SCOptionInvalid:          "option_invalid",
	SCDaemonAlreadyStarted:   "daemon_already_started",
	SCDaemonNotStarted:       "daemon_not_started",
	SCDaemonShuttingDown:     "daemon_shutting_down",
	SCMemoryAllocFailure:     "memory_alloc_failure",
	SCConnectionLimitReached: "connection_limit_reached",
	SCPerIPLimitReached:      "per_ip_limit_reached",
	SCFDLimitReached:         "fd_limit_reached",
	SCListenFailure:          "listen_failure",
	SCListenPortBusy:         "listen_port_busy",
	SCAcceptFailure:          "accept_failure",
	SCEpollCreateFailure:     "epoll_create_failure",
	SCEpollCtlFailure:        "epoll_ctl_failure",
	SCPollFailure:            "poll_failure",
	SCSelectFailure:          "select_failure",
	SCITCFailure:             "itc_failure",
	SCConnectionHardError:    "connection_hard_error",
	SCTLSNotSupported:        "tls_not_supported",
	SCTLSHandshakeFailure:    "tls_handshake_failure",
	SCUpgradeTooLate:         "upgrade_too_late",
	SCUpgradeWaitUnsupported: "upgrade_wait_unsupported",
	SCHandleInvalid:          "handle_invalid",
	SCAuthEntropyMissing:     "auth_entropy_missing",
	SCInternal:               "internal",
}

func (s StatusCode) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Termination tells the completion callback why a request cycle ended.
type Termination uint8

const (
	TerminationCompletedOK Termination = iota
	TerminationWithError
	TerminationClientAbort
	TerminationTimeoutReached
	TerminationDaemonShutdown
)

var terminationNames = [...]string{
	TerminationCompletedOK:    "completed_ok",
	TerminationWithError:      "with_error",
	TerminationClientAbort:    "client_abort",
	TerminationTimeoutReached: "timeout_reached",
	TerminationDaemonShutdown: "daemon_shutdown",
}

func (t Termination) String() string {
	if int(t) < len(terminationNames) {
		return terminationNames[t]
	}
	return "unknown"
}
