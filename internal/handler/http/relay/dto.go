package relay

// streamRequest is the body of POST /api/relay/stream.
type streamRequest struct {
	Prompt     string            `json:"prompt"`
	Format     string            `json:"format,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
}

// completeRequest is the body of POST /api/relay/complete.
type completeRequest struct {
	Prompt string `json:"prompt"`
}

// completeResponse is the body of a successful completion.
type completeResponse struct {
	Completion string `json:"completion"`
	Provider   string `json:"provider"`
}

// statusResponse mirrors the requester's network status snapshot.
type statusResponse struct {
	Online         bool                  `json:"online"`
	CircuitBreaker breakerStatus         `json:"circuit_breaker"`
	Connection     connectionInfoPayload `json:"connection"`
}

type breakerStatus struct {
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	SuccessCount    int    `json:"success_count"`
	LastFailureTime string `json:"last_failure_time,omitempty"`
}

type connectionInfoPayload struct {
	TimeoutMS            int64 `json:"timeout_ms"`
	HealthCheckTimeoutMS int64 `json:"health_check_timeout_ms"`
	MaxRetries           int   `json:"max_retries"`
}
