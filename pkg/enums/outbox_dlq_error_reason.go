package enums

// OutboxDLQErrorReason records why a sync row was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var outboxDLQReasonDescriptions = map[OutboxDLQErrorReason]string{
	OutboxDLQReasonMaxAttempts:  "retry budget exhausted",
	OutboxDLQReasonNonRetryable: "order service rejected the request",
}

func (r OutboxDLQErrorReason) IsValid() bool {
	_, ok := outboxDLQReasonDescriptions[r]
	return ok
}

// Describe is the operator-facing explanation shown in dead-letter listings.
func (r OutboxDLQErrorReason) Describe() string {
	if desc, ok := outboxDLQReasonDescriptions[r]; ok {
		return desc
	}
	return "unknown"
}
