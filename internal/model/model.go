package model

import "time"

type InboxState string

const (
	InboxPending InboxState = "pending"
	InboxDone    InboxState = "done"
	InboxFailed  InboxState = "failed"
)

type InboxRecord struct {
	ID             int64      `json:"id"`
	IdempotencyKey string     `json:"idempotency_key"`
	Source         string     `json:"source"`
	Payload        []byte     `json:"payload"`
	State          InboxState `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastError      string     `json:"last_error"`
}

type OutboxState string

const (
	OutboxPending         OutboxState = "pending"
	OutboxDone            OutboxState = "done"
	OutboxFailedPermanent OutboxState = "failed_permanent"
)

type OutboxJob struct {
	ID             int64             `json:"id"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers"`
	Body           []byte            `json:"body"`
	IdempotencyKey string            `json:"idempotency_key"`
	CorrelationID  string            `json:"correlation_id"`
	RetryCount     int               `json:"retry_count"`
	NextAttemptTs  time.Time         `json:"next_attempt_ts"`
	State          OutboxState       `json:"state"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	LastStatus     int               `json:"last_status"`
	LastError      string            `json:"last_error"`
}

// ReadSentinel marks a parsed command as a read (VALUE was "?") rather than a write.
const ReadSentinel = "READ"

type ParsedCommand struct {
	Ptype   string
	Pid     string
	Value   string
	Pkey    string
	Channel string
}

func (c ParsedCommand) IsRead() bool {
	return c.Value == ReadSentinel
}

type WatchdogStatus string

const (
	WatchdogUp      WatchdogStatus = "up"
	WatchdogDown    WatchdogStatus = "down"
	WatchdogUnknown WatchdogStatus = "unknown"
)

type WatchdogState struct {
	Status              WatchdogStatus `json:"status"`
	SinceTs             time.Time      `json:"since_ts"`
	LastProbeTs         time.Time      `json:"last_probe_ts"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
}

// SimParam is the persisted simulation value and metadata for one pkey on one channel.
type SimParam struct {
	Pkey       string   `json:"pkey"`
	Channel    string   `json:"channel"`
	MinV       *float64 `json:"min_v,omitempty"`
	MaxV       *float64 `json:"max_v,omitempty"`
	DefaultV   string   `json:"default_v"`
	RW         string   `json:"rw"`
	CurrentV   *string  `json:"current_v,omitempty"`
	UpdatedAt  time.Time `json:"updated_ts"`
}

type Counts struct {
	InboxPending  int64 `json:"inbox_pending"`
	OutboxPending int64 `json:"outbox_pending"`
}
