package bus

import "time"

// Event is a run-progress event published on the bus. Kinds are dotted
// namespaces: "sync.chat_started", "sync.page_committed", "sync.chat_failed",
// "sync.completed", "media.task_completed", "media.task_failed",
// "outbox.sent", "run.phase_changed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
