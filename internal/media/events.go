package media

// TaskEvent is the payload of "media.task_completed" and "media.task_failed".
type TaskEvent struct {
	TaskID    int64
	MessageID int64
	Path      string
	Size      int64
	Error     string
}
