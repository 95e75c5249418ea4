package sync

// ChatProgress is the payload of "sync.chat_started" and "sync.chat_failed".
type ChatProgress struct {
	ChatID      string
	DisplayName string
	Error       string
}

// PageProgress is the payload of "sync.page_committed".
type PageProgress struct {
	ChatID   string
	Inserted int
	Skipped  int
	Total    int
}
