package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// testChat creates a contact-backed private chat for message tests.
func testChat(t *testing.T, db *DB, waChatID string) *Chat {
	t.Helper()
	contact, err := db.EnsureContact("5511999990000", waChatID, "Alice")
	if err != nil {
		t.Fatal(err)
	}
	chat, err := db.EnsurePrivateChat(waChatID, contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	return chat
}

func textMsg(id string, ts int64, content string) *Message {
	return &Message{WAMessageID: id, MessageType: "text", Content: content, Timestamp: ts}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestEnsureContactKeepsName(t *testing.T) {
	db := testDB(t)

	c1, err := db.EnsureContact("5511988880000", "5511988880000@c.us", "Bob")
	if err != nil {
		t.Fatal(err)
	}

	// An empty name must not erase the stored one.
	c2, err := db.EnsureContact("5511988880000", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if c2.ID != c1.ID {
		t.Fatalf("got new row %d, want existing %d", c2.ID, c1.ID)
	}
	if c2.Name != "Bob" {
		t.Errorf("name = %q, want Bob", c2.Name)
	}

	// A later non-empty name wins.
	c3, err := db.EnsureContact("5511988880000", "", "Robert")
	if err != nil {
		t.Fatal(err)
	}
	if c3.Name != "Robert" {
		t.Errorf("name = %q, want Robert", c3.Name)
	}
}

func TestEnsureChatIdempotent(t *testing.T) {
	db := testDB(t)

	chat := testChat(t, db, "5511999990000@c.us")
	again := testChat(t, db, "5511999990000@c.us")
	if chat.ID != again.ID {
		t.Errorf("got two rows (%d, %d) for one chat id", chat.ID, again.ID)
	}
	if chat.ChatType != "private" {
		t.Errorf("chat_type = %q, want private", chat.ChatType)
	}
	if chat.DisplayName != "Alice" {
		t.Errorf("display name = %q, want Alice", chat.DisplayName)
	}
}

func TestGetChatMissing(t *testing.T) {
	db := testDB(t)

	c, err := db.GetChat("missing@c.us")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Error("expected nil for missing chat")
	}
}

func TestGroupChatDisplayName(t *testing.T) {
	db := testDB(t)

	group, err := db.EnsureGroup("123-456@g.us", "Family")
	if err != nil {
		t.Fatal(err)
	}
	chat, err := db.EnsureGroupChat("123-456@g.us", group.ID)
	if err != nil {
		t.Fatal(err)
	}
	if chat.ChatType != "group" {
		t.Errorf("chat_type = %q, want group", chat.ChatType)
	}
	if chat.DisplayName != "Family" {
		t.Errorf("display name = %q, want Family", chat.DisplayName)
	}
}

func TestApplyPageDedup(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "c@c.us")

	page := []*Message{
		textMsg("m2", 2000, "second"),
		textMsg("m1", 1000, "first"),
	}
	res, err := db.ApplyPage(chat, page, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Inserted) != 2 || res.Skipped != 0 {
		t.Fatalf("inserted=%d skipped=%d, want 2/0", len(res.Inserted), res.Skipped)
	}
	for _, m := range res.Inserted {
		if m.ID == 0 {
			t.Error("inserted row id not populated")
		}
	}

	// Re-applying the same page must not duplicate.
	res, err = db.ApplyPage(chat, []*Message{
		textMsg("m2", 2000, "second"),
		textMsg("m1", 1000, "first"),
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Inserted) != 0 || res.Skipped != 2 {
		t.Fatalf("inserted=%d skipped=%d, want 0/2", len(res.Inserted), res.Skipped)
	}
	if res.HitKnown {
		t.Error("HitKnown must stay false when stopOnKnown is off")
	}

	msgs, err := db.ListMessages(chat.ID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	// Newest first.
	if msgs[0].WAMessageID != "m2" {
		t.Errorf("first message = %q, want m2", msgs[0].WAMessageID)
	}
}

func TestApplyPageStopsOnKnownProviderID(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "c@c.us")

	if _, err := db.ApplyPage(chat, []*Message{textMsg("known", 1000, "old")}, false); err != nil {
		t.Fatal(err)
	}

	page := []*Message{
		textMsg("new", 3000, "fresh"),
		textMsg("known", 1000, "old"),
		textMsg("older", 500, "should not be reached"),
	}
	res, err := db.ApplyPage(chat, page, true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.HitKnown {
		t.Fatal("expected HitKnown")
	}
	if len(res.Inserted) != 1 || res.Inserted[0].WAMessageID != "new" {
		t.Fatalf("inserted = %v, want only 'new'", res.Inserted)
	}

	// The message after the known one was never processed.
	msgs, err := db.ListMessages(chat.ID, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestApplyPageFingerprintNeverStops(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "c@c.us")

	// A message without a provider id gets a fingerprint key.
	anon := &Message{MessageType: "text", Content: "no id", Timestamp: 1000, SenderPhone: "55"}
	if _, err := db.ApplyPage(chat, []*Message{anon}, false); err != nil {
		t.Fatal(err)
	}

	// Seeing it again is a skip, not a stop: a fingerprint match is not
	// proof the rest of the page is archived.
	page := []*Message{
		{MessageType: "text", Content: "no id", Timestamp: 1000, SenderPhone: "55"},
		textMsg("m-after", 500, "still wanted"),
	}
	res, err := db.ApplyPage(chat, page, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.HitKnown {
		t.Error("fingerprint match must not report HitKnown")
	}
	if len(res.Inserted) != 1 || res.Inserted[0].WAMessageID != "m-after" {
		t.Fatalf("inserted = %d rows, want m-after only", len(res.Inserted))
	}
}

func TestApplyPageRefreshesFlags(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "c@c.us")

	if _, err := db.ApplyPage(chat, []*Message{textMsg("m1", 1000, "hello")}, false); err != nil {
		t.Fatal(err)
	}

	starred := textMsg("m1", 1000, "hello")
	starred.Starred = true
	if _, err := db.ApplyPage(chat, []*Message{starred}, false); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(chat.ID, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !msgs[0].Starred {
		t.Error("starred flag was not refreshed on the existing row")
	}
}

func TestApplyPageRaisesChatActivity(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "c@c.us")

	if _, err := db.ApplyPage(chat, []*Message{textMsg("m1", 5000, "hi")}, false); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetChat("c@c.us")
	if err != nil {
		t.Fatal(err)
	}
	if got.LastActivity != 5000 {
		t.Errorf("last_activity = %d, want 5000", got.LastActivity)
	}

	// An older page must not lower it.
	if _, err := db.ApplyPage(chat, []*Message{textMsg("m0", 1000, "older")}, false); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetChat("c@c.us")
	if got.LastActivity != 5000 {
		t.Errorf("last_activity = %d after older page, want 5000", got.LastActivity)
	}
}

func TestSyncStatusLifecycle(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "c@c.us")

	st, err := db.GetSyncStatus(chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st != nil {
		t.Fatal("expected nil status before first sync")
	}

	if err := db.AdvanceSyncStatus(chat.ID, "m10", "m5", 5); err != nil {
		t.Fatal(err)
	}
	if err := db.AdvanceSyncStatus(chat.ID, "", "m1", 3); err != nil {
		t.Fatal(err)
	}

	st, err = db.GetSyncStatus(chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalSynced != 8 {
		t.Errorf("total = %d, want 8", st.TotalSynced)
	}
	// An empty last_message_id keeps the previous one.
	if st.LastMessageID != "m10" {
		t.Errorf("last_message_id = %q, want m10", st.LastMessageID)
	}
	if st.LastCursor != "m1" {
		t.Errorf("last_cursor = %q, want m1", st.LastCursor)
	}

	// Errors never touch the cursor.
	if err := db.RecordSyncError(chat.ID, "boom"); err != nil {
		t.Fatal(err)
	}
	st, _ = db.GetSyncStatus(chat.ID)
	if st.LastError != "boom" {
		t.Errorf("last_error = %q, want boom", st.LastError)
	}
	if st.LastCursor != "m1" {
		t.Errorf("cursor changed on error: %q", st.LastCursor)
	}

	if err := db.SetTerminalCursor(chat.ID, "m1"); err != nil {
		t.Fatal(err)
	}
	st, _ = db.GetSyncStatus(chat.ID)
	if st.TerminalCursor != "m1" {
		t.Errorf("terminal_cursor = %q, want m1", st.TerminalCursor)
	}
}

func TestMediaQueue(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "c@c.us")

	pic := textMsg("m1", 1000, "")
	pic.MessageType = "image"
	pic.MediaURL = "https://media.example/p.jpg"
	res, err := db.ApplyPage(chat, []*Message{pic}, false)
	if err != nil {
		t.Fatal(err)
	}
	msgID := res.Inserted[0].ID

	created, err := db.EnqueueMedia(msgID, pic.MediaURL, "p.jpg", "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected task creation")
	}
	// Enqueueing the same message again is a no-op.
	created, err = db.EnqueueMedia(msgID, pic.MediaURL, "p.jpg", "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("duplicate enqueue created a second task")
	}

	tasks, err := db.PendingMedia(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	task := tasks[0]

	if err := db.MarkMediaDownloading(task.ID); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMediaCompleted(task.ID, "/media/images/p.jpg", "abc123"); err != nil {
		t.Fatal(err)
	}

	// Completion mirrors onto the message.
	msgs, err := db.ListMessages(chat.ID, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].LocalMediaPath != "/media/images/p.jpg" {
		t.Errorf("local_media_path = %q", msgs[0].LocalMediaPath)
	}

	path, err := db.FindCompletedByHash("abc123")
	if err != nil {
		t.Fatal(err)
	}
	if path != "/media/images/p.jpg" {
		t.Errorf("hash lookup = %q", path)
	}

	tasks, _ = db.PendingMedia(3, 0)
	if len(tasks) != 0 {
		t.Errorf("completed task still pending")
	}
}

func TestMediaFailedRetryCeiling(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "c@c.us")

	pic := textMsg("m1", 1000, "")
	pic.MessageType = "image"
	pic.MediaURL = "https://media.example/p.jpg"
	res, err := db.ApplyPage(chat, []*Message{pic}, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.EnqueueMedia(res.Inserted[0].ID, pic.MediaURL, "", ""); err != nil {
		t.Fatal(err)
	}

	const maxAttempts = 3
	for i := 0; i < maxAttempts; i++ {
		tasks, err := db.PendingMedia(maxAttempts, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(tasks) != 1 {
			t.Fatalf("attempt %d: got %d tasks, want 1", i+1, len(tasks))
		}
		if err := db.MarkMediaDownloading(tasks[0].ID); err != nil {
			t.Fatal(err)
		}
		if err := db.MarkMediaFailed(tasks[0].ID, fmt.Sprintf("fail %d", i+1)); err != nil {
			t.Fatal(err)
		}
	}

	tasks, err := db.PendingMedia(maxAttempts, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("task still eligible after %d attempts", maxAttempts)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", "c@c.us", "hello"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "client1" {
		t.Fatalf("pending = %v", pending)
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "provider1"); err != nil {
		t.Fatal(err)
	}

	pending, _ = db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "c@c.us")
	other := testChatWithPhone(t, db, "d@c.us", "5511777770000")

	if _, err := db.ApplyPage(chat, []*Message{
		textMsg("m1", 1000, "hello world"),
		textMsg("m2", 2000, "goodbye world"),
	}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ApplyPage(other, []*Message{
		textMsg("m3", 3000, "hello from the other side"),
	}, false); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	results, err = db.SearchMessages("hello", chat.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.WAMessageID != "m1" {
		t.Fatalf("chat-scoped search = %v", results)
	}
	if results[0].Snippet == "" {
		t.Error("snippet is empty")
	}
}

func testChatWithPhone(t *testing.T, db *DB, waChatID, phone string) *Chat {
	t.Helper()
	contact, err := db.EnsureContact(phone, waChatID, "")
	if err != nil {
		t.Fatal(err)
	}
	chat, err := db.EnsurePrivateChat(waChatID, contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	return chat
}

func TestListChatsActiveWindow(t *testing.T) {
	db := testDB(t)
	old := testChat(t, db, "old@c.us")
	fresh := testChatWithPhone(t, db, "fresh@c.us", "5511777770000")

	if err := db.TouchChat(old.ID, 1000); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchChat(fresh.ID, 9000); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(5000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].WhatsAppChatID != "fresh@c.us" {
		t.Fatalf("active chats = %v", chats)
	}

	chats, _ = db.ListChats(0, 0)
	if len(chats) != 2 || chats[0].WhatsAppChatID != "fresh@c.us" {
		t.Fatalf("expected recency order, got %v", chats)
	}
}

func TestTableCounts(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "c@c.us")
	if _, err := db.ApplyPage(chat, []*Message{textMsg("m1", 1000, "hi")}, false); err != nil {
		t.Fatal(err)
	}

	counts, err := db.TableCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts["messages"] != 1 {
		t.Errorf("messages = %d, want 1", counts["messages"])
	}
	if counts["chats"] != 1 {
		t.Errorf("chats = %d, want 1", counts["chats"])
	}
}

func TestGetSyncRollup(t *testing.T) {
	db := testDB(t)
	done := testChat(t, db, "done@c.us")
	failing := testChatWithPhone(t, db, "bad@c.us", "5511977770000")

	if err := db.AdvanceSyncStatus(done.ID, "m5", "m1", 5); err != nil {
		t.Fatal(err)
	}
	if err := db.SetTerminalCursor(done.ID, "m1"); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordSyncError(failing.ID, "timeout"); err != nil {
		t.Fatal(err)
	}

	r, err := db.GetSyncRollup()
	if err != nil {
		t.Fatal(err)
	}
	if r.ChatsTracked != 2 {
		t.Errorf("tracked = %d, want 2", r.ChatsTracked)
	}
	if r.ChatsComplete != 1 {
		t.Errorf("complete = %d, want 1", r.ChatsComplete)
	}
	if r.ChatsFailing != 1 {
		t.Errorf("failing = %d, want 1", r.ChatsFailing)
	}
	if r.TotalSynced != 5 {
		t.Errorf("total = %d, want 5", r.TotalSynced)
	}
	if r.LastSyncAt == 0 {
		t.Error("last sync time should be set")
	}
}

func TestAddGroupMemberIdempotent(t *testing.T) {
	db := testDB(t)
	group, err := db.EnsureGroup("team@g.us", "Team")
	if err != nil {
		t.Fatal(err)
	}
	contact, err := db.EnsureContact("5511966660000", "", "Carol")
	if err != nil {
		t.Fatal(err)
	}

	if err := db.AddGroupMember(group.ID, contact.ID, "member"); err != nil {
		t.Fatal(err)
	}
	if err := db.AddGroupMember(group.ID, contact.ID, "admin"); err != nil {
		t.Fatal(err)
	}

	var n int64
	var role string
	err = db.QueryRow(`SELECT COUNT(*), MAX(role) FROM group_members WHERE group_id = ?`, group.ID).
		Scan(&n, &role)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
	if role != "admin" {
		t.Errorf("role = %q, want admin (latest wins)", role)
	}
}

func TestCountAggregates(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "agg@c.us")
	contact, err := db.GetContactByPhone("5511999990000")
	if err != nil || contact == nil {
		t.Fatal("test contact missing")
	}

	day1 := int64(1700000000000) // 2023-11-14
	incoming := func(id string, ts int64) *Message {
		m := textMsg(id, ts, "hi")
		m.SenderContactID = sql.NullInt64{Int64: contact.ID, Valid: true}
		m.SenderPhone = contact.Phone
		return m
	}
	outgoing := textMsg("out1", day1, "reply")
	outgoing.Outgoing = true

	page := []*Message{
		incoming("in1", day1),
		incoming("in2", day1+1000),
		incoming("in3", day1+86400000), // next day
		outgoing,
	}
	if _, err := db.ApplyPage(chat, page, false); err != nil {
		t.Fatal(err)
	}

	byContact, err := db.CountsByContact(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(byContact) != 1 {
		t.Fatalf("contacts = %d, want 1", len(byContact))
	}
	if byContact[0].Count != 3 {
		t.Errorf("count = %d, want 3 (outgoing excluded)", byContact[0].Count)
	}

	byDate, err := db.CountsByDate(chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(byDate) != 2 {
		t.Fatalf("days = %d, want 2", len(byDate))
	}
	if byDate[0].Count != 3 || byDate[1].Count != 1 {
		t.Errorf("per-day counts = %d/%d, want 3/1", byDate[0].Count, byDate[1].Count)
	}
}

func TestResetStalledMedia(t *testing.T) {
	db := testDB(t)
	chat := testChat(t, db, "stall@c.us")

	pic := textMsg("m1", 1000, "")
	pic.MessageType = "image"
	pic.MediaURL = "https://media.example/s.jpg"
	res, err := db.ApplyPage(chat, []*Message{pic}, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.EnqueueMedia(res.Inserted[0].ID, pic.MediaURL, "", "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	tasks, err := db.PendingMedia(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMediaDownloading(tasks[0].ID); err != nil {
		t.Fatal(err)
	}

	// A task stuck mid-download is invisible to the queue.
	tasks, err = db.PendingMedia(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("pending = %d, want 0 while downloading", len(tasks))
	}

	n, err := db.ResetStalledMedia()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reset = %d, want 1", n)
	}
	tasks, err = db.PendingMedia(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("pending = %d, want 1 after reset", len(tasks))
	}
	if tasks[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (started download counted)", tasks[0].Attempts)
	}
	if tasks[0].ErrorMessage != "interrupted" {
		t.Errorf("error = %q", tasks[0].ErrorMessage)
	}
}

func TestListChatsUnbounded(t *testing.T) {
	db := testDB(t)

	const total = 510
	for i := 0; i < total; i++ {
		phone := fmt.Sprintf("55119%07d", i)
		contact, err := db.EnsureContact(phone, "", "")
		if err != nil {
			t.Fatal(err)
		}
		chat, err := db.EnsurePrivateChat(phone+"@c.us", contact.ID)
		if err != nil {
			t.Fatal(err)
		}
		if err := db.TouchChat(chat.ID, int64(1000+i)); err != nil {
			t.Fatal(err)
		}
	}

	chats, err := db.ListChats(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != total {
		t.Fatalf("chats = %d, want %d (limit 0 must be unbounded)", len(chats), total)
	}

	chats, err = db.ListChats(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 10 {
		t.Fatalf("chats = %d, want 10 with explicit limit", len(chats))
	}
}

func TestExpireStalledOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("stuck", "a@c.us", "lost"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSending("stuck"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("waiting", "b@c.us", "fresh"); err != nil {
		t.Fatal(err)
	}

	n, err := db.ExpireStalledOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}

	// The queued entry is untouched; the stuck one is failed, not resent.
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "waiting" {
		t.Fatalf("pending = %v", pending)
	}
	var status, errMsg string
	if err := db.QueryRow(`SELECT status, error_message FROM outbox WHERE client_msg_id = 'stuck'`).
		Scan(&status, &errMsg); err != nil {
		t.Fatal(err)
	}
	if status != "failed" || errMsg != "interrupted" {
		t.Errorf("status = %q error = %q", status, errMsg)
	}
}
