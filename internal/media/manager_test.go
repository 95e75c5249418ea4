package media

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/wavault/wavault/internal/bus"
	"github.com/wavault/wavault/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeDownloader serves fixed bodies by URL.
type fakeDownloader struct {
	bodies map[string][]byte
	types  map[string]string
	fail   map[string]error
}

func (f *fakeDownloader) DownloadMedia(ctx context.Context, url string, w io.Writer) (string, int64, error) {
	if err := f.fail[url]; err != nil {
		return "", 0, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return "", 0, errors.New("not found")
	}
	n, err := w.Write(body)
	return f.types[url], int64(n), err
}

// seedTask archives one media message and enqueues its download.
func seedTask(t *testing.T, db *store.DB, waMsgID, url, mime string) int64 {
	t.Helper()
	contact, err := db.EnsureContact("5511999990000", "c@c.us", "")
	if err != nil {
		t.Fatal(err)
	}
	chat, err := db.EnsurePrivateChat("c@c.us", contact.ID)
	if err != nil {
		t.Fatal(err)
	}
	msg := &store.Message{WAMessageID: waMsgID, MessageType: "image", Timestamp: 1000, MediaURL: url, MediaMimeType: mime}
	res, err := db.ApplyPage(chat, []*store.Message{msg}, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.EnqueueMedia(res.Inserted[0].ID, url, "", mime); err != nil {
		t.Fatal(err)
	}
	return res.Inserted[0].ID
}

func testManager(t *testing.T, db *store.DB, d Downloader) (*Manager, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "media")
	m := NewManager(db, d, bus.New(), zap.NewNop(), Config{Root: root, Workers: 2, MaxAttempts: 3})
	return m, root
}

func TestProcessQueueDownloads(t *testing.T) {
	db := testDB(t)
	url := "https://media/p.jpg"
	d := &fakeDownloader{
		bodies: map[string][]byte{url: []byte("\xff\xd8\xffjpegbody")},
		types:  map[string]string{url: "image/jpeg"},
	}
	m, root := testManager(t, db, d)
	msgID := seedTask(t, db, "m1", url, "image/jpeg")

	res, err := m.ProcessQueue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Completed != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	// The file landed in the images directory.
	entries, err := os.ReadDir(filepath.Join(root, "images"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files, want 1", len(entries))
	}

	// The message points at the stored file.
	msgs, err := db.ListMessages(mustChatID(t, db), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].ID != msgID || msgs[0].LocalMediaPath == "" {
		t.Errorf("local path not recorded: %+v", msgs[0])
	}
	data, err := os.ReadFile(msgs[0].LocalMediaPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "\xff\xd8\xffjpegbody" {
		t.Error("stored bytes differ from download")
	}
}

func mustChatID(t *testing.T, db *store.DB) int64 {
	t.Helper()
	chat, err := db.GetChat("c@c.us")
	if err != nil || chat == nil {
		t.Fatalf("chat lookup: %v", err)
	}
	return chat.ID
}

func TestProcessQueueDedupsByContent(t *testing.T) {
	db := testDB(t)
	urlA := "https://media/a.jpg"
	urlB := "https://media/b.jpg"
	body := []byte("identical bytes")
	d := &fakeDownloader{
		bodies: map[string][]byte{urlA: body, urlB: body},
		types:  map[string]string{urlA: "image/jpeg", urlB: "image/jpeg"},
	}
	m, root := testManager(t, db, d)
	seedTask(t, db, "m1", urlA, "image/jpeg")

	// First drain stores the file.
	if _, err := m.ProcessQueue(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Second message with the same content arrives later.
	seedTask(t, db, "m2", urlB, "image/jpeg")
	res, err := m.ProcessQueue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Deduped != 1 {
		t.Errorf("deduped = %d, want 1", res.Deduped)
	}

	// Only one copy on disk.
	entries, err := os.ReadDir(filepath.Join(root, "images"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d files, want 1 (content dedup)", len(entries))
	}

	// Both messages resolve to the same path.
	msgs, err := db.ListMessages(mustChatID(t, db), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].LocalMediaPath != msgs[1].LocalMediaPath {
		t.Errorf("paths differ: %q vs %q", msgs[0].LocalMediaPath, msgs[1].LocalMediaPath)
	}
}

func TestProcessQueueRetriesUntilCeiling(t *testing.T) {
	db := testDB(t)
	url := "https://media/broken.jpg"
	d := &fakeDownloader{fail: map[string]error{url: errors.New("connection reset")}}
	m, _ := testManager(t, db, d)
	seedTask(t, db, "m1", url, "image/jpeg")

	for i := 0; i < 3; i++ {
		res, err := m.ProcessQueue(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if res.Failed != 1 {
			t.Fatalf("drain %d: failed = %d, want 1", i+1, res.Failed)
		}
	}

	// Attempt ceiling reached; the task is no longer eligible.
	res, err := m.ProcessQueue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 0 || res.Completed != 0 {
		t.Errorf("exhausted task was retried: %+v", res)
	}
	counts, err := db.MediaQueueCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts[store.MediaFailed] != 1 {
		t.Errorf("failed count = %d, want 1", counts[store.MediaFailed])
	}
}

func TestTypeDir(t *testing.T) {
	tests := []struct {
		mime     string
		filename string
		want     string
	}{
		{"image/jpeg", "", "images"},
		{"image/webp", "", "stickers"},
		{"video/mp4", "", "videos"},
		{"audio/mpeg", "", "audio"},
		{"audio/ogg", "", "voice"},
		{"application/pdf", "doc.pdf", "documents"},
		{"", "notes.txt", "documents"},
		{"", "", "other"},
	}
	for _, tt := range tests {
		if got := typeDir(tt.mime, tt.filename); got != tt.want {
			t.Errorf("typeDir(%q, %q) = %q, want %q", tt.mime, tt.filename, got, tt.want)
		}
	}
}

func TestCleanupTemp(t *testing.T) {
	db := testDB(t)
	m, root := testManager(t, db, &fakeDownloader{})

	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{".download-123", ".download-456"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("partial"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	keep := filepath.Join(root, "images")
	if err := os.MkdirAll(keep, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(keep, "pic.jpg"), []byte("done"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := m.CleanupTemp()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := os.Stat(filepath.Join(keep, "pic.jpg")); err != nil {
		t.Error("completed file should survive cleanup")
	}
	if stale, _ := filepath.Glob(filepath.Join(root, ".download-*")); len(stale) != 0 {
		t.Errorf("stale files left: %v", stale)
	}
}

func TestProcessQueueRecoversInterruptedTask(t *testing.T) {
	db := testDB(t)
	url := "https://media/r.jpg"
	d := &fakeDownloader{
		bodies: map[string][]byte{url: []byte("recovered")},
		types:  map[string]string{url: "image/jpeg"},
	}
	m, _ := testManager(t, db, d)
	seedTask(t, db, "m1", url, "image/jpeg")

	// Simulate a run killed mid-download: the task sits in 'downloading'.
	tasks, err := db.PendingMedia(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMediaDownloading(tasks[0].ID); err != nil {
		t.Fatal(err)
	}

	res, err := m.ProcessQueue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Completed != 1 {
		t.Fatalf("result = %+v, want the stuck task downloaded", res)
	}
}
