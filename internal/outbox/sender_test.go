package outbox

import (
	"context"
	"errors"
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

type mockSender struct {
	sent []string // chatID|body
	fail map[string]error
}

func (m *mockSender) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	if err := m.fail[text]; err != nil {
		return "", err
	}
	m.sent = append(m.sent, chatID+"|"+text)
	return "provider-id-1", nil
}

func TestQueueAndDrain(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{}
	s := NewSender(db, mock, bus.New(), zap.NewNop())

	clientID, err := s.Queue("c@c.us", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if clientID == "" {
		t.Fatal("empty client id")
	}

	sent, failed, err := s.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 || failed != 0 {
		t.Errorf("sent=%d failed=%d", sent, failed)
	}
	if len(mock.sent) != 1 || mock.sent[0] != "c@c.us|hello" {
		t.Errorf("delivered = %v", mock.sent)
	}

	// Nothing left pending.
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("%d entries still pending", len(pending))
	}

	// A second drain sends nothing.
	sent, _, err = s.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 0 || len(mock.sent) != 1 {
		t.Error("drained entry was sent twice")
	}
}

func TestDrainIsolatesFailures(t *testing.T) {
	db := testDB(t)
	mock := &mockSender{fail: map[string]error{"bad": errors.New("quota exceeded")}}
	s := NewSender(db, mock, bus.New(), zap.NewNop())

	if _, err := s.Queue("c@c.us", "bad"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Queue("c@c.us", "good"); err != nil {
		t.Fatal(err)
	}

	sent, failed, err := s.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sent != 1 || failed != 1 {
		t.Errorf("sent=%d failed=%d, want 1/1", sent, failed)
	}
	if len(mock.sent) != 1 || mock.sent[0] != "c@c.us|good" {
		t.Errorf("delivered = %v", mock.sent)
	}
}

func TestDrainPublishesSentEvent(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := NewSender(db, &mockSender{}, b, zap.NewNop())

	ch, unsub := b.Subscribe("outbox.", 10)
	defer unsub()

	clientID, err := s.Queue("c@c.us", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		p, ok := evt.Payload.(SentEvent)
		if !ok || p.ClientMsgID != clientID || p.ProviderMsgID != "provider-id-1" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	default:
		t.Fatal("no outbox.sent event")
	}
}
