package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ehrlich-b/palaver/internal/bus"
)

func sampleDocument() Document {
	base := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	events := []bus.Event{
		{Seq: 1, Sender: "Moderator", Body: "Welcome to the debate", Kind: bus.KindModerator, CreatedAt: base},
		{Seq: 2, Sender: "Ada", Body: "Opening argument\nwith two lines", Kind: bus.KindChat, CreatedAt: base.Add(10 * time.Second)},
		{Seq: 3, Sender: "Grace", Body: "I disagree", Kind: bus.KindChat, CreatedAt: base.Add(30 * time.Second),
			Tags: map[string]string{"trigger": "silence_break"}},
		{Seq: 4, Sender: "Sam", Body: "Both make good points", Kind: bus.KindChat, CreatedAt: base.Add(40 * time.Second)},
	}
	st := bus.Stats{
		Total:     4,
		StartedAt: base,
		LastAt:    base.Add(40 * time.Second),
		PerMinute: 6,
	}
	roles := map[string]string{"Ada": "bot", "Grace": "bot", "Sam": "human", "Moderator": "moderator"}
	return New(events, st, "Remote work should be the default", "Grace", roles)
}

func TestSaveAndLoadJSONRoundTrip(t *testing.T) {
	doc := sampleDocument()
	path := filepath.Join(t.TempDir(), "debate.json")

	if err := Save(path, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Metadata.Topic != doc.Metadata.Topic {
		t.Errorf("topic = %q, want %q", loaded.Metadata.Topic, doc.Metadata.Topic)
	}
	if loaded.Metadata.Winner != "Grace" {
		t.Errorf("winner = %q, want Grace", loaded.Metadata.Winner)
	}
	if len(loaded.Messages) != 4 {
		t.Fatalf("loaded %d messages, want 4", len(loaded.Messages))
	}
	if loaded.Messages[2].Seq != 3 || loaded.Messages[2].Tag("trigger") != "silence_break" {
		t.Errorf("messages[2] = %+v", loaded.Messages[2])
	}
	if loaded.Roles["Ada"] != "bot" {
		t.Errorf("roles = %v", loaded.Roles)
	}
}

func TestTextExport(t *testing.T) {
	doc := sampleDocument()
	var b strings.Builder
	if err := Write(&b, doc, "txt"); err != nil {
		t.Fatalf("Write txt: %v", err)
	}
	out := b.String()

	for _, want := range []string{
		"=== DEBATE TRANSCRIPT ===",
		"Topic: Remote work should be the default",
		"Total Messages: 4",
		"Bot Responses: 2",
		"Silence Breaks: 1",
		"Winner: Grace",
		"[15:00:30] Grace: I disagree",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("txt export missing %q:\n%s", want, out)
		}
	}
}

func TestHTMLExportEscapesAndClassifies(t *testing.T) {
	doc := sampleDocument()
	doc.Messages[3].Body = "Is <b>bold</b> allowed?"

	var b strings.Builder
	if err := Write(&b, doc, "html"); err != nil {
		t.Fatalf("Write html: %v", err)
	}
	out := b.String()

	if !strings.Contains(out, "&lt;b&gt;bold&lt;/b&gt;") {
		t.Error("html export did not escape message body")
	}
	if !strings.Contains(out, `class="message bot"`) {
		t.Error("html export missing bot message class")
	}
	if !strings.Contains(out, `class="message moderator"`) {
		t.Error("html export missing moderator message class")
	}
	if !strings.Contains(out, "Opening argument<br>with two lines") {
		t.Error("html export did not convert newlines")
	}
}

func TestSaveRejectsUnknownExtension(t *testing.T) {
	if err := Save(filepath.Join(t.TempDir(), "debate.xml"), sampleDocument()); err == nil {
		t.Fatal("Save accepted unsupported extension")
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "debate.txt")
	if err := Save(path, sampleDocument()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat saved transcript: %v", err)
	}
}

func TestFormatForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.json", "json"},
		{"a.txt", "txt"},
		{"a.HTML", "html"},
		{"a.htm", "html"},
		{"a.xml", ""},
		{"a", ""},
	}
	for _, tt := range tests {
		if got := FormatForPath(tt.path); got != tt.want {
			t.Errorf("FormatForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestSendersAndSort(t *testing.T) {
	doc := sampleDocument()
	senders := Senders(doc.Messages)
	want := []string{"Moderator", "Ada", "Grace", "Sam"}
	if len(senders) != len(want) {
		t.Fatalf("Senders = %v", senders)
	}
	for i := range want {
		if senders[i] != want[i] {
			t.Errorf("senders[%d] = %q, want %q", i, senders[i], want[i])
		}
	}

	shuffled := []bus.Event{doc.Messages[2], doc.Messages[0], doc.Messages[3], doc.Messages[1]}
	SortBySeq(shuffled)
	for i, msg := range shuffled {
		if msg.Seq != int64(i+1) {
			t.Errorf("after sort seq[%d] = %d", i, msg.Seq)
		}
	}
}
