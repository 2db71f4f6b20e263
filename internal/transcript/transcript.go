// Package transcript exports a finished session's event log as JSON,
// plain text, or a styled HTML page, and loads JSON transcripts back.
package transcript

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ehrlich-b/palaver/internal/bus"
)

// Metadata describes the session the messages came from.
type Metadata struct {
	ExportedAt    time.Time `json:"exported_at"`
	Topic         string    `json:"topic,omitempty"`
	Winner        string    `json:"winner,omitempty"`
	TotalMessages int       `json:"total_messages"`
	Stats         bus.Stats `json:"statistics"`
}

// Document is a complete transcript.
type Document struct {
	Metadata Metadata    `json:"metadata"`
	Messages []bus.Event `json:"messages"`
	// Roles maps sender to "bot", "human", or "moderator" so readers
	// can render without knowing the session configuration.
	Roles map[string]string `json:"roles,omitempty"`
}

// New assembles a document from a bus snapshot.
func New(events []bus.Event, st bus.Stats, topic, winner string, roles map[string]string) Document {
	return Document{
		Metadata: Metadata{
			ExportedAt:    time.Now(),
			Topic:         topic,
			Winner:        winner,
			TotalMessages: len(events),
			Stats:         st,
		},
		Messages: events,
		Roles:    roles,
	}
}

// Save writes the document in the format implied by the file
// extension: .json, .txt, or .html.
func Save(path string, doc Document) error {
	format := FormatForPath(path)
	if format == "" {
		return fmt.Errorf("unsupported transcript extension: %s", filepath.Ext(path))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create transcript dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create transcript file: %w", err)
	}
	defer f.Close()
	return Write(f, doc, format)
}

// FormatForPath maps a file extension to a transcript format, empty
// when unsupported.
func FormatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".txt":
		return "txt"
	case ".html", ".htm":
		return "html"
	}
	return ""
}

// Write renders the document to w as "json", "txt", or "html".
func Write(w io.Writer, doc Document, format string) error {
	switch format {
	case "json":
		return writeJSON(w, doc)
	case "txt":
		return writeText(w, doc)
	case "html":
		return writeHTML(w, doc)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// Load reads a JSON transcript.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read transcript: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse transcript: %w", err)
	}
	return doc, nil
}

func writeJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeText(w io.Writer, doc Document) error {
	counts := roleCounts(doc)
	duration := doc.Metadata.Stats.LastAt.Sub(doc.Metadata.Stats.StartedAt)
	if duration < 0 {
		duration = 0
	}

	var b strings.Builder
	b.WriteString("=== DEBATE TRANSCRIPT ===\n")
	if doc.Metadata.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", doc.Metadata.Topic)
	}
	fmt.Fprintf(&b, "Session Duration: %.1f minutes\n", duration.Minutes())
	fmt.Fprintf(&b, "Total Messages: %d\n", len(doc.Messages))
	fmt.Fprintf(&b, "Bot Responses: %d\n", counts["bot"])
	fmt.Fprintf(&b, "Silence Breaks: %d\n", silenceBreaks(doc.Messages))
	if doc.Metadata.Winner != "" {
		fmt.Fprintf(&b, "Winner: %s\n", doc.Metadata.Winner)
	}
	b.WriteString("\n")

	for _, msg := range doc.Messages {
		fmt.Fprintf(&b, "[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.Sender, msg.Body)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

var htmlTmpl = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Debate Transcript</title>
<style>
body { font-family: Arial, sans-serif; margin: 20px; background: #f5f5f5; }
.header { background: white; padding: 20px; border-radius: 10px; margin-bottom: 20px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
.stats { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 15px; margin: 20px 0; }
.stat-card { background: white; padding: 15px; border-radius: 8px; text-align: center; box-shadow: 0 2px 5px rgba(0,0,0,0.1); }
.stat-value { font-size: 2em; font-weight: bold; color: #4f46e5; }
.stat-label { color: #666; margin-top: 5px; }
.message { margin: 10px 0; padding: 15px; border-left: 4px solid #ccc; background: white; border-radius: 0 8px 8px 0; }
.moderator { border-left-color: #8b5cf6; background: #faf5ff; }
.bot { border-left-color: #10b981; background: #f0fdf4; }
.human { border-left-color: #f59e0b; background: #fffbeb; }
.timestamp { color: #6c757d; font-size: 0.9em; }
.sender { font-weight: bold; margin-right: 10px; }
.content { margin-top: 8px; line-height: 1.5; }
</style>
</head>
<body>
<div class="header">
<h1>Debate Transcript</h1>
{{if .Topic}}<p><strong>Topic:</strong> {{.Topic}}</p>{{end}}
{{if .Winner}}<p><strong>Winner:</strong> {{.Winner}}</p>{{end}}
<p><strong>Session Duration:</strong> {{printf "%.1f" .DurationMinutes}} minutes</p>
<p><strong>Generated:</strong> {{.Generated}}</p>
</div>
<div class="stats">
<div class="stat-card"><div class="stat-value">{{.TotalMessages}}</div><div class="stat-label">Total Messages</div></div>
<div class="stat-card"><div class="stat-value">{{.BotResponses}}</div><div class="stat-label">Bot Responses</div></div>
<div class="stat-card"><div class="stat-value">{{.SilenceBreaks}}</div><div class="stat-label">Silence Breaks</div></div>
<div class="stat-card"><div class="stat-value">{{printf "%.1f" .PerMinute}}</div><div class="stat-label">Messages/Minute</div></div>
</div>
{{range .Messages}}
<div class="message {{.Class}}">
<div><span class="timestamp">[{{.Time}}]</span><span class="sender">{{.Sender}}:</span></div>
<div class="content">{{.Body}}</div>
</div>
{{end}}
</body>
</html>
`))

type htmlMessage struct {
	Class  string
	Time   string
	Sender string
	Body   template.HTML
}

type htmlPage struct {
	Topic           string
	Winner          string
	DurationMinutes float64
	Generated       string
	TotalMessages   int
	BotResponses    int
	SilenceBreaks   int
	PerMinute       float64
	Messages        []htmlMessage
}

func writeHTML(w io.Writer, doc Document) error {
	counts := roleCounts(doc)
	duration := doc.Metadata.Stats.LastAt.Sub(doc.Metadata.Stats.StartedAt)
	if duration < 0 {
		duration = 0
	}

	page := htmlPage{
		Topic:           doc.Metadata.Topic,
		Winner:          doc.Metadata.Winner,
		DurationMinutes: duration.Minutes(),
		Generated:       time.Now().Format("2006-01-02 15:04:05"),
		TotalMessages:   len(doc.Messages),
		BotResponses:    counts["bot"],
		SilenceBreaks:   silenceBreaks(doc.Messages),
		PerMinute:       doc.Metadata.Stats.PerMinute,
	}

	for _, msg := range doc.Messages {
		body := template.HTMLEscapeString(msg.Body)
		body = strings.ReplaceAll(body, "\n", "<br>")
		page.Messages = append(page.Messages, htmlMessage{
			Class:  classify(doc.Roles, msg),
			Time:   msg.CreatedAt.Format("15:04:05"),
			Sender: msg.Sender,
			Body:   template.HTML(body),
		})
	}

	return htmlTmpl.Execute(w, page)
}

// classify picks the css class for a message: moderator and system
// events render as moderator, everything else by the sender's role.
func classify(roles map[string]string, msg bus.Event) string {
	if msg.Kind == bus.KindModerator || msg.Kind == bus.KindSystem {
		return "moderator"
	}
	if role, ok := roles[msg.Sender]; ok {
		return role
	}
	return "human"
}

func roleCounts(doc Document) map[string]int {
	counts := make(map[string]int)
	for _, msg := range doc.Messages {
		if msg.Kind != bus.KindChat {
			continue
		}
		counts[classify(doc.Roles, msg)]++
	}
	return counts
}

// silenceBreaks counts chat events tagged by an agent as breaking a
// silent stretch.
func silenceBreaks(messages []bus.Event) int {
	n := 0
	for _, msg := range messages {
		if msg.Tag("trigger") == "silence_break" {
			n++
		}
	}
	return n
}

// Senders lists every distinct sender in first-appearance order.
func Senders(messages []bus.Event) []string {
	seen := make(map[string]bool)
	var out []string
	for _, msg := range messages {
		if !seen[msg.Sender] {
			seen[msg.Sender] = true
			out = append(out, msg.Sender)
		}
	}
	return out
}

// SortBySeq orders messages by sequence number, for documents
// assembled from multiple sources.
func SortBySeq(messages []bus.Event) {
	sort.Slice(messages, func(i, j int) bool { return messages[i].Seq < messages[j].Seq })
}
