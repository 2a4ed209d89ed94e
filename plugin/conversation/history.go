package conversation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Daegonica/grokprime/plugin/llm"
	"github.com/Daegonica/grokprime/plugin/persona"
)

// summaryMarkerPrefix wraps an injected summary so it can be detected and
// stripped later. The wrapped message is system-role.
const (
	summaryMarkerPrefix = "[Previous conversation summary: "
	summaryMarkerSuffix = "]"
)

// Record is the on-disk projection of a conversation, independent of the
// in-memory continuation token.
type Record struct {
	PersonaName        string        `json:"persona_name"`
	Summary            *string       `json:"summary"`
	RecentMessages     []llm.Message `json:"recent_messages"`
	TotalMessageCount  int           `json:"total_message_count"`
	LastUpdated        string        `json:"last_updated"`
	SummarizationCount int           `json:"summarization_count"`
}

// WrapSummary builds the synthetic system message carrying a summary.
func WrapSummary(summary string) llm.Message {
	return llm.Message{
		Role:    llm.RoleSystem,
		Content: summaryMarkerPrefix + summary + summaryMarkerSuffix,
	}
}

// ExtractSummary returns the summary text if msg is a wrapped summary.
func ExtractSummary(msg llm.Message) (string, bool) {
	if msg.Role != llm.RoleSystem {
		return "", false
	}
	inner, ok := strings.CutPrefix(msg.Content, summaryMarkerPrefix)
	if !ok {
		return "", false
	}
	return strings.CutSuffix(inner, summaryMarkerSuffix)
}

// IsSummaryMessage reports whether msg is a wrapped summary marker.
func IsSummaryMessage(msg llm.Message) bool {
	_, ok := ExtractSummary(msg)
	return ok
}

// sanitizeName keeps persona names safe for use as path segments.
// Anything outside [A-Za-z0-9._-] maps to '_'; an empty result becomes
// "persona".
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "persona"
	}
	return out
}

// Store persists history records and archive snapshots as flat JSON files
// under the data directory:
//
//	<root>/personas/<name>/history/<name>_history.json
//	<root>/archives/<name>_<timestamp>.json
type Store struct {
	root string
}

// NewStore creates a history store rooted at the data directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) historyPath(personaName string) string {
	name := sanitizeName(personaName)
	return filepath.Join(s.root, "personas", name, "history", name+"_history.json")
}

// Exists reports whether a history file is present for the persona.
func (s *Store) Exists(personaName string) bool {
	_, err := os.Stat(s.historyPath(personaName))
	return err == nil
}

// Load reads the persisted record. A missing file returns (nil, nil): no
// history is not an error. A corrupt file returns an error the caller is
// expected to log and treat as no history.
func (s *Store) Load(personaName string) (*Record, error) {
	path := s.historyPath(personaName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read history file %s", path)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrapf(err, "invalid history file %s", path)
	}
	slog.Info("loaded history", "persona", personaName,
		"total_messages", rec.TotalMessageCount, "recent", len(rec.RecentMessages))
	return &rec, nil
}

// Save writes the record, creating directories as needed.
func (s *Store) Save(rec *Record) error {
	path := s.historyPath(rec.PersonaName)
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return errors.Wrapf(err, "failed to create history directory for %s", rec.PersonaName)
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal history record")
	}
	if err := os.WriteFile(path, raw, 0o660); err != nil {
		return errors.Wrapf(err, "failed to write history file %s", path)
	}
	slog.Info("saved history", "persona", rec.PersonaName, "recent", len(rec.RecentMessages))
	return nil
}

// Delete removes the history file for a persona.
func (s *Store) Delete(personaName string) error {
	if err := os.Remove(s.historyPath(personaName)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete history for %s", personaName)
	}
	return nil
}

// Archive writes the full pre-compaction log to a timestamped snapshot and
// returns its path. This is the only safety net against lossy summarization.
func (s *Store) Archive(personaName string, log []llm.Message) (string, error) {
	dir := filepath.Join(s.root, "archives")
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", errors.Wrap(err, "failed to create archive directory")
	}

	stamp := time.Now().Format("2006-01-02_15-04-05")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", sanitizeName(personaName), stamp))

	raw, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal archive")
	}
	if err := os.WriteFile(path, raw, 0o660); err != nil {
		return "", errors.Wrapf(err, "failed to write archive %s", path)
	}
	slog.Info("archived full history", "persona", personaName, "path", path, "messages", len(log))
	return path, nil
}

// Snapshot projects the current conversation into a persistable record:
// the last historyMessageLimit messages verbatim, the current summary (if
// one is injected in the log), and the running counters.
func Snapshot(c *Conversation) *Record {
	log := c.Log()
	limit := c.Persona().HistoryMessageLimit

	recentStart := 1
	if len(log) > limit+1 {
		recentStart = len(log) - limit
	}
	// Never persist the system prefix or the injected summary marker as
	// recent messages.
	recent := make([]llm.Message, 0, len(log)-recentStart)
	for _, msg := range log[recentStart:] {
		if msg.Role == llm.RoleSystem {
			continue
		}
		recent = append(recent, msg)
	}

	var summary *string
	for _, msg := range log {
		if text, ok := ExtractSummary(msg); ok {
			summary = &text
			break
		}
	}

	total := 0
	for _, msg := range log {
		if msg.Role != llm.RoleSystem {
			total++
		}
	}

	return &Record{
		PersonaName:        c.Persona().Name,
		Summary:            summary,
		RecentMessages:     recent,
		TotalMessageCount:  total,
		LastUpdated:        time.Now().UTC().Format(time.RFC3339),
		SummarizationCount: c.SummarizationCount(),
	}
}

// BuildLog reconstructs an in-memory log from a loaded record:
// [system prompt, wrapped summary?, recent messages...].
func BuildLog(p *persona.Persona, rec *Record) []llm.Message {
	log := []llm.Message{{Role: llm.RoleSystem, Content: p.SystemPrompt}}
	if rec == nil {
		return log
	}
	if rec.Summary != nil && *rec.Summary != "" {
		log = append(log, WrapSummary(*rec.Summary))
	}
	log = append(log, rec.RecentMessages...)
	return log
}
