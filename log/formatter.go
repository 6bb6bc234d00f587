package log

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Level represents the severity of a human-facing CLI log entry. This is
// distinct from slog.Level: the analysis core logs through Logger above,
// while cmd/evmsa's own run narration (block counts, timing, the summary
// line) goes through a Formatter so --log.format can pick text/json/color
// independently of the core's structured JSON stream.
type Level int

const (
	// DEBUG is the most verbose level, used for per-iteration diagnostics.
	DEBUG Level = iota
	// INFO is for general run narration.
	INFO
	// WARN indicates a potentially harmful situation (a bailout, a
	// widening event).
	WARN
	// ERROR indicates a failure that does not stop the whole run.
	ERROR
	// FATAL indicates a failure that aborts the run.
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// String returns the uppercase name of the level.
func (l Level) String() string {
	if l < DEBUG || int(l) >= len(levelNames) {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// LevelFromString parses a level from its string representation. The match
// is case-insensitive; unrecognised strings return INFO.
func LevelFromString(s string) Level {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		return WARN
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i)
		}
	}
	return INFO
}

// Entry holds one run-narration event: when it happened, how severe it is,
// which analysis subsystem produced it, and any structured fields.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Module    string
	Message   string
	Fields    map[string]interface{}
}

// Formatter formats an Entry into a printable line.
type Formatter interface {
	Format(entry Entry) string
}

// formatValue renders a single field value for the text formatters.
// Analysis values (Variables, stacks, locations) carry their own Stringer
// with the ⊤/⊥ glyph rendering, so those are passed through; a nil value
// is shown as the Bottom glyph, matching the lattice diagnostics the rest
// of the run prints; strings containing whitespace are quoted so field
// boundaries stay parseable.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "⊥"
	case fmt.Stringer:
		return t.String()
	case string:
		if strings.ContainsAny(t, " \t") {
			return fmt.Sprintf("%q", t)
		}
		return t
	case time.Duration:
		return t.Round(time.Millisecond).String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// appendFields writes "  key=value" pairs, sorted by key for deterministic
// output.
func appendFields(b *strings.Builder, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("  ")
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatValue(fields[k]))
	}
}

// ---------------------------------------------------------------------------
// TextFormatter
// ---------------------------------------------------------------------------

// TextFormatter renders run narration as plain text:
//
//	[   0.532s] INFO  analysis: stacks stable  iterations=3
//
// With a zero Start, the wall clock is printed instead of the elapsed
// offset; an analysis run usually cares how long it has been churning, not
// what time of day it is.
type TextFormatter struct {
	// Start anchors the elapsed-seconds column. Zero means print the
	// wall-clock time of each entry instead.
	Start time.Time
}

// Format produces a plain-text line for the given entry.
func (f *TextFormatter) Format(entry Entry) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(f.stamp(entry.Timestamp))
	b.WriteString("] ")
	fmt.Fprintf(&b, "%-5s ", entry.Level)
	if entry.Module != "" {
		b.WriteString(entry.Module)
		b.WriteString(": ")
	}
	b.WriteString(entry.Message)
	appendFields(&b, entry.Fields)
	return b.String()
}

func (f *TextFormatter) stamp(t time.Time) string {
	if f.Start.IsZero() {
		return t.Format("15:04:05.000")
	}
	return fmt.Sprintf("%8.3fs", t.Sub(f.Start).Seconds())
}

// ---------------------------------------------------------------------------
// JSONFormatter
// ---------------------------------------------------------------------------

// JSONFormatter renders one JSON object per line, with the structured
// fields kept under their own "data" key rather than flattened into the
// envelope, so a field named "level" or "msg" can never shadow the
// entry's own metadata.
type JSONFormatter struct{}

// jsonEnvelope fixes the key order of the serialised entry.
type jsonEnvelope struct {
	Time   string                 `json:"time"`
	Level  string                 `json:"level"`
	Module string                 `json:"module,omitempty"`
	Msg    string                 `json:"msg"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// Format produces a JSON string for the given entry.
func (f *JSONFormatter) Format(entry Entry) string {
	env := jsonEnvelope{
		Time:   entry.Timestamp.Format(time.RFC3339Nano),
		Level:  entry.Level.String(),
		Module: entry.Module,
		Msg:    entry.Message,
	}
	if len(entry.Fields) > 0 {
		env.Data = make(map[string]interface{}, len(entry.Fields))
		for k, v := range entry.Fields {
			// Stringer-backed analysis values marshal as their diagnostic
			// rendering; raw structs full of unexported lattice state would
			// otherwise serialise as "{}".
			if s, ok := v.(fmt.Stringer); ok {
				env.Data[k] = s.String()
			} else {
				env.Data[k] = v
			}
		}
	}
	out, err := json.Marshal(env)
	if err != nil {
		// Logging must never fail the run; drop the offending fields and
		// keep the envelope.
		env.Data = nil
		out, _ = json.Marshal(env)
	}
	return string(out)
}

// ---------------------------------------------------------------------------
// ColorFormatter
// ---------------------------------------------------------------------------

// ANSI escape codes used by ColorFormatter.
const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
	ansiBold   = "\033[1m"
)

// levelBadges are the fixed-width colored badges ColorFormatter prints in
// place of the full level names.
var levelBadges = [...]struct {
	badge string
	color string
}{
	{"DBG", ansiDim},
	{"INF", ansiGreen},
	{"WRN", ansiYellow},
	{"ERR", ansiRed},
	{"FTL", ansiBold + ansiRed},
}

// ColorFormatter renders run narration as ANSI-colored text: a short
// colored severity badge, the module tag in cyan, and dimmed field keys,
// tuned for watching an analysis converge in a terminal.
type ColorFormatter struct {
	// Start anchors the elapsed-seconds column, as in TextFormatter.
	Start time.Time
}

// Format produces a colored text line for the given entry.
func (f *ColorFormatter) Format(entry Entry) string {
	badge, color := "???", ansiReset
	if entry.Level >= DEBUG && int(entry.Level) < len(levelBadges) {
		badge = levelBadges[entry.Level].badge
		color = levelBadges[entry.Level].color
	}

	text := TextFormatter{Start: f.Start}

	var b strings.Builder
	b.WriteString(ansiDim)
	b.WriteByte('[')
	b.WriteString(text.stamp(entry.Timestamp))
	b.WriteByte(']')
	b.WriteString(ansiReset)
	b.WriteByte(' ')
	b.WriteString(color)
	b.WriteString(badge)
	b.WriteString(ansiReset)
	b.WriteByte(' ')
	if entry.Module != "" {
		b.WriteString(ansiCyan)
		b.WriteString(entry.Module)
		b.WriteString(ansiReset)
		b.WriteString(": ")
	}
	b.WriteString(entry.Message)
	for _, k := range fieldKeys(entry.Fields) {
		b.WriteString("  ")
		b.WriteString(ansiDim)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(ansiReset)
		b.WriteString(formatValue(entry.Fields[k]))
	}
	return b.String()
}

func fieldKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatterFromName returns the Formatter for the --log.format names
// ("text", "json", or "color"), defaulting to TextFormatter for anything
// else.
func FormatterFromName(name string) Formatter {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return &JSONFormatter{}
	case "color":
		return &ColorFormatter{}
	default:
		return &TextFormatter{}
	}
}
