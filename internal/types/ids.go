// Package types holds the record shapes, enumerations, and error taxonomy
// shared by every memvault component. It has no dependency on storage,
// LLMs, or the CLI — everything here is a plain value type.
package types

import "regexp"

// Prefix identifies the record kind a 30-character id belongs to. New
// prefixes must be added to AllPrefixes, or idgen's Generator.Generate
// rejects them with ErrUnknownPrefix and ValidID reports their ids invalid.
type Prefix string

const (
	PrefixMessage   Prefix = "msg"
	PrefixSummary   Prefix = "sum"
	PrefixTask      Prefix = "tsk"
	PrefixEntry     Prefix = "ent"
	PrefixWorker    Prefix = "wrk"
	PrefixReport    Prefix = "rpt"
	PrefixBgTask    Prefix = "bgt"
	PrefixQueue     Prefix = "que"
	PrefixAlarm     Prefix = "alm"
	PrefixSession   Prefix = "ses"
	PrefixToolCall  Prefix = "tcl"
)

// AllPrefixes enumerates every known id prefix (§4.1).
var AllPrefixes = map[Prefix]bool{
	PrefixMessage:  true,
	PrefixSummary:  true,
	PrefixTask:     true,
	PrefixEntry:    true,
	PrefixWorker:   true,
	PrefixReport:   true,
	PrefixBgTask:   true,
	PrefixQueue:    true,
	PrefixAlarm:    true,
	PrefixSession:  true,
	PrefixToolCall: true,
}

// idPattern is the wire-format regexp from §6: 3 lowercase letters, `_`,
// 12 lowercase hex chars, 14 base62 chars.
var idPattern = regexp.MustCompile(`^[a-z]{3}_[0-9a-f]{12}[0-9A-Za-z]{14}$`)

// ValidID reports whether id matches the wire format and carries a known
// prefix. It does not attempt to parse the timestamp.
func ValidID(id string) bool {
	if !idPattern.MatchString(id) {
		return false
	}
	return AllPrefixes[Prefix(id[:3])]
}
