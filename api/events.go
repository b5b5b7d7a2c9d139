// Package api defines the wire protocol between the realm engine and its
// clients: the preview iframe, the web panel, the file watcher, and the
// editor. Every frame on the wire is one Event, tagged with a Kind from the
// closed vocabulary below.
package api

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags one event variant.
type Kind string

const (
	KindSelection            Kind = "selection"
	KindStyleChanged         Kind = "style-changed"
	KindTextChanged          Kind = "text-changed"
	KindClassChanged         Kind = "class-changed"
	KindCommitRequested      Kind = "commit-requested"
	KindCommitCompleted      Kind = "commit-completed"
	KindRollbackRequested    Kind = "rollback-requested"
	KindRolledBack           Kind = "rolled-back"
	KindConflict             Kind = "conflict"
	KindTransactionStarted   Kind = "transaction-started"
	KindTransactionCompleted Kind = "transaction-completed"
	KindTransactionFailed    Kind = "transaction-failed"
	KindFileChanged          Kind = "file-changed"
	KindClientConnected      Kind = "client-connected"
	KindClientDisconnected   Kind = "client-disconnected"
	KindError                Kind = "error"
)

// Kinds lists every valid event kind.
func Kinds() []Kind {
	return []Kind{
		KindSelection, KindStyleChanged, KindTextChanged, KindClassChanged,
		KindCommitRequested, KindCommitCompleted, KindRollbackRequested,
		KindRolledBack, KindConflict, KindTransactionStarted,
		KindTransactionCompleted, KindTransactionFailed, KindFileChanged,
		KindClientConnected, KindClientDisconnected, KindError,
	}
}

// Source identifies which class of client produced an event. The engine does
// not authenticate beyond this declared tag.
type Source string

const (
	SourcePanel       Source = "panel"
	SourceDOM         Source = "dom"
	SourceFileWatcher Source = "file-watcher"
	SourceSystem      Source = "system"
	SourceEditor      Source = "editor"
)

// Meta carries the fields shared by every event.
type Meta struct {
	ID        string
	Timestamp int64 // epoch millis
	Source    Source
}

// NewMeta returns a Meta stamped with a fresh ID and the current time.
func NewMeta(source Source) Meta {
	return Meta{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Source:    source,
	}
}

// Time returns the event timestamp as a time.Time.
func (m Meta) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Event is the closed union of protocol messages. Kind discriminates the
// concrete type; dispatch sites switch on it exhaustively.
type Event interface {
	Kind() Kind
	EventMeta() Meta
}

// Selection reports that a client highlighted an element.
type Selection struct {
	Meta
	RealmID string
}

// StyleChanged carries an inline-style edit. Preview edits are visual only;
// non-preview edits go straight to the commit path.
type StyleChanged struct {
	Meta
	RealmID     string
	Styles      map[string]string
	Preview     bool
	BaseVersion int
}

// TextChanged carries a direct-text edit.
type TextChanged struct {
	Meta
	RealmID     string
	Text        string
	Preview     bool
	BaseVersion int
}

// ClassChanged carries a className edit.
type ClassChanged struct {
	Meta
	RealmID     string
	ClassName   string
	Preview     bool
	BaseVersion int
}

// CommitRequested asks the engine to persist the pending preview (or the
// inline values carried here) into the source file.
type CommitRequested struct {
	Meta
	RealmID     string
	Selector    string
	FilePath    string
	BaseVersion int
	Styles      map[string]string
	Text        *string
	ClassName   *string
}

// CommitCompleted confirms a persisted edit and the new element version.
type CommitCompleted struct {
	Meta
	RealmID string
	Version int
}

// RollbackRequested discards the pending preview for an element.
type RollbackRequested struct {
	Meta
	RealmID string
}

// RolledBack tells clients to revert their local DOM mutation.
type RolledBack struct {
	Meta
	RealmID string
}

// Conflict reports a stale commit under the manual resolution policy.
type Conflict struct {
	Meta
	RealmID         string
	LocalVersion    int
	IncomingVersion int
}

// TransactionStarted brackets the beginning of a persist attempt.
type TransactionStarted struct {
	Meta
	TxID    string
	RealmID string
}

// TransactionCompleted brackets a successful persist.
type TransactionCompleted struct {
	Meta
	TxID    string
	RealmID string
}

// TransactionFailed brackets a failed persist. The source file is untouched.
type TransactionFailed struct {
	Meta
	TxID    string
	RealmID string
	Error   string
}

// FileChanged reports an on-disk modification, whoever made it.
type FileChanged struct {
	Meta
	FilePath         string
	AffectedRealmIDs []string
}

// ClientConnected announces a new transport client.
type ClientConnected struct {
	Meta
	ClientID string
}

// ClientDisconnected announces a departed transport client.
type ClientDisconnected struct {
	Meta
	ClientID string
}

// Error reports a protocol-level failure back to clients.
type Error struct {
	Meta
	Message string
}

func (Selection) Kind() Kind            { return KindSelection }
func (StyleChanged) Kind() Kind         { return KindStyleChanged }
func (TextChanged) Kind() Kind          { return KindTextChanged }
func (ClassChanged) Kind() Kind         { return KindClassChanged }
func (CommitRequested) Kind() Kind      { return KindCommitRequested }
func (CommitCompleted) Kind() Kind      { return KindCommitCompleted }
func (RollbackRequested) Kind() Kind    { return KindRollbackRequested }
func (RolledBack) Kind() Kind           { return KindRolledBack }
func (Conflict) Kind() Kind             { return KindConflict }
func (TransactionStarted) Kind() Kind   { return KindTransactionStarted }
func (TransactionCompleted) Kind() Kind { return KindTransactionCompleted }
func (TransactionFailed) Kind() Kind    { return KindTransactionFailed }
func (FileChanged) Kind() Kind          { return KindFileChanged }
func (ClientConnected) Kind() Kind      { return KindClientConnected }
func (ClientDisconnected) Kind() Kind   { return KindClientDisconnected }
func (Error) Kind() Kind                { return KindError }

func (e Selection) EventMeta() Meta            { return e.Meta }
func (e StyleChanged) EventMeta() Meta         { return e.Meta }
func (e TextChanged) EventMeta() Meta          { return e.Meta }
func (e ClassChanged) EventMeta() Meta         { return e.Meta }
func (e CommitRequested) EventMeta() Meta      { return e.Meta }
func (e CommitCompleted) EventMeta() Meta      { return e.Meta }
func (e RollbackRequested) EventMeta() Meta    { return e.Meta }
func (e RolledBack) EventMeta() Meta           { return e.Meta }
func (e Conflict) EventMeta() Meta             { return e.Meta }
func (e TransactionStarted) EventMeta() Meta   { return e.Meta }
func (e TransactionCompleted) EventMeta() Meta { return e.Meta }
func (e TransactionFailed) EventMeta() Meta    { return e.Meta }
func (e FileChanged) EventMeta() Meta          { return e.Meta }
func (e ClientConnected) EventMeta() Meta      { return e.Meta }
func (e ClientDisconnected) EventMeta() Meta   { return e.Meta }
func (e Error) EventMeta() Meta                { return e.Meta }
