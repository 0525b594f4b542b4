package event

import (
	"time"

	"github.com/Iron-Ham/elmctl/internal/element"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "element.signed_out").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeSignedOut      = "element.signed_out"
	TypeSignedIn       = "element.signed_in"
	TypeRetrieved      = "element.retrieved"
	TypeUploaded       = "element.uploaded"
	TypeConflict       = "element.conflict"
	TypeEdited         = "element.edited"
	TypeBatchCompleted = "batch.completed"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// -----------------------------------------------------------------------------
// Lock Events
// -----------------------------------------------------------------------------

// SignedOutEvent is emitted when the remote grants a sign-out lock.
type SignedOutEvent struct {
	baseEvent
	Path       element.Path
	CCID       string
	Overridden bool // lock was taken from another holder
}

// NewSignedOutEvent creates a SignedOutEvent.
func NewSignedOutEvent(path element.Path, ccid string, overridden bool) SignedOutEvent {
	return SignedOutEvent{
		baseEvent:  newBaseEvent(TypeSignedOut),
		Path:       path,
		CCID:       ccid,
		Overridden: overridden,
	}
}

// SignedInEvent is emitted when a lock held by this process is released.
type SignedInEvent struct {
	baseEvent
	Path element.Path
}

// NewSignedInEvent creates a SignedInEvent.
func NewSignedInEvent(path element.Path) SignedInEvent {
	return SignedInEvent{baseEvent: newBaseEvent(TypeSignedIn), Path: path}
}

// -----------------------------------------------------------------------------
// Content Events
// -----------------------------------------------------------------------------

// RetrievedEvent is emitted when an element's content has been fetched.
type RetrievedEvent struct {
	baseEvent
	Path        element.Path
	Fingerprint element.Fingerprint
	SignedOut   bool
	Dependency  bool // fetched as part of another element's dependency closure
}

// NewRetrievedEvent creates a RetrievedEvent.
func NewRetrievedEvent(path element.Path, fp element.Fingerprint, signedOut, dependency bool) RetrievedEvent {
	return RetrievedEvent{
		baseEvent:   newBaseEvent(TypeRetrieved),
		Path:        path,
		Fingerprint: fp,
		SignedOut:   signedOut,
		Dependency:  dependency,
	}
}

// UploadedEvent is emitted when the remote accepts an update.
type UploadedEvent struct {
	baseEvent
	Path       element.Path
	ReturnCode int
	Messages   []string
}

// NewUploadedEvent creates an UploadedEvent.
func NewUploadedEvent(path element.Path, rc int, messages []string) UploadedEvent {
	return UploadedEvent{
		baseEvent:  newBaseEvent(TypeUploaded),
		Path:       path,
		ReturnCode: rc,
		Messages:   messages,
	}
}

// ConflictEvent is emitted when an upload is rejected because the remote
// version moved on, after the merge view has been presented.
type ConflictEvent struct {
	baseEvent
	Path              element.Path
	LocalFingerprint  element.Fingerprint
	RemoteFingerprint element.Fingerprint
	Resolution        string
}

// NewConflictEvent creates a ConflictEvent.
func NewConflictEvent(path element.Path, local, remote element.Fingerprint, resolution string) ConflictEvent {
	return ConflictEvent{
		baseEvent:         newBaseEvent(TypeConflict),
		Path:              path,
		LocalFingerprint:  local,
		RemoteFingerprint: remote,
		Resolution:        resolution,
	}
}

// EditedEvent is emitted by the edit session when a local element file is saved.
type EditedEvent struct {
	baseEvent
	File string
}

// NewEditedEvent creates an EditedEvent.
func NewEditedEvent(file string) EditedEvent {
	return EditedEvent{baseEvent: newBaseEvent(TypeEdited), File: file}
}

// -----------------------------------------------------------------------------
// Batch Events
// -----------------------------------------------------------------------------

// BatchCompletedEvent is emitted once a checkout batch has been fully reported.
type BatchCompletedEvent struct {
	baseEvent
	BatchID   string
	Requested int
	Succeeded int
	Failed    int
}

// NewBatchCompletedEvent creates a BatchCompletedEvent.
func NewBatchCompletedEvent(batchID string, requested, succeeded, failed int) BatchCompletedEvent {
	return BatchCompletedEvent{
		baseEvent: newBaseEvent(TypeBatchCompleted),
		BatchID:   batchID,
		Requested: requested,
		Succeeded: succeeded,
		Failed:    failed,
	}
}
