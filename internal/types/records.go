package types

import "time"

// MessageKind is a closed enumeration with an explicit fallback arm for
// forward compatibility (§9 Design Notes).
type MessageKind string

const (
	MessageUser       MessageKind = "user"
	MessageAssistant  MessageKind = "assistant"
	MessageToolCall   MessageKind = "tool_call"
	MessageToolResult MessageKind = "tool_result"
	MessageSystem     MessageKind = "system"
	MessageUnknown    MessageKind = "unknown"
)

// Message is an append-only record in the temporal log (§3). Once written
// it is never mutated.
type Message struct {
	ID            string
	Kind          MessageKind
	Content       string
	TokenEstimate int
	CreatedAt     time.Time
}

// Summary is an immutable distillation covering the inclusive id range
// [StartID, EndID] (§3). OrderNum 1 distills messages; OrderNum N>1
// distills order-(N-1) summaries.
type Summary struct {
	ID               string
	OrderNum         int
	StartID          string
	EndID            string
	Narrative        string
	KeyObservations  []string
	Tags             []string
	TokenEstimate    int
	CreatedAt        time.Time
}

// AgentRole is the closed enum of actors allowed to mutate LTM entries
// (§4.8). Unknown values are accepted as free text but SHOULD be validated
// at the boundary — see ValidAgentRole.
type AgentRole string

const (
	RoleMain          AgentRole = "main"
	RoleLTMConsolidate AgentRole = "ltm-consolidate"
	RoleLTMReflect    AgentRole = "ltm-reflect"
	RoleResearch      AgentRole = "research"
)

// ValidAgentRole reports whether role is one of the closed enum members.
func ValidAgentRole(role AgentRole) bool {
	switch role {
	case RoleMain, RoleLTMConsolidate, RoleLTMReflect, RoleResearch:
		return true
	default:
		return false
	}
}

// Entry is a versioned node in the LTM forest (§3, §4.8).
type Entry struct {
	Slug       string
	ParentSlug *string
	Path       string
	Title      string
	Body       string
	Links      []string
	Version    int
	CreatedBy  AgentRole
	UpdatedBy  AgentRole
	ArchivedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// WorkerStatus is the closed lifecycle enum for background workers (§3).
type WorkerStatus string

const (
	WorkerPending   WorkerStatus = "pending"
	WorkerRunning   WorkerStatus = "running"
	WorkerCompleted WorkerStatus = "completed"
	WorkerFailed    WorkerStatus = "failed"
	WorkerKilled    WorkerStatus = "killed"
)

// WorkerKind identifies what a background worker does. "temporal-compact"
// is the one kind the core spawns itself (C6/C7); others are reserved for
// callers layering their own background work on C9.
type WorkerKind string

const (
	WorkerKindTemporalCompact WorkerKind = "temporal-compact"
)

// Worker is a C9 worker-lifecycle record.
type Worker struct {
	ID          string
	Kind        WorkerKind
	Status      WorkerStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       *string
}

// BackgroundReport is a C9 report-queue entry.
type BackgroundReport struct {
	ID         string
	Subsystem  string
	Report     string // opaque JSON
	CreatedAt  time.Time
	SurfacedAt *time.Time
}

// BackgroundTask is a C9 background-task record, distinct from the
// compaction Worker record: it represents arbitrary caller-scheduled work
// rather than C7's own compaction runs.
type BackgroundTask struct {
	ID          string
	Kind        string
	Description string
	Status      WorkerStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
	Result      *string // opaque JSON
	Error       *string
}

// TaskResultQueueEntry is a single FIFO entry in the task-result queue.
type TaskResultQueueEntry struct {
	ID        string
	TaskID    string
	CreatedAt time.Time
	Content   string
}

// Alarm is a C9 scheduled wakeup.
type Alarm struct {
	ID      string
	FiresAt time.Time
	Note    string
	Fired   bool
}

// TaskState is one entry in a PresentState's ordered task sequence.
type TaskState struct {
	ID            string
	Content       string
	Status        string
	BlockedReason *string
}

// PresentState is the one-row singleton describing current mission/status.
type PresentState struct {
	Mission string
	Status  string
	Tasks   []TaskState
}
