// Package task provides the vicky task data model shared by the client and the mock backend.
package task

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State represents the lifecycle state of a task.
type State string

const (
	// StateNeedsUserValidation indicates the task waits for a user to confirm it.
	StateNeedsUserValidation State = "NEEDS_USER_VALIDATION"

	// StateNew indicates the task is waiting to be claimed by a worker.
	StateNew State = "NEW"

	// StateRunning indicates a worker claimed the task and is executing it.
	StateRunning State = "RUNNING"

	// StateFinished indicates the task reached a result.
	StateFinished State = "FINISHED"
)

// Result is the outcome of a finished task.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultError   Result = "ERROR"
	ResultTimeout Result = "TIMEOUT"
	ResultCancel  Result = "CANCEL"
)

// statusSeparator joins state and result in status filter tokens.
const statusSeparator = "::"

// Status is the state of a task plus its result once finished.
type Status struct {
	State  State  `json:"state"`
	Result Result `json:"result,omitempty"`
}

// Token renders the status as a filter token, e.g. "RUNNING" or "FINISHED::SUCCESS".
func (s Status) Token() StatusFilter {
	if s.State == StateFinished && s.Result != "" {
		return StatusFilter(string(s.State) + statusSeparator + string(s.Result))
	}
	return StatusFilter(s.State)
}

// IsFinished returns true if the task reached a result.
func (s Status) IsFinished() bool {
	return s.State == StateFinished
}

// IsFailed returns true for every finished result other than success.
func (s Status) IsFailed() bool {
	return s.State == StateFinished && s.Result != ResultSuccess
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s.Token())
}

// StatusFilter is a status filter token as accepted by the tasks endpoints.
// The zero value selects every status.
type StatusFilter string

// AllStatuses is the filter that does not restrict by status.
const AllStatuses StatusFilter = ""

// ParseStatusFilter validates a filter token.
func ParseStatusFilter(token string) (StatusFilter, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AllStatuses, nil
	}
	if _, err := token2Status(token); err != nil {
		return "", err
	}
	return StatusFilter(token), nil
}

// Matches reports whether a status satisfies the filter.
// A bare FINISHED filter matches every result.
func (f StatusFilter) Matches(s Status) bool {
	if f == AllStatuses {
		return true
	}
	want, err := token2Status(string(f))
	if err != nil {
		return false
	}
	if want.State != s.State {
		return false
	}
	return want.Result == "" || want.Result == s.Result
}

func token2Status(token string) (Status, error) {
	state, result, hasResult := strings.Cut(token, statusSeparator)
	st := Status{State: State(state)}
	switch st.State {
	case StateNeedsUserValidation, StateNew, StateRunning:
		if hasResult {
			return Status{}, fmt.Errorf("status %s cannot carry a result", state)
		}
		return st, nil
	case StateFinished:
		if !hasResult {
			return st, nil
		}
		switch Result(result) {
		case ResultSuccess, ResultError, ResultTimeout, ResultCancel:
			st.Result = Result(result)
			return st, nil
		}
		return Status{}, fmt.Errorf("unknown task result: %s", result)
	}
	return Status{}, fmt.Errorf("unknown task state: %s", state)
}

// LockKind is the access mode of a lock.
type LockKind string

const (
	LockRead  LockKind = "READ"
	LockWrite LockKind = "WRITE"
	LockClean LockKind = "CLEAN"
)

// Lock is a named resource held by a task.
type Lock struct {
	// ID identifies this lock row. Unlocking a poisoned lock addresses it by ID.
	ID   string   `json:"id,omitempty"`
	Name string   `json:"name"`
	Kind LockKind `json:"type"`
	// PoisonedBy is the id of the failed task that poisoned the lock, if any.
	PoisonedBy string `json:"poisoned,omitempty"`
}

// IsPoisoned returns true if a failed task left the lock poisoned.
func (l Lock) IsPoisoned() bool {
	return l.PoisonedBy != ""
}

// ConflictsWith reports whether two locks cannot be held at the same time. Locks on
// different names never conflict; a poisoned lock blocks its name for everyone.
func (l Lock) ConflictsWith(other Lock) bool {
	if l.Name != other.Name {
		return false
	}
	if l.IsPoisoned() || other.IsPoisoned() {
		return true
	}
	return l.Kind != LockRead || other.Kind != LockRead
}

// PoisonedLock is a poisoned lock together with the task that poisoned it.
type PoisonedLock struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     LockKind `json:"type"`
	Poisoned Task     `json:"poisoned"`
}

// FlakeRef points at the nix flake a task runs.
type FlakeRef struct {
	Flake string   `json:"flake"`
	Args  []string `json:"args,omitempty"`
}

// Task is a unit of work tracked by the vicky backend.
type Task struct {
	// ID is the opaque identifier of the task.
	ID string `json:"id"`

	// DisplayName is the human readable task name.
	DisplayName string `json:"display_name"`

	// Status is the lifecycle state and result.
	Status Status `json:"status"`

	// Locks held by the task.
	Locks []Lock `json:"locks"`

	// FlakeRef is the flake the worker executes.
	FlakeRef FlakeRef `json:"flake_ref"`

	// Features are the worker features the task requires.
	Features []string `json:"features,omitempty"`

	// Group is an optional label used for filtering.
	Group string `json:"group,omitempty"`

	CreatedAt     Timestamp `json:"created_at"`
	ClaimedAt     Timestamp `json:"claimed_at"`
	FinishedAt    Timestamp `json:"finished_at"`
	LastHeartbeat Timestamp `json:"last_heartbeat"`
}

// Duration returns how long the task ran. The second value is false until the task
// was both claimed and finished. Clock skew never yields a negative duration.
func (t *Task) Duration() (time.Duration, bool) {
	if t.ClaimedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0, false
	}
	d := t.FinishedAt.Sub(t.ClaimedAt.Time)
	if d < 0 {
		d = 0
	}
	return d, true
}

// Elapsed is like Duration but measures running tasks against now.
func (t *Task) Elapsed(now time.Time) time.Duration {
	if d, ok := t.Duration(); ok {
		return d
	}
	if t.ClaimedAt.IsZero() {
		return 0
	}
	d := now.Sub(t.ClaimedAt.Time)
	if d < 0 {
		return 0
	}
	return d
}

// Timestamp is a point in time encoded as unix seconds. The zero value encodes as null.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to whole seconds.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: time.Unix(t.Unix(), 0)}
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return NewTimestamp(time.Now())
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(ts.Unix(), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == "" {
		ts.Time = time.Time{}
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("failed to parse timestamp %s: %w", s, err)
	}
	ts.Time = time.Unix(int64(secs), 0)
	return nil
}

// Role is the role of a signed-in user.
type Role string

// RoleAdmin is currently the only role the backend hands out.
const RoleAdmin Role = "admin"

// User is the signed-in account.
type User struct {
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// WebConfig is the identity-provider configuration served before login.
type WebConfig struct {
	Authority string `json:"authority"`
	ClientID  string `json:"client_id"`
}

// Query selects a page of tasks.
type Query struct {
	Status StatusFilter
	Group  string
	Limit  int
	Offset int
}

// Page returns the 1-based page number for the query's offset.
func (q Query) Page() int {
	if q.Limit <= 0 {
		return 1
	}
	return q.Offset/q.Limit + 1
}

// WithPage returns a copy of the query pointing at the given 1-based page.
func (q Query) WithPage(page int) Query {
	if page < 1 {
		page = 1
	}
	q.Offset = (page - 1) * q.Limit
	return q
}

// Filter returns the query without paging, as used by the count endpoint.
func (q Query) Filter() Query {
	return Query{Status: q.Status, Group: q.Group}
}
