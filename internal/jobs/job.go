package jobs

// Status is the authoritative lifecycle state of an annotation job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusArchived  Status = "ARCHIVED"
	StatusRestoring Status = "RESTORING"
)

// Job is the central record tracked through submission, annotation,
// archival, and restoration. The record is mutated exclusively by the
// worker that owns the job's current stage; every cross-stage transition
// goes through a conditional update keyed on the current status.
type Job struct {
	JobID           string `db:"job_id" json:"job_id"`
	UserID          string `db:"user_id" json:"user_id"`
	InputFileName   string `db:"input_file_name" json:"input_file_name"`
	InputBucket     string `db:"input_bucket" json:"input_bucket"`
	InputKey        string `db:"input_key" json:"input_key"`
	ResultsBucket   string `db:"results_bucket" json:"results_bucket,omitempty"`
	ResultKey       string `db:"result_key" json:"result_key,omitempty"`
	LogKey          string `db:"log_key" json:"log_key,omitempty"`
	ArchiveLocation string `db:"archive_location" json:"archive_location,omitempty"`
	SubmitTime      int64  `db:"submit_time" json:"submit_time"`
	CompleteTime    int64  `db:"complete_time" json:"complete_time,omitempty"`
	Status          Status `db:"job_status" json:"job_status"`
}

// Profile is a user's account record as seen by the pipeline: where to
// send notifications and whether results are subject to archival.
type Profile struct {
	IdentityID string `db:"identity_id"`
	Name       string `db:"name"`
	Email      string `db:"email"`
	Role       string `db:"role"`
}

// User roles. Free-tier results are archived after the retention
// interval; premium results stay in standard storage.
const (
	RoleFreeUser    = "free_user"
	RolePremiumUser = "premium_user"
)

// legalTransitions holds the only valid status moves. The archive/restore
// cycle may repeat; everything else is monotonic.
var legalTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusCompleted},
	StatusCompleted: {StatusArchived},
	StatusArchived:  {StatusRestoring},
	StatusRestoring: {StatusCompleted},
}

// CanTransition reports whether moving a job from one status to another
// is legal. Workers attempting a conditional transition that finds an
// unexpected current state treat it as a skip, not a crash.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusArchived, StatusRestoring:
		return true
	}
	return false
}
