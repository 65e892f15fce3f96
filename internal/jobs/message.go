package jobs

// Queue message payloads. Every message carries the job id plus the
// minimal data needed for a worker to act without consulting the record
// store first. Delivery is at-least-once; consumers are idempotent or
// rely on conditional updates.

// SubmissionMessage is published by the gateway once the job record
// exists, and consumed by the annotator.
type SubmissionMessage struct {
	JobID         string `json:"job_id"`
	UserID        string `json:"user_id"`
	InputFileName string `json:"input_file_name"`
	InputBucket   string `json:"s3_inputs_bucket"`
	InputKey      string `json:"s3_key_input_file"`
	SubmitTime    int64  `json:"submit_time"`
}

// CompletionMessage is published by the annotation runner after the
// COMPLETED transition, and consumed by the notifier.
type CompletionMessage struct {
	JobID        string `json:"job_id"`
	UserID       string `json:"user_id"`
	CompleteTime int64  `json:"complete_time"`
}

// ArchiveMessage is the time-delayed archive signal scheduled at
// completion for free-tier owners. The archiver re-checks the owner's
// tier at receipt, not at scheduling time.
type ArchiveMessage struct {
	JobID string `json:"job_id"`
}

// RestoreRequestMessage is published when a user upgrades; the restorer
// sweeps all of the user's ARCHIVED jobs.
type RestoreRequestMessage struct {
	UserID string `json:"user_id"`
}

// ThawCompleteMessage signals that a cold-storage retrieval has finished
// and the object can be copied back to standard storage.
type ThawCompleteMessage struct {
	JobID           string `json:"job_id"`
	Ticket          string `json:"ticket"`
	ArchiveLocation string `json:"archive_location"`
}
