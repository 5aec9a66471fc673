package database

import (
	"time"
)

// JobStatus represents the current state of a footage job
type JobStatus string

const (
	JobQueued  JobStatus = "queued"  // Job is waiting for a worker slot
	JobRunning JobStatus = "running" // Job is downloading/assembling footage
	JobSuccess JobStatus = "success" // Job produced a complete output
	JobPartial JobStatus = "partial" // Job produced output with gaps or a mux fallback
	JobFailed  JobStatus = "failed"  // Job produced no output
)

// JobRecord is the persisted ledger entry for one footage job
type JobRecord struct {
	ID           string     `json:"id"`           // Work item ID
	CameraUUID   string     `json:"cameraUuid"`   // Camera the footage came from
	CameraName   string     `json:"cameraName"`   // Camera display name
	WindowStart  time.Time  `json:"windowStart"`  // Start of the requested window
	WindowEnd    time.Time  `json:"windowEnd"`    // End of the requested window
	AlertID      string     `json:"alertId"`      // Alert that produced the window (empty for manual)
	AlertType    string     `json:"alertType"`    // Alert type (empty for manual)
	Status       JobStatus  `json:"status"`       // Current status
	OutputPath   string     `json:"outputPath"`   // Final output file
	Combined     bool       `json:"combined"`     // Whether audio was muxed in
	VideoGaps    int        `json:"videoGaps"`    // Segments lost from the video stream
	AudioGaps    int        `json:"audioGaps"`    // Segments lost from the audio stream
	UploadedURL  string     `json:"uploadedUrl"`  // Cloud archive URL when uploaded
	ErrorMessage string     `json:"errorMessage"` // Error detail if the job failed
	CreatedAt    time.Time  `json:"createdAt"`    // When the job started
	FinishedAt   *time.Time `json:"finishedAt"`   // When the job reached a terminal state
}

// Database defines the interface for the job ledger
type Database interface {
	// Job operations
	CreateJob(record JobRecord) error
	GetJob(id string) (*JobRecord, error)
	UpdateJob(record JobRecord) error
	ListJobs(limit, offset int) ([]JobRecord, error)
	DeleteJob(id string) error

	// Status operations
	GetJobsByStatus(status JobStatus, limit, offset int) ([]JobRecord, error)
	UpdateJobStatus(id string, status JobStatus, errorMsg string) error
	UpdateJobUpload(id string, uploadedURL string) error

	// Helper operations
	Close() error
}
