package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database instance
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %v", err)
	}

	if err := initTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %v", err)
	}

	return &SQLiteDB{db: db}, nil
}

// initTables creates the necessary tables if they don't exist
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			camera_uuid TEXT NOT NULL,
			camera_name TEXT,
			window_start TIMESTAMP NOT NULL,
			window_end TIMESTAMP NOT NULL,
			alert_id TEXT,
			alert_type TEXT,
			status TEXT NOT NULL,
			output_path TEXT,
			combined INTEGER DEFAULT 0,
			video_gaps INTEGER DEFAULT 0,
			audio_gaps INTEGER DEFAULT 0,
			uploaded_url TEXT,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_camera ON jobs(camera_uuid, window_start)`)
	return err
}

// CreateJob inserts a new job record
func (s *SQLiteDB) CreateJob(record JobRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (
			id, camera_uuid, camera_name, window_start, window_end,
			alert_id, alert_type, status, output_path, combined,
			video_gaps, audio_gaps, uploaded_url, error_message, created_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, record.CameraUUID, record.CameraName, record.WindowStart, record.WindowEnd,
		record.AlertID, record.AlertType, record.Status, record.OutputPath, record.Combined,
		record.VideoGaps, record.AudioGaps, record.UploadedURL, record.ErrorMessage,
		record.CreatedAt, record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job record: %v", err)
	}
	return nil
}

// GetJob retrieves a job record by ID
func (s *SQLiteDB) GetJob(id string) (*JobRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, camera_uuid, camera_name, window_start, window_end,
			alert_id, alert_type, status, output_path, combined,
			video_gaps, audio_gaps, uploaded_url, error_message, created_at, finished_at
		FROM jobs WHERE id = ?
	`, id)

	record, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %v", id, err)
	}
	return record, nil
}

// UpdateJob replaces a job record
func (s *SQLiteDB) UpdateJob(record JobRecord) error {
	result, err := s.db.Exec(`
		UPDATE jobs SET
			camera_uuid = ?, camera_name = ?, window_start = ?, window_end = ?,
			alert_id = ?, alert_type = ?, status = ?, output_path = ?, combined = ?,
			video_gaps = ?, audio_gaps = ?, uploaded_url = ?, error_message = ?, finished_at = ?
		WHERE id = ?
	`,
		record.CameraUUID, record.CameraName, record.WindowStart, record.WindowEnd,
		record.AlertID, record.AlertType, record.Status, record.OutputPath, record.Combined,
		record.VideoGaps, record.AudioGaps, record.UploadedURL, record.ErrorMessage,
		record.FinishedAt, record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %v", record.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// The start transition may have been lost; keep the ledger complete.
		return s.CreateJob(record)
	}
	return nil
}

// ListJobs retrieves job records ordered by creation time, newest first
func (s *SQLiteDB) ListJobs(limit, offset int) ([]JobRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, camera_uuid, camera_name, window_start, window_end,
			alert_id, alert_type, status, output_path, combined,
			video_gaps, audio_gaps, uploaded_url, error_message, created_at, finished_at
		FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %v", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// DeleteJob removes a job record
func (s *SQLiteDB) DeleteJob(id string) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %v", id, err)
	}
	return nil
}

// GetJobsByStatus retrieves jobs with a specific status
func (s *SQLiteDB) GetJobsByStatus(status JobStatus, limit, offset int) ([]JobRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, camera_uuid, camera_name, window_start, window_end,
			alert_id, alert_type, status, output_path, combined,
			video_gaps, audio_gaps, uploaded_url, error_message, created_at, finished_at
		FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs by status: %v", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateJobStatus updates a job's status and error message
func (s *SQLiteDB) UpdateJobStatus(id string, status JobStatus, errorMsg string) error {
	_, err := s.db.Exec(`UPDATE jobs SET status = ?, error_message = ? WHERE id = ?`, status, errorMsg, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %v", err)
	}
	return nil
}

// UpdateJobUpload records the cloud archive URL for a job's output
func (s *SQLiteDB) UpdateJobUpload(id string, uploadedURL string) error {
	_, err := s.db.Exec(`UPDATE jobs SET uploaded_url = ? WHERE id = ?`, uploadedURL, id)
	if err != nil {
		return fmt.Errorf("failed to update job upload url: %v", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var record JobRecord
	var alertID, alertType, outputPath, uploadedURL, errorMessage sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(
		&record.ID, &record.CameraUUID, &record.CameraName,
		&record.WindowStart, &record.WindowEnd,
		&alertID, &alertType, &record.Status, &outputPath, &record.Combined,
		&record.VideoGaps, &record.AudioGaps, &uploadedURL, &errorMessage,
		&record.CreatedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	record.AlertID = alertID.String
	record.AlertType = alertType.String
	record.OutputPath = outputPath.String
	record.UploadedURL = uploadedURL.String
	record.ErrorMessage = errorMessage.String
	if finishedAt.Valid {
		record.FinishedAt = &finishedAt.Time
	}
	return &record, nil
}

func scanJobs(rows *sql.Rows) ([]JobRecord, error) {
	var records []JobRecord
	for rows.Next() {
		record, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job record: %v", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}
