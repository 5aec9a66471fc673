package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// Number of attempts for UploadFile retry loop
const maxUploadAttempts = 3

// R2Config holds configuration for Cloudflare R2 storage
type R2Config struct {
	AccessKey string
	SecretKey string
	AccountID string
	Bucket    string
	Endpoint  string
	Region    string
	BaseURL   string // Public URL for accessing uploaded files
}

// R2Storage uploads finished footage files to R2-compatible object storage
type R2Storage struct {
	config   R2Config
	uploader *s3manager.Uploader
}

// NewR2Storage creates a new R2Storage instance
func NewR2Storage(config R2Config) (*R2Storage, error) {
	if config.Region == "" {
		config.Region = "auto"
	}
	if config.Endpoint == "" && config.AccountID != "" {
		config.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", config.AccountID)
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		Endpoint:    aws.String(config.Endpoint),
		Region:      aws.String(config.Region),
		// Force path style addressing for compatibility with S3 API
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}

	// Sequential multipart parts: a single HTTP connection at a time so
	// uploads do not compete with in-flight segment downloads.
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 1
	})

	return &R2Storage{config: config, uploader: uploader}, nil
}

// UploadFile uploads a local file and returns its public URL
func (r *R2Storage) UploadFile(localPath, remotePath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %v", localPath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to get file info: %v", err)
	}

	contentType := "application/octet-stream"
	if strings.ToLower(filepath.Ext(localPath)) == ".mp4" {
		contentType = "video/mp4"
	}

	metadata := map[string]*string{
		"OriginalFileName": aws.String(filepath.Base(localPath)),
		"UploadedAt":       aws.String(time.Now().Format(time.RFC3339)),
		"FileSize":         aws.String(fmt.Sprintf("%d", fileInfo.Size())),
	}

	log.Printf("[storage] Uploading file (%.2f MB): %s", float64(fileInfo.Size())/1024/1024, localPath)

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		if _, err := file.Seek(0, 0); err != nil {
			return "", fmt.Errorf("failed to seek to beginning of file: %v", err)
		}

		_, lastErr = r.uploader.Upload(&s3manager.UploadInput{
			Bucket:      aws.String(r.config.Bucket),
			Key:         aws.String(remotePath),
			Body:        file,
			ContentType: aws.String(contentType),
			Metadata:    metadata,
		})
		if lastErr == nil {
			break
		}

		log.Printf("[storage] Upload attempt %d/%d failed for %s: %v", attempt, maxUploadAttempts, localPath, lastErr)
		time.Sleep(time.Duration(1<<uint(attempt)) * time.Second)
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to upload file to R2 after %d attempts: %v", maxUploadAttempts, lastErr)
	}

	publicURL := fmt.Sprintf("%s/%s", r.GetBaseURL(), remotePath)
	log.Printf("[storage] File uploaded successfully, public URL: %s", publicURL)
	return publicURL, nil
}

// GetBaseURL returns the public base URL for uploaded files
func (r *R2Storage) GetBaseURL() string {
	if r.config.BaseURL != "" {
		return strings.TrimSuffix(r.config.BaseURL, "/")
	}
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(r.config.Endpoint, "/"), r.config.Bucket)
}
