package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"camcopy/database"
)

// Server exposes the job ledger over HTTP for operational visibility.
// Read-only; footage jobs are driven from the CLI and watch mode.
type Server struct {
	db   database.Database
	port string
}

// NewServer creates a status server over the job ledger.
func NewServer(db database.Database, port string) *Server {
	return &Server{db: db, port: port}
}

// Start runs the server; it blocks until the listener fails.
func (s *Server) Start() error {
	r := gin.Default()
	s.setupRoutes(r)
	return r.Run(":" + s.port)
}

func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.getJob)
	}
}

func (s *Server) listJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	var (
		jobs []database.JobRecord
		err  error
	)
	if status := c.Query("status"); status != "" {
		jobs, err = s.db.GetJobsByStatus(database.JobStatus(status), limit, offset)
	} else {
		jobs, err = s.db.ListJobs(limit, offset)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.db.GetJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}
