package api

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"growhub/internal/jobqueue"
	"growhub/internal/models"
)

// RegisterJobRoutes exposes the job queue's observability surface.
func RegisterJobRoutes(r *gin.Engine, queue *jobqueue.Queue) {
	jobs := r.Group("/jobs")
	{
		jobs.GET("", func(c *gin.Context) {
			status := models.JobStatus(c.DefaultQuery("status", string(models.JobPending)))
			limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
			if err != nil || limit <= 0 {
				c.JSON(400, gin.H{"error": "Invalid limit"})
				return
			}
			list, err := queue.ListByStatus(c, status, limit)
			if err != nil {
				c.JSON(500, gin.H{"error": "Failed to list jobs"})
				return
			}
			if list == nil {
				list = []models.ScheduledJob{}
			}
			c.JSON(200, list)
		})

		jobs.GET("/counts", func(c *gin.Context) {
			counts, err := queue.CountsByStatus(c)
			if err != nil {
				c.JSON(500, gin.H{"error": "Failed to count jobs"})
				return
			}
			c.JSON(200, counts)
		})

		jobs.GET("/:id", func(c *gin.Context) {
			job, err := queue.GetByID(c, c.Param("id"))
			if errors.Is(err, jobqueue.ErrNotFound) {
				c.JSON(404, gin.H{"error": "Job not found"})
				return
			}
			if err != nil {
				c.JSON(500, gin.H{"error": "Failed to fetch job"})
				return
			}
			c.JSON(200, job)
		})

		jobs.POST("/:id/retry", func(c *gin.Context) {
			err := queue.Retry(c, c.Param("id"))
			switch {
			case errors.Is(err, jobqueue.ErrNotFound):
				c.JSON(404, gin.H{"error": "Job not found"})
			case errors.Is(err, jobqueue.ErrBadState):
				c.JSON(409, gin.H{"error": "Only FAILED or DEAD jobs can be retried"})
			case err != nil:
				c.JSON(500, gin.H{"error": "Failed to retry job"})
			default:
				c.JSON(200, gin.H{"status": "Job queued for retry"})
			}
		})

		jobs.POST("/:id/cancel", func(c *gin.Context) {
			err := queue.Cancel(c, c.Param("id"))
			switch {
			case errors.Is(err, jobqueue.ErrNotFound):
				c.JSON(404, gin.H{"error": "Job not found"})
			case errors.Is(err, jobqueue.ErrBadState):
				c.JSON(409, gin.H{"error": "Only PENDING jobs can be cancelled"})
			case err != nil:
				c.JSON(500, gin.H{"error": "Failed to cancel job"})
			default:
				c.JSON(200, gin.H{"status": "Job cancelled"})
			}
		})
	}
}
