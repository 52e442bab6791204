package api

import (
	"github.com/gin-gonic/gin"

	"growhub/internal/taskqueue"
)

// RegisterTriggerRoutes exposes manual automation triggering. The work runs
// on the task queue so the request returns immediately.
func RegisterTriggerRoutes(r *gin.Engine) {
	r.POST("/automations/:id/trigger", func(c *gin.Context) {
		force := c.Query("force") == "true"
		if err := taskqueue.EnqueueEvaluation(c.Param("id"), force); err != nil {
			c.JSON(500, gin.H{"error": "Failed to enqueue evaluation"})
			return
		}
		c.JSON(202, gin.H{"status": "Evaluation enqueued", "force": force})
	})
}
