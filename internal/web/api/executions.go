package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"growhub/internal/db"
	"growhub/internal/models"
)

// RegisterExecutionRoutes exposes execution history and effectiveness stats.
func RegisterExecutionRoutes(r *gin.Engine, dbConn *db.DB) {
	r.GET("/automations/:id/executions", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			c.JSON(400, gin.H{"error": "Invalid limit"})
			return
		}
		executions, err := dbConn.GetExecutionsByAutomation(c, c.Param("id"), limit)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch executions"})
			return
		}
		if executions == nil {
			executions = []models.AutomationExecution{}
		}
		c.JSON(200, executions)
	})

	r.GET("/executions/:id", func(c *gin.Context) {
		execution, err := dbConn.GetExecutionByID(c, c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Execution not found"})
			return
		}
		c.JSON(200, execution)
	})

	r.GET("/effectiveness/stats", func(c *gin.Context) {
		stats, err := dbConn.GetEffectivenessStats(c)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to fetch effectiveness stats"})
			return
		}
		c.JSON(200, stats)
	})
}
