package web

import (
	"growhub/internal/db"
	"growhub/internal/jobqueue"
	"growhub/internal/web/api"

	"github.com/gin-gonic/gin"
)

type WebServer struct {
	router *gin.Engine
}

// NewWebServer wires the engine's observability and control API.
func NewWebServer(dbConn *db.DB, queue *jobqueue.Queue) *WebServer {
	router := gin.Default()

	api.RegisterJobRoutes(router, queue)
	api.RegisterExecutionRoutes(router, dbConn)
	api.RegisterTriggerRoutes(router)

	return &WebServer{router: router}
}

func (ws *WebServer) Start(addr string) {
	ws.router.Run(addr)
}
