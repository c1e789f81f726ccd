package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(mode string, ctl *Controller) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", ctl.HandleWS)

	return r
}
