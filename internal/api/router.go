// api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.Log))

	r.GET("/api/meta", MetaListHandler(s))
	r.GET("/api/meta/:module/:entity", MetaEntityHandler(s))
	r.GET("/api/meta/:module/:entity/_import", ImportMetaHandler(s))

	apiGroup := r.Group("/api")
	{
		// статические "служебные" маршруты идут СНАЧАЛА
		apiGroup.POST("/:module/:entity/_import", ImportHandler(s))
		apiGroup.GET("/:module/:entity/:id/_file/:field", DownloadFileHandler(s))

		apiGroup.GET("/:module/:entity", ListHandler(s))
		apiGroup.GET("/:module/:entity/:id", GetOneHandler(s))
	}

	r.POST("/admin/_reload", AdminReloadHandler(s))
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func RunServer(addr string, s *Server) error {
	s.Log.WithField("addr", addr).Info("http server listening")
	return NewRouter(s).Run(addr)
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("request failed")
			return
		}
		entry.Debug("request")
	}
}
