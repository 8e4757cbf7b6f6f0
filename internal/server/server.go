// Package server exposes a Builder over HTTP so a browser canvas can drive
// the annotation workflow.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	vqabuilder "github.com/menta2k/vqa-builder"
)

// RequestIDHeader carries the id generated for each request
const RequestIDHeader = "X-Request-Id"

// Options configure the HTTP adapter
type Options struct {
	Debug          bool
	DisplayFormat  string
	DisplayQuality int
	AssistTimeout  time.Duration
}

// Server serializes requests into a single Builder
type Server struct {
	mu      sync.Mutex
	builder *vqabuilder.Builder
	opts    Options
	engine  *gin.Engine
}

// New creates a server around b
func New(b *vqabuilder.Builder, opts Options) *Server {
	if opts.DisplayFormat == "" {
		opts.DisplayFormat = "png"
	}
	if opts.DisplayQuality <= 0 {
		opts.DisplayQuality = 90
	}
	if opts.AssistTimeout <= 0 {
		opts.AssistTimeout = 5 * time.Minute
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{builder: b, opts: opts}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(accessLogMiddleware())
	r.Use(corsMiddleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": vqabuilder.GetVersion()})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/state", s.getState)

		v1.POST("/image", s.openImage)
		v1.PUT("/image/ref", s.setImageRef)
		v1.GET("/image/display.:ext", s.displayImage)

		v1.POST("/drag/begin", s.drag(dragBegin))
		v1.POST("/drag/update", s.drag(dragUpdate))
		v1.POST("/drag/end", s.drag(dragEnd))

		v1.POST("/boxes", s.commitBox)
		v1.DELETE("/boxes/last", s.removeLastBox)
		v1.DELETE("/boxes", s.clearBoxes)
		v1.POST("/boxes/suggest", s.suggestBox)

		v1.POST("/conversation/qa", s.addQA)
		v1.POST("/conversation/boxes", s.attachBoxes)
		v1.DELETE("/conversation/turns/:index", s.deleteTurn)
		v1.POST("/conversation/draft", s.draftAnswer)

		v1.GET("/entries", s.listEntries)
		v1.POST("/entries", s.finishEntry)
		v1.POST("/entries/:index/edit", s.editEntry)
		v1.DELETE("/entries/:index", s.deleteEntry)

		v1.POST("/dataset/save", s.saveDataset)
		v1.POST("/dataset/load", s.loadDataset)
		v1.POST("/dataset/clear", s.clearDataset)
	}

	s.engine = r
	return s
}

// Handler returns the http.Handler serving the API
func (s *Server) Handler() http.Handler {
	return s.engine
}

// corsMiddleware allows the canvas page to be served from another origin
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	})
}

// requestIDMiddleware attaches a UUID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"request_id": c.GetString("request_id"),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("Request failed")
			return
		}
		entry.Debug("Request handled")
	}
}
