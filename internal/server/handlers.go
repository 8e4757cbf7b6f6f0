package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/menta2k/vqa-builder/pkg/apperr"
	"github.com/menta2k/vqa-builder/pkg/imageio"
)

type pathRequest struct {
	Path string `json:"path"`
}

type refRequest struct {
	Ref string `json:"ref"`
}

type pointRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type labelRequest struct {
	Label string `json:"label"`
}

type qaRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Image    string `json:"image"`
}

type questionRequest struct {
	Question string `json:"question"`
}

type idRequest struct {
	ID string `json:"id"`
}

type dragPhase int

const (
	dragBegin dragPhase = iota
	dragUpdate
	dragEnd
)

// bind decodes an optional JSON body into obj; an empty body leaves obj as is
func bind(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperr.KindValidation.String()})
		return false
	}
	return true
}

// writeError maps an apperr kind to its HTTP status
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindValidation:
		log.WithError(err).Warn("Request rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": kind.String()})
	default:
		log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": apperr.KindIO.String()})
	}
}

func indexParam(c *gin.Context, op string) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeError(c, apperr.Validationf(op, "invalid index %q", c.Param("index")))
		return 0, false
	}
	return index, true
}

// confirmed answers 409 unless the request carries confirm=true
func confirmed(c *gin.Context) bool {
	if ok, _ := strconv.ParseBool(c.Query("confirm")); ok {
		return true
	}
	c.JSON(http.StatusConflict, gin.H{"error": "confirmation required", "kind": "confirm"})
	return false
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.builder.Snapshot())
}

func (s *Server) getState(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(c)
}

func (s *Server) openImage(c *gin.Context) {
	var req pathRequest
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.builder.OpenImage(req.Path); err != nil {
		writeError(c, err)
		return
	}
	s.state(c)
}

func (s *Server) setImageRef(c *gin.Context) {
	var req refRequest
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builder.SetImageRef(req.Ref)
	s.state(c)
}

func (s *Server) displayImage(c *gin.Context) {
	format := c.Param("ext")
	switch format {
	case "png", "jpg", "jpeg", "webp":
	default:
		writeError(c, apperr.Validationf("display image", "unsupported format %q", format))
		return
	}

	s.mu.Lock()
	img, ok := s.builder.DisplayImage()
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no image is open", "kind": apperr.KindValidation.String()})
		return
	}

	var buf bytes.Buffer
	if err := imageio.Encode(&buf, img, format, s.opts.DisplayQuality); err != nil {
		writeError(c, apperr.IO("display image", err))
		return
	}
	c.Data(http.StatusOK, imageio.ContentType(format), buf.Bytes())
}

func (s *Server) drag(phase dragPhase) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pointRequest
		if !bind(c, &req) {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		switch phase {
		case dragBegin:
			s.builder.BeginDrag(req.X, req.Y)
		case dragUpdate:
			s.builder.UpdateDrag(req.X, req.Y)
		case dragEnd:
			s.builder.EndDrag(req.X, req.Y)
		}
		s.state(c)
	}
}

func (s *Server) commitBox(c *gin.Context) {
	var req labelRequest
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.builder.CommitBox(req.Label); err != nil {
		writeError(c, err)
		return
	}
	s.state(c)
}

func (s *Server) removeLastBox(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builder.RemoveLastBox()
	s.state(c)
}

func (s *Server) clearBoxes(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builder.ClearBoxes()
	s.state(c)
}

func (s *Server) suggestBox(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.AssistTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	label, err := s.builder.SuggestBox(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"label": label, "state": s.builder.Snapshot()})
}

func (s *Server) addQA(c *gin.Context) {
	var req qaRequest
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.builder.AddQA(req.Question, req.Answer, req.Image); err != nil {
		writeError(c, err)
		return
	}
	s.state(c)
}

func (s *Server) attachBoxes(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.builder.AttachBoxes(); err != nil {
		writeError(c, err)
		return
	}
	s.state(c)
}

func (s *Server) deleteTurn(c *gin.Context) {
	index, ok := indexParam(c, "delete turn")
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.builder.DeleteTurn(index) {
		writeError(c, apperr.Validationf("delete turn", "no turn at index %d", index))
		return
	}
	s.state(c)
}

func (s *Server) draftAnswer(c *gin.Context) {
	var req questionRequest
	if !bind(c, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.AssistTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	answer, err := s.builder.DraftAnswer(ctx, req.Question)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func (s *Server) listEntries(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"data": s.builder.Snapshot().Entries})
}

func (s *Server) finishEntry(c *gin.Context) {
	var req idRequest
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.builder.FinishEntry(req.ID); err != nil {
		writeError(c, err)
		return
	}
	s.state(c)
}

func (s *Server) editEntry(c *gin.Context) {
	index, ok := indexParam(c, "edit entry")
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.builder.EditEntry(index); err != nil {
		writeError(c, err)
		return
	}
	s.state(c)
}

func (s *Server) deleteEntry(c *gin.Context) {
	index, ok := indexParam(c, "delete entry")
	if !ok || !confirmed(c) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.builder.DeleteEntry(index); err != nil {
		writeError(c, err)
		return
	}
	s.state(c)
}

func (s *Server) saveDataset(c *gin.Context) {
	var req pathRequest
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.builder.Save(req.Path); err != nil {
		writeError(c, err)
		return
	}
	s.state(c)
}

func (s *Server) loadDataset(c *gin.Context) {
	var req pathRequest
	if !bind(c, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.builder.Load(req.Path); err != nil {
		writeError(c, err)
		return
	}
	s.state(c)
}

func (s *Server) clearDataset(c *gin.Context) {
	if !confirmed(c) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builder.ClearAll()
	s.state(c)
}
