package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/extract"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/matching"
)

// maxUploadBytes caps /extract uploads.
const maxUploadBytes = 20 << 20

func (s *Server) handleHealth(c *gin.Context) {
	count, err := s.svc.IndexCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "indexed_units": count})
}

type matchRequest struct {
	Text string `json:"text" binding:"required"`
	TopK int    `json:"top_k"`
}

func (s *Server) handleMatch(c *gin.Context) {
	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := s.svc.Search(c.Request.Context(), req.Text, req.TopK)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

type parseRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleParse(c *gin.Context) {
	var req parseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	parsed, err := s.svc.Parse(c.Request.Context(), req.Text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, parsed)
}

type compareRequest struct {
	External *matching.ExternalModule `json:"external" binding:"required"`
	UnitID   string                   `json:"unit_id" binding:"required"`
}

func (s *Server) handleCompare(c *gin.Context) {
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	verdict, err := s.svc.CompareOne(c.Request.Context(), req.External, req.UnitID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

type compareMultipleRequest struct {
	External *matching.ExternalModule `json:"external" binding:"required"`
	UnitIDs  []string                 `json:"unit_ids" binding:"required,min=1"`
}

func (s *Server) handleCompareMultiple(c *gin.Context) {
	var req compareMultipleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outcome, err := s.svc.CompareMany(c.Request.Context(), req.External, req.UnitIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

type matchAndCompareRequest struct {
	Text        string `json:"text" binding:"required"`
	TopK        int    `json:"top_k"`
	WithVerdict bool   `json:"with_verdict"`
}

func (s *Server) handleMatchAndCompare(c *gin.Context) {
	var req matchAndCompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.svc.MatchAndCompare(c.Request.Context(), req.Text, req.TopK, req.WithVerdict)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleExtract(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file upload"})
		return
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	res, err := extract.Reader(f, header.Size, format)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

type syncRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleSync(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	count, err := s.svc.Reconcile(c.Request.Context(), req.Force)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"indexed_units": count, "forced": req.Force})
}
