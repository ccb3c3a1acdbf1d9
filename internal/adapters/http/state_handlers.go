package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/storage"
)

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.hub.ActiveCount(), "version": h.hub.Store.Version()})
}

// state returns the current snapshot, for clients refreshing without a socket.
func (h *handlers) state(c *gin.Context) {
	s, version := h.hub.Snapshot()
	c.JSON(http.StatusOK, gin.H{"version": version, "state": s})
}

func (h *handlers) uploadMedia(c *gin.Context) {
	header, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing video file"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer f.Close()

	ref, err := h.media.Store(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), f)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("name", header.Filename).Msg("store media")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reference": ref, "name": header.Filename})
}

func mediaRef(c *gin.Context) storage.Reference {
	return storage.Reference(strings.TrimPrefix(c.Param("ref"), "/"))
}

func (h *handlers) getMedia(c *gin.Context) {
	h.stream(c, mediaRef(c))
}

func (h *handlers) deleteMedia(c *gin.Context) {
	err := h.media.Delete(c.Request.Context(), mediaRef(c))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Msg("delete media")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage"})
	default:
		c.Status(http.StatusNoContent)
	}
}

// streamRef serves a fixed storage reference, such as a configured audio cue.
func (h *handlers) streamRef(ref string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.stream(c, storage.Reference(ref))
	}
}

func (h *handlers) stream(c *gin.Context, ref storage.Reference) {
	obj, err := h.media.Retrieve(c.Request.Context(), ref)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("ref", string(ref)).Msg("retrieve media")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage"})
		return
	}
	defer obj.Body.Close()
	c.DataFromReader(http.StatusOK, obj.ContentLength, obj.ContentType, obj.Body, nil)
}
