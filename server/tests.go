package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleGetPing() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// handleAnyStatus responds with the status code of the path and the request body, if any, as response body.
func (s *Server) handleAnyStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		code, err := strconv.Atoi(c.Param("code"))
		if err != nil || code < 200 || code > 599 {
			abortREST(c, http.StatusBadRequest, "invalid_status", "Invalid status code.")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		contentType := c.ContentType()
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		c.Data(code, contentType, body)
	}
}

// handlePostEcho responds with the request body and content type.
func (s *Server) handlePostEcho() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, c.Request.Header.Get("Content-Type"), body)
	}
}

// handleGetHang sends the response headers and then blocks until the client goes away.
func (s *Server) handleGetHang() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Length", "1048576")
		c.Writer.WriteHeader(http.StatusOK)
		c.Writer.Flush()

		<-c.Request.Context().Done()
	}
}
