package server

import (
	"net/http"
	"strconv"

	"github.com/bradenaw/juniper/xslices"
	"github.com/gin-gonic/gin"
	"github.com/wordpress-mobile/go-wordpress-api/server/backend"
)

func (s *Server) handleGetMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.b.GetUser(c.GetInt64("UserID"))
		if err != nil {
			abortREST(c, http.StatusNotFound, "unknown_user", err.Error())
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ID":             user.ID,
			"username":       user.Username,
			"display_name":   user.DisplayName,
			"email":          user.Email,
			"email_verified": true,
			"primary_blog":   user.PrimaryBlog,
			"language":       "en",
		})
	}
}

func (s *Server) handleGetMedia() gin.HandlerFunc {
	return func(c *gin.Context) {
		siteID, err := strconv.ParseInt(c.Param("siteID"), 10, 64)
		if err != nil {
			abortREST(c, http.StatusBadRequest, "invalid_site", "Invalid site ID.")
			return
		}

		media := s.b.GetMedia(siteID)

		c.JSON(http.StatusOK, gin.H{
			"found": len(media),
			"media": xslices.Map(media, mediaJSON),
		})
	}
}

// handlePostMediaNew stores the files of the media[] multipart field.
func (s *Server) handlePostMediaNew() gin.HandlerFunc {
	return func(c *gin.Context) {
		siteID, err := strconv.ParseInt(c.Param("siteID"), 10, 64)
		if err != nil {
			abortREST(c, http.StatusBadRequest, "invalid_site", "Invalid site ID.")
			return
		}

		form, err := c.MultipartForm()
		if err != nil {
			abortREST(c, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}

		files := form.File["media[]"]

		if len(files) == 0 {
			abortREST(c, http.StatusBadRequest, "invalid_input", "No media files were uploaded.")
			return
		}

		created := make([]backend.Media, 0, len(files))

		for _, file := range files {
			media, err := s.b.CreateMedia(c.GetInt64("UserID"), siteID, file.Filename, file.Header.Get("Content-Type"), file.Size)
			if err != nil {
				abortREST(c, http.StatusForbidden, "unauthorized", err.Error())
				return
			}

			created = append(created, media)
		}

		c.JSON(http.StatusOK, gin.H{
			"media": xslices.Map(created, mediaJSON),
		})
	}
}

func mediaJSON(media backend.Media) gin.H {
	return gin.H{
		"ID":        media.ID,
		"file":      media.File,
		"mime_type": media.MIMEType,
		"size":      media.Size,
		"site_ID":   media.SiteID,
	}
}
