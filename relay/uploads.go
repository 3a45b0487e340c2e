package relay

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"roomchat/media"
)

var errInvalidReference = errors.New("invalid upload reference")

// validReference rejects anything that could escape the upload directory.
func validReference(ref string) error {
	if ref == "" || ref == "." || ref == ".." {
		return errInvalidReference
	}
	if strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return errInvalidReference
	}
	return nil
}

func (s *Server) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)

	file, err := c.FormFile(media.FormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}

	ref := c.PostForm(media.NameField)
	if ref == "" {
		ref = file.Filename
	}
	if err := validReference(ref); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := c.GetString(contextUserID)
	if !strings.HasPrefix(ref, userID+"-") {
		c.JSON(http.StatusForbidden, gin.H{"error": "upload reference must start with the user id"})
		return
	}

	dest := filepath.Join(s.opts.UploadDir, ref)
	if _, err := os.Stat(dest); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "upload reference already exists"})
		return
	}
	if err := c.SaveUploadedFile(file, dest); err != nil {
		s.logger.Error("save upload failed", "ref", ref, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save file"})
		return
	}

	s.logger.Info("upload stored", "ref", ref, "bytes", file.Size, "user_id", userID)
	c.JSON(http.StatusOK, gin.H{"url": s.uploadURL(c, ref)})
}

func (s *Server) serveUpload(c *gin.Context) {
	ref := c.Param("ref")
	if err := validReference(ref); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path := filepath.Join(s.opts.UploadDir, ref)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
		return
	}
	c.File(path)
}
