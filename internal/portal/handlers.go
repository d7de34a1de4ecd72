package portal

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/ochronus/goskynet/skynet"
	"github.com/sirupsen/logrus"
)

// uploadResponse mirrors the JSON a Skynet portal answers uploads with.
type uploadResponse struct {
	Skylink    string `json:"skylink"`
	Merkleroot string `json:"merkleroot"`
	Bitfield   int    `json:"bitfield"`
}

// Handler contains the HTTP handlers of the portal API.
type Handler struct {
	store  Store
	apiKey string
	logger *logrus.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(store Store, apiKey string, logger *logrus.Logger) *Handler {
	return &Handler{
		store:  store,
		apiKey: apiKey,
		logger: logger,
	}
}

// RequireAPIKey rejects requests whose basic auth username is not the
// configured API key. It is a no-op when no key is configured.
func (h *Handler) RequireAPIKey(c *gin.Context) {
	if h.apiKey == "" {
		c.Next()
		return
	}

	username, _, ok := c.Request.BasicAuth()
	if !ok || subtle.ConstantTimeCompare([]byte(username), []byte(h.apiKey)) != 1 {
		c.Header("WWW-Authenticate", `Basic realm="skynet"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "API authentication failed"})
		return
	}
	c.Next()
}

// Upload handles POST /skynet/skyfile/*filename. The first file part of the
// multipart body is stored; the path name wins over the part's filename.
func (h *Handler) Upload(c *gin.Context) {
	reader, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("expected multipart/form-data: %v", err)})
		return
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"message": "no file part in request"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("reading multipart body: %v", err)})
			return
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}

		filename := strings.TrimPrefix(c.Param("filename"), "/")
		if filename == "" {
			filename = part.FileName()
		}

		contentType := part.Header.Get("Content-Type")
		if _, _, err := mime.ParseMediaType(contentType); err != nil {
			contentType = "application/octet-stream"
		}

		entry, err := h.store.Put(c.Request.Context(), filename, contentType, part)
		part.Close()
		if err != nil {
			h.logger.Errorf("[%s]: storing upload failed: %v", filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to store file"})
			return
		}

		h.logger.Infof("[%s]: stored %d bytes as %s", filename, entry.Size, entry.Skylink)
		c.JSON(http.StatusOK, uploadResponse{
			Skylink:    entry.Skylink,
			Merkleroot: entry.Merkleroot,
			Bitfield:   entry.Bitfield,
		})
		return
	}
}

// Download handles GET /:skylink and streams the stored bytes.
func (h *Handler) Download(c *gin.Context) {
	skylink := skynet.Skylink(c.Param("skylink")).ID()

	rc, entry, err := h.store.Open(c.Request.Context(), skylink)
	if err != nil {
		h.writeLookupError(c, skylink, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, entry.Size, h.contentType(entry, rc), rc, entryHeaders(entry))
}

// Head handles HEAD /:skylink.
func (h *Handler) Head(c *gin.Context) {
	skylink := skynet.Skylink(c.Param("skylink")).ID()

	entry, err := h.store.Stat(c.Request.Context(), skylink)
	if err != nil {
		h.writeLookupError(c, skylink, err)
		return
	}

	for k, v := range entryHeaders(entry) {
		c.Header(k, v)
	}
	c.Header("Content-Type", entry.ContentType)
	c.Header("Content-Length", strconv.FormatInt(entry.Size, 10))
	c.Status(http.StatusOK)
}

func (h *Handler) writeLookupError(c *gin.Context, skylink string, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "skylink not found"})
		return
	}
	h.logger.Errorf("[%s]: lookup failed: %v", skylink, err)
	c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to read skylink"})
}

// contentType returns the recorded type, sniffing the blob when the
// uploader only sent a generic one.
func (h *Handler) contentType(entry Entry, rc io.ReadCloser) string {
	if entry.ContentType != "" && entry.ContentType != "application/octet-stream" {
		return entry.ContentType
	}
	seeker, ok := rc.(io.ReadSeeker)
	if !ok {
		return "application/octet-stream"
	}
	mt, err := mimetype.DetectReader(seeker)
	if _, seekErr := seeker.Seek(0, io.SeekStart); seekErr != nil || err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

func entryHeaders(entry Entry) map[string]string {
	return map[string]string{
		"Content-Disposition": mime.FormatMediaType("inline", map[string]string{"filename": entry.Filename}),
		"Skynet-Skylink":      entry.Skylink,
	}
}
