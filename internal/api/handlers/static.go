package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const indexFile = "index.html"

// StaticHandler serves the browser client from a fixed directory.
type StaticHandler struct {
	root string
}

func NewStaticHandler(root string) *StaticHandler {
	return &StaticHandler{root: root}
}

func (h *StaticHandler) Index(c *gin.Context) {
	h.serve(c, indexFile)
}

func (h *StaticHandler) Asset(c *gin.Context) {
	h.serve(c, c.Param("path"))
}

func (h *StaticHandler) serve(c *gin.Context, name string) {
	path, ok := h.resolve(name)
	if !ok {
		notFound(c)
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		notFound(c)
		return
	}

	c.File(path)
}

// resolve maps a request path onto a file below root. Paths that are empty,
// absolute, or contain a ".." segment are refused rather than cleaned.
func (h *StaticHandler) resolve(name string) (string, bool) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || strings.ContainsRune(name, 0) || strings.Contains(name, "\\") {
		return "", false
	}

	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", false
		}
	}

	rel := filepath.FromSlash(name)
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", false
	}

	root, err := filepath.Abs(h.root)
	if err != nil {
		return "", false
	}
	full := filepath.Join(root, rel)

	if r, err := filepath.Rel(root, full); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}

	return full, true
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: "File not found",
	})
}
