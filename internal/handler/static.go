// Package handler contains the Echo handlers for the gateway routes.
package handler

import (
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"finagent-gateway/internal/config"
)

// StaticHandler serves the prebuilt frontend bundle and falls back to the
// entry document so client-side routes resolve.
type StaticHandler struct {
	fsys   fs.FS
	index  string
	logger *slog.Logger
}

// NewStaticHandler creates a StaticHandler rooted at cfg.Static.Dir.
func NewStaticHandler(cfg *config.Config, logger *slog.Logger) *StaticHandler {
	return NewStaticHandlerFS(os.DirFS(cfg.Static.Dir), cfg.Static.Index, logger)
}

// NewStaticHandlerFS creates a StaticHandler over an arbitrary filesystem.
func NewStaticHandlerFS(fsys fs.FS, index string, logger *slog.Logger) *StaticHandler {
	return &StaticHandler{
		fsys:   fsys,
		index:  index,
		logger: logger.With("component", "static_handler"),
	}
}

// CheckIndex logs a warning when the entry document is missing; every
// fallback request would otherwise answer 404.
func (h *StaticHandler) CheckIndex() {
	if _, err := fs.Stat(h.fsys, h.index); err != nil {
		h.logger.Warn("entry document not found; SPA fallback will return 404",
			"index", h.index,
			"err", err,
		)
	}
}

// Serve writes the file named by the request path if it is a regular file in
// the bundle, and the entry document otherwise.
func (h *StaticHandler) Serve(c echo.Context) error {
	name := strings.TrimPrefix(path.Clean("/"+c.Request().URL.Path), "/")
	if name != "" && fs.ValidPath(name) {
		if info, err := fs.Stat(h.fsys, name); err == nil && info.Mode().IsRegular() {
			return echo.StaticFileHandler(name, h.fsys)(c)
		}
	}

	h.logger.Debug("serving entry document", "path", c.Request().URL.Path)
	return echo.StaticFileHandler(h.index, h.fsys)(c)
}
