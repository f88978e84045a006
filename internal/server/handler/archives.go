package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

var archiveKinds = map[string]bool{
	"rollovers":  true,
	"arbitrages": true,
	"audit":      true,
}

// ArchiveHandler lists the JSONL exports in object storage.
type ArchiveHandler struct {
	reader domain.BlobReader
	logger *slog.Logger
}

func NewArchiveHandler(reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, logger: logHandler(logger, "archives")}
}

// ListArchives returns archived objects, optionally filtered by ?kind=.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := "archive/"
	if kind := r.URL.Query().Get("kind"); kind != "" {
		if !archiveKinds[kind] {
			writeError(w, http.StatusBadRequest, "kind must be one of rollovers, arbitrages, audit")
			return
		}
		prefix += kind + "/"
	}

	objects, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		h.logger.Error("list archives",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to list archives")
		return
	}
	if objects == nil {
		objects = []domain.BlobInfo{}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })

	writeJSON(w, http.StatusOK, map[string]any{"archives": objects, "count": len(objects)})
}
