// Package hlsorigin serves HLS manifests and segments from disk (C3): the
// storage layout a transcoder.Supervisor writes into, fronted by an HTTP
// handler with CDN-friendly cache headers and wildcard CORS.
package hlsorigin

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Server serves files written under storageRoot/{streamId}/{filename}.
type Server struct {
	storageRoot string
}

// New constructs a Server rooted at storageRoot.
func New(storageRoot string) *Server {
	return &Server{storageRoot: storageRoot}
}

// ServeSegment handles GET /hls/{streamId}/{filename}.
func (s *Server) ServeSegment(w http.ResponseWriter, r *http.Request, streamID, filename string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if strings.Contains(filename, "..") || strings.ContainsAny(filename, "/\\") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.storageRoot, streamID, filename)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		writeSegmentNotFound(w)
		return
	}

	file, err := os.Open(path)
	if err != nil {
		writeSegmentNotFound(w)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", contentTypeFor(filename))
	w.Header().Set("Cache-Control", cacheControlFor(filename))

	http.ServeContent(w, r, filename, info.ModTime(), file)
}

func writeSegmentNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Segment not found"})
}

func contentTypeFor(filename string) string {
	switch filepath.Ext(filename) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

func cacheControlFor(filename string) string {
	if filepath.Ext(filename) == ".m3u8" {
		return "no-cache, no-store, must-revalidate"
	}
	return "public, max-age=31536000, immutable"
}
