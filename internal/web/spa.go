package web

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
)

// SpaHandler serves the dashboard build. Paths that do not name a file fall
// back to index.html so client side routes survive a reload.
type SpaHandler struct {
	dir   string
	files http.Handler
}

func NewSpaHandler(dir string) *SpaHandler {
	return &SpaHandler{dir: dir, files: http.FileServer(http.Dir(dir))}
}

func (h *SpaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := filepath.Join(h.dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() {
		http.ServeFile(w, r, filepath.Join(h.dir, "index.html"))
		return
	}
	h.files.ServeHTTP(w, r)
}
