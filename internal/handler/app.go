package handler

import (
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// mountApp serves the browser app from WebDir. The app routes render
// index.html, existing files are served as they are, and any other path is
// redirected to the storefront root.
func (h *Handler) mountApp(r chi.Router) {
	index := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filepath.Join(h.cfg.WebDir, "index.html"))
	}

	r.Get("/", index)
	r.Get("/product/{id}", index)
	r.With(h.Guard).Get("/checkout", index)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Join(h.cfg.WebDir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
		if fi, err := os.Stat(name); err == nil && !fi.IsDir() {
			http.ServeFile(w, r, name)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	})
}
