// Package web serves the dashboard's static files from a directory on disk.
package web

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

// Handler returns an http.Handler that serves the dashboard build in dir.
//
// Unknown paths without a file extension get index.html so client-side
// routes survive a reload. Paths that try to leave dir are rejected.
func Handler(dir string) (http.Handler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening static dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static dir %q is not a directory", dir)
	}
	fsys := os.DirFS(dir)

	indexBytes, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("reading index.html: %w", err)
	}

	static := http.FileServer(http.FS(fsys))

	serveIndex := func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(indexBytes)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if containsDotDot(r.URL.Path) {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		cleanPath := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if cleanPath == "" || cleanPath == "." || cleanPath == "index.html" {
			serveIndex(w)
			return
		}
		if !fs.ValidPath(cleanPath) {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		st, err := fs.Stat(fsys, cleanPath)
		switch {
		case err == nil && !st.IsDir():
			w.Header().Set("X-Content-Type-Options", "nosniff")
			static.ServeHTTP(w, r)
		case err == nil, errors.Is(err, fs.ErrNotExist) && path.Ext(cleanPath) == "":
			// Directories and client-side routes.
			serveIndex(w)
		default:
			http.NotFound(w, r)
		}
	}), nil
}

func containsDotDot(p string) bool {
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}
