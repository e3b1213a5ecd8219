// Package static serves files from a root directory on disk with a fixed set
// of extra response headers and MIME overrides.
package static

import (
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/gabriel-vasile/mimetype"
)

const indexFile = "index.html"

// Options configures a Responder.
type Options struct {
	// Root is the directory files are served from.
	Root string

	// SSIPattern selects files for server-side include processing. Includes
	// are not supported; a non-empty pattern is logged and ignored.
	SSIPattern string

	// ExtraHeaders are set on every response, errors included.
	ExtraHeaders http.Header

	// MIMETypes maps a file extension without the leading dot to a content
	// type. Lookups are case-insensitive and take precedence over the
	// system table.
	MIMETypes map[string]string
}

// DefaultOptions returns the options the server uses for root.
func DefaultOptions(root string) Options {
	return Options{
		Root: root,
		ExtraHeaders: http.Header{
			"X-Content-Type-Options": {"nosniff"},
			"Cache-Control":          {"no-cache"},
		},
		MIMETypes: map[string]string{
			"woff2": "font/woff2",
			"tar":   "application/tar",
		},
	}
}

type Responder struct {
	opts   Options
	mime   map[string]string
	logger *slog.Logger
}

func NewResponder(opts Options, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SSIPattern != "" {
		logger.Warn("server-side includes are not supported, ignoring pattern", "pattern", opts.SSIPattern)
	}

	types := make(map[string]string, len(opts.MIMETypes))
	for ext, typ := range opts.MIMETypes {
		types[strings.ToLower(strings.TrimPrefix(ext, "."))] = typ
	}

	return &Responder{
		opts:   opts,
		mime:   types,
		logger: logger,
	}
}

func (s *Responder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for key, values := range s.opts.ExtraHeaders {
		for i, v := range values {
			if i == 0 {
				w.Header().Set(key, v)
			} else {
				w.Header().Add(key, v)
			}
		}
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	urlPath := r.URL.Path
	if !strings.HasPrefix(urlPath, "/") {
		urlPath = "/" + urlPath
	}
	rel := path.Clean(urlPath)
	name := filepath.Join(s.opts.Root, filepath.FromSlash(rel))

	info, err := os.Stat(name)
	if err != nil {
		s.serveError(w, r, err)
		return
	}

	if info.IsDir() {
		if !strings.HasSuffix(urlPath, "/") {
			target := path.Base(rel) + "/"
			if rel == "/" {
				target = "/"
			}
			if q := r.URL.RawQuery; q != "" {
				target += "?" + q
			}
			http.Redirect(w, r, target, http.StatusMovedPermanently)
			return
		}

		index := filepath.Join(name, indexFile)
		if indexInfo, err := os.Stat(index); err == nil && !indexInfo.IsDir() {
			s.serveFile(w, r, index, indexInfo)
			return
		}
		s.serveListing(w, r, name, rel)
		return
	}

	s.serveFile(w, r, name, info)
}

func (s *Responder) serveFile(w http.ResponseWriter, r *http.Request, name string, info fs.FileInfo) {
	f, err := os.Open(name)
	if err != nil {
		s.serveError(w, r, err)
		return
	}
	defer f.Close()

	ctype, err := s.contentType(name, f)
	if err != nil {
		s.serveError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", ctype)

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// contentType resolves the type from the extension, falling back to sniffing
// the content. f is rewound before returning.
func (s *Responder) contentType(name string, f io.ReadSeeker) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext != "" {
		if typ, ok := s.mime[ext]; ok {
			return typ, nil
		}
		if typ := mime.TypeByExtension("." + ext); typ != "" {
			return typ, nil
		}
	}

	m, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", name, err)
	}
	return m.String(), nil
}

func (s *Responder) serveListing(w http.ResponseWriter, r *http.Request, dir, rel string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.serveError(w, r, err)
		return
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	title := html.EscapeString(rel)
	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html><head><title>Index of %s</title></head><body>\n", title)
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<ul>\n", title)
	if rel != "/" {
		b.WriteString("<li><a href=\"../\">../</a></li>\n")
	}
	for _, e := range entries {
		display := e.Name()
		if e.IsDir() {
			display += "/"
		}
		href := (&url.URL{Path: display}).String()
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(href), html.EscapeString(display))
	}
	b.WriteString("</ul>\n</body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		io.WriteString(w, b.String())
	}
}

func (s *Responder) serveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		http.NotFound(w, r)
	case errors.Is(err, fs.ErrPermission):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		s.logger.Error("static file error", "path", r.URL.Path, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
