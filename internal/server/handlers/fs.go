package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/bucketfs/internal/errors"
	"github.com/3leaps/bucketfs/pkg/objfs"
	"github.com/3leaps/bucketfs/pkg/provider"
)

// KindHeader carries the node kind of the addressed path.
const KindHeader = "X-Bucketfs-Kind"

// FileSystems hands out the filesystem of a bucket.
type FileSystems interface {
	FileSystem(ctx context.Context, bucket string) (*objfs.FileSystem, error)
}

// EntryJSON is the wire form of an objfs.Entry.
type EntryJSON struct {
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	Kind         string     `json:"kind"`
	Size         int64      `json:"size"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

// NewEntryJSON converts e.
func NewEntryJSON(e objfs.Entry) EntryJSON {
	out := EntryJSON{
		Name: e.Name,
		Path: e.Path.String(),
		Kind: e.Kind.String(),
		Size: e.Size,
	}
	if !e.LastModified.IsZero() {
		t := e.LastModified.UTC()
		out.LastModified = &t
	}
	return out
}

// ListingResponse is the body of a directory GET.
type ListingResponse struct {
	Path      string      `json:"path"`
	Entries   []EntryJSON `json:"entries"`
	Truncated bool        `json:"truncated"`
}

// FSHandler serves /v1/fs/{bucket}/<path>:
//
//	GET     file content (Range supported) or a directory listing
//	HEAD    file headers, or the kind header for directories
//	PUT     write a file; a trailing slash or ?type=directory creates a directory
//	DELETE  remove a file or an empty directory; ?recursive=true removes a tree
//	POST    ?op=rename&to=<path> or ?op=touch[&mtime=<RFC3339>]
type FSHandler struct {
	fss    FileSystems
	logger *zap.Logger
}

// NewFSHandler returns a handler over fss.
func NewFSHandler(fss FileSystems, logger *zap.Logger) *FSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FSHandler{fss: fss, logger: logger.Named("http.fs")}
}

// Register mounts the handler on r under /v1/fs.
func (h *FSHandler) Register(r chi.Router) {
	for _, pattern := range []string{"/v1/fs/{bucket}", "/v1/fs/{bucket}/*"} {
		r.Get(pattern, h.get)
		r.Head(pattern, h.head)
		r.Put(pattern, h.put)
		r.Delete(pattern, h.delete)
		r.Post(pattern, h.post)
	}
}

func (h *FSHandler) target(r *http.Request) (*objfs.FileSystem, objfs.Path, error) {
	fsys, err := h.fss.FileSystem(r.Context(), chi.URLParam(r, "bucket"))
	if err != nil {
		return nil, objfs.Path{}, err
	}
	p, err := fsys.Path("/" + chi.URLParam(r, "*"))
	if err != nil {
		return nil, objfs.Path{}, err
	}
	return fsys, p, nil
}

func badRequest(msg string) error {
	return apperrors.New(http.StatusBadRequest, apperrors.CodeBadRequest, msg)
}

func (h *FSHandler) get(w http.ResponseWriter, r *http.Request) {
	fsys, p, err := h.target(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	entry, err := fsys.Stat(r.Context(), p)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if entry.IsDir() {
		h.list(w, r, fsys, entry)
		return
	}
	h.serveFile(w, r, fsys, p)
}

func (h *FSHandler) list(w http.ResponseWriter, r *http.Request, fsys *objfs.FileSystem, dir objfs.Entry) {
	limit := -1
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			respondWithError(w, r, badRequest("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	resp := ListingResponse{Path: dir.Path.String(), Entries: []EntryJSON{}}
	for e, err := range fsys.ListChildren(r.Context(), dir.Path) {
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		if limit >= 0 && len(resp.Entries) == limit {
			resp.Truncated = true
			break
		}
		resp.Entries = append(resp.Entries, NewEntryJSON(e))
	}
	w.Header().Set(KindHeader, objfs.Directory.String())
	apperrors.WriteJSON(w, http.StatusOK, resp)
}

func (h *FSHandler) serveFile(w http.ResponseWriter, r *http.Request, fsys *objfs.FileSystem, p objfs.Path) {
	rd, err := fsys.OpenRead(r.Context(), p)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	defer func() { _ = rd.Close() }()

	w.Header().Set(KindHeader, objfs.File.String())
	http.ServeContent(w, r, rd.Name(), rd.ModTime(), rd)
}

func (h *FSHandler) head(w http.ResponseWriter, r *http.Request) {
	fsys, p, err := h.target(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	entry, err := fsys.Stat(r.Context(), p)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if entry.IsDir() {
		w.Header().Set(KindHeader, objfs.Directory.String())
		w.WriteHeader(http.StatusOK)
		return
	}
	h.serveFile(w, r, fsys, p)
}

func (h *FSHandler) put(w http.ResponseWriter, r *http.Request) {
	fsys, p, err := h.target(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	wild := chi.URLParam(r, "*")
	if r.URL.Query().Get("type") == "directory" || (wild != "" && wild[len(wild)-1] == '/') {
		if err := fsys.CreateDirectory(r.Context(), p); err != nil {
			respondWithError(w, r, err)
			return
		}
		w.Header().Set(KindHeader, objfs.Directory.String())
		w.WriteHeader(http.StatusCreated)
		return
	}

	var opts []objfs.WriteOption
	if ct := r.Header.Get("Content-Type"); ct != "" {
		opts = append(opts, objfs.WithObjectOptions(provider.WithContentType(ct)))
	}
	wr, err := fsys.OpenWrite(r.Context(), p, opts...)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	n, err := io.Copy(wr, r.Body)
	if err != nil {
		_ = wr.Abort()
		respondWithError(w, r, badRequest("reading request body: "+err.Error()))
		return
	}
	if err := wr.Close(); err != nil {
		respondWithError(w, r, err)
		return
	}
	h.logger.Debug("object written", zap.String("path", p.URI()), zap.Int64("bytes", n), zap.String("session", wr.ID()))
	w.Header().Set(KindHeader, objfs.File.String())
	w.WriteHeader(http.StatusCreated)
}

func (h *FSHandler) delete(w http.ResponseWriter, r *http.Request) {
	fsys, p, err := h.target(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	recursive, _ := strconv.ParseBool(r.URL.Query().Get("recursive"))

	entry, err := fsys.Stat(r.Context(), p)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if entry.IsDir() {
		err = fsys.DeleteDirectory(r.Context(), p, recursive)
	} else {
		err = fsys.Delete(r.Context(), p)
	}
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FSHandler) post(w http.ResponseWriter, r *http.Request) {
	fsys, p, err := h.target(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	q := r.URL.Query()
	switch q.Get("op") {
	case "rename":
		to := q.Get("to")
		if to == "" {
			respondWithError(w, r, badRequest("rename requires a 'to' path"))
			return
		}
		dst, err := fsys.Path(to)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		if err := fsys.Rename(r.Context(), p, dst); err != nil {
			respondWithError(w, r, err)
			return
		}
		h.writeEntry(w, r, fsys, dst)
	case "touch":
		mtime := time.Now()
		if s := q.Get("mtime"); s != "" {
			if mtime, err = time.Parse(time.RFC3339Nano, s); err != nil {
				respondWithError(w, r, badRequest("mtime must be RFC 3339"))
				return
			}
		}
		if err := fsys.SetLastModified(r.Context(), p, mtime); err != nil {
			respondWithError(w, r, err)
			return
		}
		h.writeEntry(w, r, fsys, p)
	default:
		respondWithError(w, r, badRequest("op must be rename or touch"))
	}
}

func (h *FSHandler) writeEntry(w http.ResponseWriter, r *http.Request, fsys *objfs.FileSystem, p objfs.Path) {
	entry, err := fsys.Stat(r.Context(), p)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, NewEntryJSON(entry))
}
