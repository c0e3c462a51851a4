package mcpservice

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-sse-middleware/mcp"
)

// FileResource serves one file from disk. The containing directory is
// watched with fsnotify so that writes, replacements and removals of the
// file are reported through Updates and reflected in Size.
type FileResource struct {
	resourceMeta

	uri      string
	name     string
	path     string
	mimeType string

	size    atomic.Int64
	exists  atomic.Bool
	changes ChangeNotifier[struct{}]

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// NewFileResource returns a resource serving the file at path under uri. The
// MIME type is derived from the file extension. The file does not have to
// exist yet; reads fail until it does.
func NewFileResource(uri, name, path string, opts ...ResourceOption) (*FileResource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(abs)))
	if mt == "" {
		mt = "application/octet-stream"
	}

	r := &FileResource{
		resourceMeta: newResourceMeta(opts),
		uri:          uri,
		name:         name,
		path:         abs,
		mimeType:     mt,
		done:         make(chan struct{}),
	}
	r.stat()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.Debug("file_resource.watch.unavailable", slog.String("path", abs), slog.String("err", err.Error()))
		return r, nil
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		r.log.Debug("file_resource.watch.fail", slog.String("path", abs), slog.String("err", err.Error()))
		return r, nil
	}
	r.watcher = w
	go r.run()

	return r, nil
}

func (r *FileResource) stat() {
	fi, err := os.Stat(r.path)
	if err != nil {
		r.exists.Store(false)
		r.size.Store(0)
		return
	}
	r.size.Store(fi.Size())
	r.exists.Store(true)
}

func (r *FileResource) run() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.stat()
			r.log.Debug("file_resource.changed", slog.String("uri", r.uri), slog.String("op", ev.Op.String()))
			r.changes.Notify(struct{}{})
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Debug("file_resource.watch.error", slog.String("uri", r.uri), slog.String("err", err.Error()))
		}
	}
}

// Close stops watching the file and closes every Updates channel.
func (r *FileResource) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if r.watcher != nil {
			err = r.watcher.Close()
		}
		r.changes.Close()
	})
	return err
}

func (r *FileResource) URI() string      { return r.uri }
func (r *FileResource) Name() string     { return r.name }
func (r *FileResource) MimeType() string { return r.mimeType }

// Path returns the absolute path of the served file.
func (r *FileResource) Path() string { return r.path }

func (r *FileResource) Size() (int64, bool) {
	if !r.exists.Load() {
		return 0, false
	}
	return r.size.Load(), true
}

func (r *FileResource) Updates() <-chan struct{} {
	return r.changes.Subscriber()
}

// Read returns the file as text when it is valid UTF-8 and as a base64 blob
// otherwise.
func (r *FileResource) Read(ctx context.Context, _ string) (*mcp.ReadResourceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.uri, err)
	}
	var c mcp.ResourceContents
	if utf8.Valid(data) {
		c = TextContents(r.uri, r.mimeType, string(data))
	} else {
		c = BlobContents(r.uri, r.mimeType, data)
	}
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{c}}, nil
}
