package mcpservice

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ggoodman/mcp-sse-middleware/mcp"
)

// DefaultPageSize is the resources/list page size used when none is set.
const DefaultPageSize = 50

// ResourceRegistry holds the server's resources keyed by URI. Resources that
// implement ResourceWatcher have their change signals forwarded to
// subscribers of Updated.
type ResourceRegistry struct {
	*Registry[Resource]

	updates ChangeNotifier[string]
}

// NewResourceRegistry returns an empty ResourceRegistry.
func NewResourceRegistry() *ResourceRegistry {
	r := &ResourceRegistry{}
	r.Registry = newRegistry(KindResource, Resource.URI, r.watch)
	r.Registry.release = func(aux any) { aux.(*resourceWatch).stop() }
	return r
}

// resourceWatch forwards one registered resource's change signals until
// stopped.
type resourceWatch struct {
	done chan struct{}
	once sync.Once
}

func (w *resourceWatch) stop() { w.once.Do(func() { close(w.done) }) }

func (r *ResourceRegistry) watch(res Resource) (any, error) {
	rw, ok := res.(ResourceWatcher)
	if !ok {
		return nil, nil
	}
	uri := res.URI()
	ch := rw.Updates()
	w := &resourceWatch{done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-w.done:
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				// A stopped watch must not forward a signal that raced with stop.
				select {
				case <-w.done:
					return
				default:
				}
				r.updates.Notify(uri)
			}
		}
	}()
	return w, nil
}

// Updated returns a channel receiving the URI of each resource that reports
// a content change.
func (r *ResourceRegistry) Updated() <-chan string {
	return r.updates.Subscriber()
}

// Close closes list-change and update subscriber channels.
func (r *ResourceRegistry) Close() {
	r.Registry.Close()
	r.updates.Close()
}

// Read looks up the resource registered under uri and reads it.
func (r *ResourceRegistry) Read(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	res, ok := r.Get(uri)
	if !ok {
		return nil, r.notFound(uri)
	}
	out, err := res.Read(ctx, uri)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &mcp.ReadResourceResult{}
	}
	return out, nil
}

// Descriptors returns the listing form of every resource, ordered by URI.
func (r *ResourceRegistry) Descriptors() []mcp.Resource {
	list := r.List()
	out := make([]mcp.Resource, 0, len(list))
	for _, res := range list {
		out = append(out, describeResource(res))
	}
	return out
}

// Page returns one page of descriptors starting at the offset encoded in
// cursor. next is empty when no resources remain. An unparseable cursor
// restarts from the first page.
func (r *ResourceRegistry) Page(cursor *string, pageSize int) (items []mcp.Resource, next string) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	all := r.Descriptors()

	start := parseCursor(cursor)
	if start > len(all) {
		start = 0
	}
	end := min(start+pageSize, len(all))
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return all[start:end], next
}

func parseCursor(cursor *string) int {
	if cursor == nil || *cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(*cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func describeResource(res Resource) mcp.Resource {
	d := mcp.Resource{
		URI:         res.URI(),
		Name:        res.Name(),
		Description: res.Description(),
		MimeType:    res.MimeType(),
	}
	if m, ok := res.(ResourceMetadata); ok {
		d.Title = m.Title()
		if n, ok := m.Size(); ok {
			d.Size = &n
		}
		d.Icons = m.Icons()
	}
	return d
}

// TextContents builds a text entry of a read result.
func TextContents(uri, mimeType, text string) mcp.ResourceContents {
	return mcp.ResourceContents{URI: uri, MimeType: mimeType, Text: &text}
}

// BlobContents builds a binary entry of a read result; data is base64 encoded.
func BlobContents(uri, mimeType string, data []byte) mcp.ResourceContents {
	blob := base64.StdEncoding.EncodeToString(data)
	return mcp.ResourceContents{URI: uri, MimeType: mimeType, Blob: &blob}
}

// ResourceOption configures the optional metadata of the resources built by
// this package.
type ResourceOption func(*resourceMeta)

type resourceMeta struct {
	description string
	title       string
	icons       []mcp.Icon
	log         *slog.Logger
}

func newResourceMeta(opts []ResourceOption) resourceMeta {
	m := resourceMeta{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func WithResourceDescription(desc string) ResourceOption {
	return func(m *resourceMeta) { m.description = desc }
}

func WithResourceTitle(title string) ResourceOption {
	return func(m *resourceMeta) { m.title = title }
}

// WithResourceIcon appends an icon. sizes may be empty.
func WithResourceIcon(src, mimeType string, sizes ...string) ResourceOption {
	return func(m *resourceMeta) {
		m.icons = append(m.icons, mcp.Icon{Src: src, MimeType: mimeType, Sizes: sizes})
	}
}

// WithResourceLogger sets the logger used by resources that do background
// work, such as FileResource.
func WithResourceLogger(log *slog.Logger) ResourceOption {
	return func(m *resourceMeta) {
		if log != nil {
			m.log = log
		}
	}
}

func (m *resourceMeta) Description() string { return m.description }
func (m *resourceMeta) Title() string       { return m.title }
func (m *resourceMeta) Icons() []mcp.Icon   { return m.icons }

// StaticResource serves fixed text or binary content.
type StaticResource struct {
	resourceMeta

	uri      string
	name     string
	mimeType string
	text     *string
	blob     []byte
	read     func(ctx context.Context) (string, error)
}

// NewTextResource returns a resource serving text.
func NewTextResource(uri, name, mimeType, text string, opts ...ResourceOption) *StaticResource {
	return &StaticResource{
		resourceMeta: newResourceMeta(opts),
		uri:          uri,
		name:         name,
		mimeType:     mimeType,
		text:         &text,
	}
}

// NewBlobResource returns a resource serving binary data.
func NewBlobResource(uri, name, mimeType string, data []byte, opts ...ResourceOption) *StaticResource {
	return &StaticResource{
		resourceMeta: newResourceMeta(opts),
		uri:          uri,
		name:         name,
		mimeType:     mimeType,
		blob:         data,
	}
}

// NewFuncResource returns a resource whose text is produced by fn on every
// read. It reports no size.
func NewFuncResource(uri, name, mimeType string, fn func(ctx context.Context) (string, error), opts ...ResourceOption) *StaticResource {
	return &StaticResource{
		resourceMeta: newResourceMeta(opts),
		uri:          uri,
		name:         name,
		mimeType:     mimeType,
		read:         fn,
	}
}

func (r *StaticResource) URI() string      { return r.uri }
func (r *StaticResource) Name() string     { return r.name }
func (r *StaticResource) MimeType() string { return r.mimeType }

func (r *StaticResource) Size() (int64, bool) {
	switch {
	case r.read != nil:
		return 0, false
	case r.text != nil:
		return int64(len(*r.text)), true
	default:
		return int64(len(r.blob)), true
	}
}

func (r *StaticResource) Read(ctx context.Context, _ string) (*mcp.ReadResourceResult, error) {
	var c mcp.ResourceContents
	switch {
	case r.read != nil:
		text, err := r.read(ctx)
		if err != nil {
			return nil, err
		}
		c = TextContents(r.uri, r.mimeType, text)
	case r.text != nil:
		c = TextContents(r.uri, r.mimeType, *r.text)
	default:
		c = BlobContents(r.uri, r.mimeType, r.blob)
	}
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{c}}, nil
}
