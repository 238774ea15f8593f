package host

import (
	"sort"
	"sync"

	"github.com/dshills/clangmux/internal/event"
)

// DocumentSet is a standalone in-memory Documents implementation.
// The CLI and tests use it in place of an embedding editor.
type DocumentSet struct {
	mu     sync.RWMutex
	docs   map[string]Document // keyed by URI
	active string

	opened       *event.Emitter[Document]
	closedEvents *event.Emitter[Document]
	activeEvents *event.Emitter[Document]
}

// NewDocumentSet creates an empty document set.
func NewDocumentSet() *DocumentSet {
	return &DocumentSet{
		docs:         make(map[string]Document),
		opened:       event.NewEmitter[Document](),
		closedEvents: event.NewEmitter[Document](),
		activeEvents: event.NewEmitter[Document](),
	}
}

// Open returns all open documents, sorted by URI.
func (s *DocumentSet) Open() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Active returns the focused document, if any.
func (s *DocumentSet) Active() (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[s.active]
	return doc, ok
}

// OnDidOpen subscribes to document-open events.
func (s *DocumentSet) OnDidOpen(fn func(Document)) *event.Subscription {
	return s.opened.Subscribe(fn)
}

// OnDidClose subscribes to document-close events.
func (s *DocumentSet) OnDidClose(fn func(Document)) *event.Subscription {
	return s.closedEvents.Subscribe(fn)
}

// OnDidChangeActive subscribes to focus changes.
func (s *DocumentSet) OnDidChangeActive(fn func(Document)) *event.Subscription {
	return s.activeEvents.Subscribe(fn)
}

// OpenDocument records a document as open and notifies subscribers.
// Opening an already-open URI is a no-op.
func (s *DocumentSet) OpenDocument(doc Document) {
	if doc.URI == "" && doc.Path != "" {
		doc.URI = PathToURI(doc.Path)
	}
	if doc.Path == "" && doc.URI != "" {
		if p, err := URIToPath(doc.URI); err == nil {
			doc.Path = p
		}
	}

	s.mu.Lock()
	if _, exists := s.docs[doc.URI]; exists {
		s.mu.Unlock()
		return
	}
	s.docs[doc.URI] = doc
	s.mu.Unlock()

	s.opened.Emit(doc)
}

// CloseDocument removes a document and notifies subscribers.
// Closing an unknown URI is a no-op.
func (s *DocumentSet) CloseDocument(uri string) {
	s.mu.Lock()
	doc, exists := s.docs[uri]
	if !exists {
		s.mu.Unlock()
		return
	}
	delete(s.docs, uri)
	if s.active == uri {
		s.active = ""
	}
	s.mu.Unlock()

	s.closedEvents.Emit(doc)
}

// SetActive marks an open document as focused and notifies subscribers.
// It returns false when the URI is not open.
func (s *DocumentSet) SetActive(uri string) bool {
	s.mu.Lock()
	doc, exists := s.docs[uri]
	if !exists || s.active == uri {
		s.mu.Unlock()
		return exists
	}
	s.active = uri
	s.mu.Unlock()

	s.activeEvents.Emit(doc)
	return true
}

// Close cancels all subscriptions.
func (s *DocumentSet) Close() {
	s.opened.Close()
	s.closedEvents.Close()
	s.activeEvents.Close()
}

// Ensure DocumentSet implements Documents.
var _ Documents = (*DocumentSet)(nil)
