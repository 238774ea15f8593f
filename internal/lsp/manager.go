package lsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dshills/clangmux/internal/config"
	"github.com/dshills/clangmux/internal/event"
	"github.com/dshills/clangmux/internal/host"
	"github.com/dshills/clangmux/internal/project"
)

// FallbackID keys the session serving documents that resolve to no
// project. Project ids are normalized URIs, so the two namespaces
// cannot collide.
const FallbackID = "fallback"

// sessionEntry is one live session in the registry.
type sessionEntry struct {
	key     string
	project *project.Project // nil for the fallback session
	sup     *Supervisor
	filter  DocumentFilter
	docs    map[string]host.Document // every document routed here
	sink    io.WriteCloser
}

// Manager routes open documents to per-project sessions.
//
// The registry maps project ids (plus FallbackID) to at most one live
// session each. Documents that resolve to no project are tracked in an
// unmatched set and served by the session of the active project: the
// pinned override if set, else the service's current project, else the
// fallback session.
//
// Resolution can suspend on the service's readiness gate, so the
// registry lock is never held across a resolve call; each handler
// re-checks registry state after resolving.
type Manager struct {
	service  *project.Service
	factory  Factory
	store    *config.Store
	docs     host.Documents
	ui       host.UI
	commands host.Commands
	logger   *slog.Logger

	mu           sync.Mutex
	entries      map[string]*sessionEntry
	unmatched    map[string]host.Document
	unmatchedKey string // key of the entry serving the unmatched set
	override     *project.Project
	subs         []*event.Subscription
	started      bool

	ctx      context.Context
	cancel   context.CancelFunc
	disposed atomic.Bool
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a routing manager. Call Start to begin routing.
func NewManager(service *project.Service, factory Factory, store *config.Store, docs host.Documents, ui host.UI, commands host.Commands, opts ...ManagerOption) *Manager {
	m := &Manager{
		service:   service,
		factory:   factory,
		store:     store,
		docs:      docs,
		ui:        ui,
		commands:  commands,
		logger:    slog.Default(),
		entries:   make(map[string]*sessionEntry),
		unmatched: make(map[string]host.Document),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to host and service events, registers the restart
// command, and routes every already-open document.
func (m *Manager) Start(ctx context.Context) error {
	if m.disposed.Load() {
		return ErrManagerDisposed
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	if err := m.commands.Register(host.CommandRestart, m.restartCommand); err != nil {
		return fmt.Errorf("register restart command: %w", err)
	}

	m.mu.Lock()
	m.subs = append(m.subs,
		m.docs.OnDidOpen(func(doc host.Document) { m.routeOpen(m.ctx, doc, true) }),
		m.docs.OnDidClose(m.handleClose),
		m.docs.OnDidChangeActive(m.handleActive),
		m.service.OnProjectsChanged(m.handleProjects),
		m.service.OnCurrentChanged(m.handleCurrent),
	)
	m.mu.Unlock()

	for _, doc := range m.docs.Open() {
		m.routeOpen(m.ctx, doc, false)
	}
	return nil
}

func (m *Manager) restartCommand(ctx context.Context, args ...any) (any, error) {
	return nil, m.RestartAll(ctx)
}

// routeOpen resolves a document and attaches it to the session that
// should serve it, creating the session on demand.
func (m *Manager) routeOpen(ctx context.Context, doc host.Document, updateCurrent bool) {
	if m.disposed.Load() {
		return
	}
	if !IsServedLanguage(DocumentLanguage(doc)) {
		return
	}

	// Resolution may suspend on the readiness gate.
	proj, err := m.service.Resolve(ctx, doc.URI, updateCurrent)
	if err != nil {
		m.logger.Debug("resolution failed", "uri", doc.URI, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed.Load() {
		return
	}

	if proj == nil {
		m.openUnmatchedLocked(doc)
		return
	}
	m.openMatchedLocked(proj, doc)
}

// openMatchedLocked attaches a document to its project's session.
func (m *Manager) openMatchedLocked(proj *project.Project, doc host.Document) {
	// The document may have been unmatched before its project appeared.
	if _, ok := m.unmatched[doc.URI]; ok {
		m.pruneUnmatchedLocked(doc.URI)
	}

	e := m.entries[proj.ID]
	if e == nil {
		var extras []string
		if m.activeKeyLocked() == proj.ID && len(m.unmatched) > 0 {
			// The active project's session takes over the unmatched
			// documents from whichever session held them.
			m.releaseUnmatchedLocked()
			extras = m.unmatchedURIsLocked()
		}
		var err error
		e, err = m.createEntryLocked(proj.ID, proj, extras)
		if err != nil {
			m.logger.Error("creating session", "project", proj.ID, "error", err)
			return
		}
		if extras != nil {
			m.adoptUnmatchedLocked(e)
		}
	}
	m.attachLocked(e, doc)
}

// openUnmatchedLocked tracks a document that resolved to no project and
// attaches it to the active project's session.
func (m *Manager) openUnmatchedLocked(doc host.Document) {
	m.unmatched[doc.URI] = doc

	key := m.activeKeyLocked()
	if key == m.unmatchedKey {
		if e := m.entries[key]; e != nil {
			m.attachLocked(e, doc)
			return
		}
	}
	m.reassignUnmatchedLocked()
}

// reassignUnmatchedLocked moves the unmatched set to the session of the
// active project, building or rebuilding that session as needed.
func (m *Manager) reassignUnmatchedLocked() {
	if len(m.unmatched) == 0 {
		m.releaseUnmatchedLocked()
		return
	}

	key := m.activeKeyLocked()
	if key == m.unmatchedKey && m.entries[key] != nil {
		return
	}
	m.releaseUnmatchedLocked()

	proj := m.activeProjectLocked()
	extras := m.unmatchedURIsLocked()

	if e := m.entries[key]; e != nil {
		// The active project already has a session; rebuild it with
		// the unmatched documents pinned into its filter.
		rootDocs := m.rootDocsLocked(e)
		m.disposeEntryLocked(e)
		ne, err := m.createEntryLocked(key, proj, extras)
		if err != nil {
			m.logger.Error("rebuilding session", "project", key, "error", err)
			return
		}
		for _, d := range rootDocs {
			m.attachLocked(ne, d)
		}
		m.adoptUnmatchedLocked(ne)
		return
	}

	ne, err := m.createEntryLocked(key, proj, extras)
	if err != nil {
		m.logger.Error("creating session", "project", key, "error", err)
		return
	}
	m.adoptUnmatchedLocked(ne)
}

// releaseUnmatchedLocked takes unmatched duty away from its holder. A
// fallback holder is disposed outright; a project holder keeps a
// session only if documents remain under its root, rebuilt without the
// pinned extras.
func (m *Manager) releaseUnmatchedLocked() {
	key := m.unmatchedKey
	m.unmatchedKey = ""
	if key == "" {
		return
	}
	e := m.entries[key]
	if e == nil {
		return
	}

	rootDocs := m.rootDocsLocked(e)
	proj := e.project
	m.disposeEntryLocked(e)
	if len(rootDocs) == 0 {
		return
	}

	ne, err := m.createEntryLocked(key, proj, nil)
	if err != nil {
		m.logger.Error("rebuilding session", "project", key, "error", err)
		return
	}
	for _, d := range rootDocs {
		m.attachLocked(ne, d)
	}
}

// adoptUnmatchedLocked attaches every unmatched document to the entry
// and records it as the holder.
func (m *Manager) adoptUnmatchedLocked(e *sessionEntry) {
	for _, doc := range m.unmatched {
		m.attachLocked(e, doc)
	}
	m.unmatchedKey = e.key
}

// pruneUnmatchedLocked removes one document from the unmatched set and
// detaches it from the holding session. Membership was checked at the
// call site; the holder lookup is by explicit key so a missing entry
// cannot corrupt the rest of the set.
func (m *Manager) pruneUnmatchedLocked(uri string) {
	delete(m.unmatched, uri)

	if e := m.entries[m.unmatchedKey]; e != nil {
		if _, ok := e.docs[uri]; ok {
			m.detachLocked(e, uri)
		}
		if len(e.docs) == 0 && m.overrideKeyLocked() != e.key {
			m.disposeEntryLocked(e)
		}
	}
	if len(m.unmatched) == 0 {
		m.unmatchedKey = ""
	}
}

// handleClose routes a document-close event. Sessions are disposed once
// nothing routes to them; the override's session survives regardless.
func (m *Manager) handleClose(doc host.Document) {
	if m.disposed.Load() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed.Load() {
		return
	}

	if _, ok := m.unmatched[doc.URI]; ok {
		m.pruneUnmatchedLocked(doc.URI)
		return
	}

	e := m.entryForDocLocked(doc.URI)
	if e == nil {
		return
	}
	m.detachLocked(e, doc.URI)

	if m.overrideKeyLocked() == e.key {
		return
	}
	if len(e.docs) == 0 {
		m.disposeEntryLocked(e)
	}
}

// handleActive keeps the service's current project tracking the focused
// document. Unmatched migration follows lazily from later document
// events; status text follows from the resulting CurrentChange.
func (m *Manager) handleActive(doc host.Document) {
	if m.disposed.Load() {
		return
	}
	if !IsServedLanguage(DocumentLanguage(doc)) {
		return
	}
	if _, err := m.service.Resolve(m.ctx, doc.URI, true); err != nil {
		m.logger.Debug("tracking focus", "uri", doc.URI, "error", err)
	}
}

// handleCurrent mirrors current-project transitions into the status
// indicator.
func (m *Manager) handleCurrent(project.CurrentChange) {
	if m.disposed.Load() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateStatusLocked()
}

// handleProjects reacts to membership changes of the active strategy.
// Sessions of removed and updated projects are disposed and their
// documents routed again from scratch; documents that were unmatched
// get a chance to match a newly added project.
func (m *Manager) handleProjects(change project.Change) {
	if m.disposed.Load() {
		return
	}

	var orphans []host.Document

	m.mu.Lock()
	for _, rem := range change.Removed {
		if m.override != nil && m.override.ID == rem.ID {
			// The pinned project vanished; unpin rather than keep
			// routing to a dead partition.
			m.override = nil
		}
		orphans = append(orphans, m.dropEntryLocked(rem.ID)...)
	}
	for _, upd := range change.Updated {
		if m.override != nil && m.override.ID == upd.ID {
			p := upd
			m.override = &p
		}
		orphans = append(orphans, m.dropEntryLocked(upd.ID)...)
	}
	if len(change.Added) > 0 {
		for _, doc := range m.unmatched {
			orphans = append(orphans, doc)
		}
	} else if m.unmatchedKey == "" && len(m.unmatched) > 0 {
		// The holder went away with a removed or updated project and
		// no re-resolution is coming; rehome the set now.
		m.reassignUnmatchedLocked()
	}
	m.updateStatusLocked()
	m.mu.Unlock()

	for _, doc := range orphans {
		m.routeOpen(m.ctx, doc, false)
	}
}

// dropEntryLocked disposes the session keyed by id and returns the
// documents that now need a new home. Unmatched documents attached to
// the session stay in the unmatched set.
func (m *Manager) dropEntryLocked(id string) []host.Document {
	e := m.entries[id]
	if e == nil {
		return nil
	}
	rootDocs := m.rootDocsLocked(e)
	m.disposeEntryLocked(e)
	return rootDocs
}

// SetOverride pins the active project to the given id, or clears the
// pin when id is empty. The project must be known to the active
// strategy. The sessions of the previous and new override are rebuilt
// because the filter governing unmatched documents depends on which
// project is active.
func (m *Manager) SetOverride(id string) error {
	if m.disposed.Load() {
		return ErrManagerDisposed
	}

	var proj *project.Project
	if id != "" {
		proj = findProject(m.service.Projects(), id)
		if proj == nil {
			return fmt.Errorf("%w: %s", ErrUnknownProject, id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.override
	m.override = proj
	if project.Same(old, proj) {
		return nil
	}

	// Each affected session is rebuilt at most once. When unmatched
	// documents are in play the reassignment below performs the
	// rebuild itself, with the documents pinned into the new filter.
	if old != nil && !(len(m.unmatched) > 0 && m.activeKeyLocked() == old.ID) {
		m.rebuildEntryLocked(old.ID)
	}
	if proj != nil && len(m.unmatched) == 0 {
		m.rebuildEntryLocked(proj.ID)
	}
	m.reassignUnmatchedLocked()
	m.updateStatusLocked()
	return nil
}

// Override returns the pinned project, or nil.
func (m *Manager) Override() *project.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.override == nil {
		return nil
	}
	p := *m.override
	return &p
}

// rebuildEntryLocked disposes the session keyed by id and recreates it
// when documents remain under its root.
func (m *Manager) rebuildEntryLocked(id string) {
	e := m.entries[id]
	if e == nil {
		return
	}
	rootDocs := m.rootDocsLocked(e)
	proj := e.project
	m.disposeEntryLocked(e)
	if len(rootDocs) == 0 {
		return
	}
	ne, err := m.createEntryLocked(id, proj, nil)
	if err != nil {
		m.logger.Error("rebuilding session", "project", id, "error", err)
		return
	}
	for _, d := range rootDocs {
		m.attachLocked(ne, d)
	}
}

// RestartAll tears down every session and routes all open documents
// again from scratch. Bound to the restart command; also the recovery
// path for sessions that exhausted their restart cap.
func (m *Manager) RestartAll(ctx context.Context) error {
	if m.disposed.Load() {
		return ErrManagerDisposed
	}

	m.mu.Lock()
	entries := make([]*sessionEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.entries = make(map[string]*sessionEntry)
	m.unmatched = make(map[string]host.Document)
	m.unmatchedKey = ""
	m.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.sup.Stop(); err != nil {
			errs = append(errs, err)
		}
		m.closeSink(e)
	}

	for _, doc := range m.docs.Open() {
		m.routeOpen(ctx, doc, false)
	}

	// Partitioning semantics may have changed entirely; a pin into the
	// old partitioning is meaningless.
	m.mu.Lock()
	if m.override != nil && findProject(m.service.Projects(), m.override.ID) == nil {
		m.override = nil
	}
	m.updateStatusLocked()
	m.mu.Unlock()

	return errors.Join(errs...)
}

// ExecuteCommand runs a workspace command on the session serving the
// document. Command failures are surfaced to the user; they are the one
// user-initiated request class, unlike background traffic whose
// failures are only logged.
func (m *Manager) ExecuteCommand(ctx context.Context, uri, command string, args ...any) ([]byte, error) {
	if m.disposed.Load() {
		return nil, ErrManagerDisposed
	}

	m.mu.Lock()
	var sup *Supervisor
	if _, ok := m.unmatched[uri]; ok {
		if e := m.entries[m.unmatchedKey]; e != nil {
			sup = e.sup
		}
	} else if e := m.entryForDocLocked(uri); e != nil {
		sup = e.sup
	}
	m.mu.Unlock()

	if sup == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, uri)
	}

	result, err := sup.ExecuteCommand(ctx, command, args...)
	if err != nil {
		m.ui.Error(fmt.Sprintf("command %s failed: %v", command, err))
		return nil, err
	}
	return result, nil
}

// SessionInfo describes one live session.
type SessionInfo struct {
	Key             string
	Project         *project.Project
	State           SupervisorState
	Documents       int
	ServesUnmatched bool
}

// Sessions returns a snapshot of the live sessions, sorted by key.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(m.entries))
	for _, e := range m.entries {
		info := SessionInfo{
			Key:             e.key,
			State:           e.sup.State(),
			Documents:       len(e.docs),
			ServesUnmatched: e.key == m.unmatchedKey && len(m.unmatched) > 0,
		}
		if e.project != nil {
			p := *e.project
			info.Project = &p
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// UnmatchedDocuments returns the URIs of tracked unmatched documents.
func (m *Manager) UnmatchedDocuments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	uris := m.unmatchedURIsLocked()
	sort.Strings(uris)
	return uris
}

// Dispose tears the routing layer down: every session is stopped, all
// subscriptions are cancelled, and the restart command is unbound.
// Idempotent.
func (m *Manager) Dispose() error {
	if m.disposed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	subs := m.subs
	m.subs = nil
	entries := make([]*sessionEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.entries = make(map[string]*sessionEntry)
	m.unmatched = make(map[string]host.Document)
	m.unmatchedKey = ""
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	_ = m.commands.Unregister(host.CommandRestart)

	var errs []error
	for _, e := range entries {
		if err := e.sup.Stop(); err != nil {
			errs = append(errs, err)
		}
		m.closeSink(e)
	}
	return errors.Join(errs...)
}

// --- locked helpers ---

// createEntryLocked builds, starts and registers one session.
func (m *Manager) createEntryLocked(key string, proj *project.Project, extras []string) (*sessionEntry, error) {
	snap := m.store.Snapshot()

	rootURI := ""
	name := "clangd"
	if proj != nil {
		rootURI = proj.RootURI
		if proj.Name != "" {
			name = "clangd: " + proj.Name
		}
	}

	initOpts, err := MergeInitializationOptions(nil, snap.Client.InitOptions)
	if err != nil {
		return nil, fmt.Errorf("initialization options: %w", err)
	}

	filter := DocumentFilter{
		RootURI:   rootURI,
		Languages: DefaultLanguages(),
		Documents: extras,
	}
	sink := m.ui.OutputSink(name)

	opts := ClientOptions{
		ProjectID: key,
		Launch: LaunchConfig{
			Command:   snap.Client.Command,
			Arguments: snap.Client.Arguments,
		},
		RootURI:               rootURI,
		Filter:                filter,
		InitializationOptions: initOpts,
		Logger:                m.logger,
		Output:                sink,
	}

	policy := DefaultRestartPolicy()
	policy.MaxRestarts = snap.Client.MaxRestarts

	sup := NewSupervisor(m.factory, opts, policy)
	if err := sup.Start(m.ctx); err != nil {
		if sink != nil {
			sink.Close()
		}
		return nil, err
	}

	var projCopy *project.Project
	if proj != nil {
		p := *proj
		projCopy = &p
	}
	e := &sessionEntry{
		key:     key,
		project: projCopy,
		sup:     sup,
		filter:  filter,
		docs:    make(map[string]host.Document),
		sink:    sink,
	}
	m.entries[key] = e

	go m.watchSupervisor(key, sup)

	m.logger.Info("session created", "project", key, "root", rootURI, "pinned", len(extras))
	return e, nil
}

// disposeEntryLocked stops a session synchronously and removes it from
// the registry.
func (m *Manager) disposeEntryLocked(e *sessionEntry) {
	delete(m.entries, e.key)
	if m.unmatchedKey == e.key {
		m.unmatchedKey = ""
	}
	if err := e.sup.Stop(); err != nil {
		m.logger.Warn("stopping session", "project", e.key, "error", err)
	}
	m.closeSink(e)
	m.logger.Info("session disposed", "project", e.key)
}

func (m *Manager) closeSink(e *sessionEntry) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Close(); err != nil {
		m.logger.Debug("closing output sink", "project", e.key, "error", err)
	}
}

// attachLocked routes a document to a session. Duplicate attachment is
// a no-op.
func (m *Manager) attachLocked(e *sessionEntry, doc host.Document) {
	if _, ok := e.docs[doc.URI]; ok {
		return
	}
	e.docs[doc.URI] = doc
	if err := e.sup.OpenDocument(m.ctx, doc); err != nil {
		m.logger.Warn("attaching document", "project", e.key, "uri", doc.URI, "error", err)
	}
}

// detachLocked removes a document from a session.
func (m *Manager) detachLocked(e *sessionEntry, uri string) {
	delete(e.docs, uri)
	if err := e.sup.CloseDocument(m.ctx, uri); err != nil {
		m.logger.Debug("detaching document", "project", e.key, "uri", uri, "error", err)
	}
}

// entryForDocLocked finds the session a document is routed to.
func (m *Manager) entryForDocLocked(uri string) *sessionEntry {
	for _, e := range m.entries {
		if _, ok := e.docs[uri]; ok {
			return e
		}
	}
	return nil
}

// rootDocsLocked returns the documents attached to the entry that
// belong to it in their own right, excluding pinned unmatched ones.
func (m *Manager) rootDocsLocked(e *sessionEntry) []host.Document {
	docs := make([]host.Document, 0, len(e.docs))
	for uri, doc := range e.docs {
		if _, ok := m.unmatched[uri]; ok {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

func (m *Manager) unmatchedURIsLocked() []string {
	uris := make([]string, 0, len(m.unmatched))
	for uri := range m.unmatched {
		uris = append(uris, uri)
	}
	return uris
}

// activeKeyLocked returns the registry key unmatched documents route
// to: the override, else the current project, else the fallback.
func (m *Manager) activeKeyLocked() string {
	if m.override != nil {
		return m.override.ID
	}
	if cur := m.service.Current(); cur != nil {
		return cur.ID
	}
	return FallbackID
}

// activeProjectLocked returns the project behind activeKeyLocked, or
// nil for the fallback.
func (m *Manager) activeProjectLocked() *project.Project {
	if m.override != nil {
		p := *m.override
		return &p
	}
	return m.service.Current()
}

func (m *Manager) overrideKeyLocked() string {
	if m.override == nil {
		return ""
	}
	return m.override.ID
}

// updateStatusLocked mirrors the active project into the status
// indicator when the indicator is enabled.
func (m *Manager) updateStatusLocked() {
	if !m.store.Snapshot().MultiProject.StatusIndicator {
		return
	}
	p := m.override
	if p == nil {
		p = m.service.Current()
	}
	if p != nil {
		m.ui.SetStatus(p.Name)
	} else {
		m.ui.SetStatus("")
	}
}

// watchSupervisor logs session lifecycle events. A terminal failure is
// the only event surfaced to the user.
func (m *Manager) watchSupervisor(key string, sup *Supervisor) {
	for ev := range sup.Events() {
		switch ev.Type {
		case SupervisorEventCrash:
			m.logger.Warn("session crashed", "project", key, "attempt", ev.Attempt, "error", ev.Err)
		case SupervisorEventRestarting:
			m.logger.Info("session restarting", "project", key, "attempt", ev.Attempt, "retry_in", ev.NextRetry)
		case SupervisorEventRecovered:
			m.logger.Info("session recovered", "project", key, "attempt", ev.Attempt)
		case SupervisorEventFailed:
			m.logger.Error("session failed permanently", "project", key, "error", ev.Err)
			m.ui.Error(fmt.Sprintf("language server for %s crashed repeatedly; run %s to recover",
				sessionLabel(key), host.CommandRestart))
		}
	}
}

func sessionLabel(key string) string {
	if key == FallbackID {
		return "the workspace"
	}
	return key
}

func findProject(projects []project.Project, id string) *project.Project {
	for i := range projects {
		if projects[i].ID == id {
			p := projects[i]
			return &p
		}
	}
	return nil
}
