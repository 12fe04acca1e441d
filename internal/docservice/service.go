// Package docservice hosts editor sessions over vault documents. A session
// owns the live document, its AI edit orchestrator and its undo history.
package docservice

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/inkwell/internal/aiedit"
	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/collaborator"
	"github.com/starford/inkwell/internal/history"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/parser"
	"github.com/starford/inkwell/internal/revlog"
	"github.com/starford/inkwell/internal/storage"
	"github.com/starford/inkwell/internal/stream"
	"github.com/starford/inkwell/internal/watcher"
)

// Editor modes.
const (
	ModeStructured = "structured"
	ModeFlat       = "flat"
)

// Event kinds published for sessions.
const (
	EventAIState          = "ai.state"
	EventAIProgress       = "ai.progress"
	EventAICompleted      = "ai.completed"
	EventDocumentChanged  = "document.changed"
	EventDocumentReloaded = "document.reloaded"
	EventHistoryPushed    = "history.pushed"
)

// Publisher receives session events. The SSE broker implements it.
type Publisher interface {
	PublishSessionEvent(kind, sessionID string, data any)
}

// Settings tune new sessions.
type Settings struct {
	Mode            string
	ChunkSize       int
	ChunkInterval   time.Duration
	PendingDwell    time.Duration
	EditPause       time.Duration
	HistoryLimit    int
	HistoryDebounce time.Duration
}

// DefaultSettings mirrors the engine defaults.
func DefaultSettings() Settings {
	return Settings{
		Mode:            ModeStructured,
		ChunkSize:       stream.DefaultChunkSize,
		ChunkInterval:   stream.DefaultInterval,
		PendingDwell:    aiedit.DefaultPendingDwell,
		EditPause:       aiedit.DefaultEditPause,
		HistoryLimit:    history.MaxHistory,
		HistoryDebounce: history.DefaultDebounce,
	}
}

// Service coordinates storage, the revision log and open sessions.
type Service struct {
	store    storage.Provider
	revs     revlog.Log
	collab   collaborator.Collaborator
	settings Settings
	pub      Publisher
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Service.
type Option func(*Service)

func WithSettings(st Settings) Option {
	return func(s *Service) { s.settings = st }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.pub = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a document service. revs may be nil to disable the
// revision log.
func NewService(store storage.Provider, revs revlog.Log, collab collaborator.Collaborator, opts ...Option) *Service {
	if collab == nil {
		collab = collaborator.Unavailable{}
	}
	s := &Service{
		store:    store,
		revs:     revs,
		collab:   collab,
		settings: DefaultSettings(),
		log:      slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListDocuments returns every document in the vault with its title.
func (s *Service) ListDocuments(_ context.Context) ([]models.DocumentInfo, error) {
	infos, err := s.store.List("")
	if err != nil {
		return nil, err
	}
	for i := range infos {
		data, err := s.store.Read(infos[i].Path)
		if err != nil {
			continue
		}
		if res, err := parser.Parse(data); err == nil {
			infos[i].Title = res.Title
		}
	}
	return infos, nil
}

// Open loads a document into a new session.
func (s *Service) Open(_ context.Context, path string) (*Session, error) {
	data, err := s.store.Read(path)
	if err != nil {
		return nil, err
	}
	sess, err := newSession(s, uuid.NewString(), path, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.record(sess, models.SourceOpen, "")
	s.log.Info("session opened", slog.String("session", sess.ID), slog.String("path", path), slog.String("mode", sess.mode))
	return sess, nil
}

// Get returns an open session.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return sess, nil
}

// Sessions lists open sessions ordered by path, then id.
func (s *Service) Sessions() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CloseSession cancels any edit in flight and forgets the session.
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return apperr.ErrNotFound
	}
	sess.close()
	s.log.Info("session closed", slog.String("session", id))
	return nil
}

// HandleFileEvent reacts to a vault change reported by the watcher.
func (s *Service) HandleFileEvent(kind, path string) {
	for _, sess := range s.Sessions() {
		if sess.Path != path {
			continue
		}
		switch kind {
		case watcher.Changed:
			if _, err := sess.Reload(context.Background()); err != nil {
				s.log.Warn("session reload failed", slog.String("session", sess.ID), slog.String("error", err.Error()))
			}
		case watcher.Removed:
			s.log.Warn("open document removed from disk", slog.String("session", sess.ID), slog.String("path", path))
		}
	}
}

// Close closes every session.
func (s *Service) Close() {
	for _, sess := range s.Sessions() {
		_ = s.CloseSession(sess.ID)
	}
}

// Revisions lists recorded revisions of a document, newest first.
func (s *Service) Revisions(_ context.Context, path string, limit int) ([]models.Revision, error) {
	if s.revs == nil {
		return []models.Revision{}, nil
	}
	revs, err := s.revs.List(path, limit)
	if err != nil {
		return nil, err
	}
	if revs == nil {
		revs = []models.Revision{}
	}
	return revs, nil
}

func (s *Service) record(sess *Session, source, explanation string) {
	if s.revs == nil {
		return
	}
	md := sess.Markdown()
	_, err := s.revs.Record(models.Revision{
		DocPath:     sess.Path,
		Source:      source,
		Checksum:    sess.bodyChecksum(md),
		Markdown:    md,
		Explanation: explanation,
	})
	if err != nil {
		s.log.Warn("revision not recorded", slog.String("path", sess.Path), slog.String("error", err.Error()))
	}
}

func (s *Service) publish(kind, sessionID string, data any) {
	if s.pub != nil {
		s.pub.PublishSessionEvent(kind, sessionID, data)
	}
}
