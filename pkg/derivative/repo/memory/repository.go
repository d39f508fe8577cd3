package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// Repository implements derivative.Repository using in-memory storage.
// Entities are copied on the way in and out.
type Repository struct {
	mu         sync.RWMutex
	nodes      map[uuid.UUID]*derivative.Node
	media      map[uuid.UUID]*derivative.Media
	files      map[uuid.UUID]*derivative.File
	filesByURI map[string]uuid.UUID
	users      map[uuid.UUID]*derivative.User
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		nodes:      make(map[uuid.UUID]*derivative.Node),
		media:      make(map[uuid.UUID]*derivative.Media),
		files:      make(map[uuid.UUID]*derivative.File),
		filesByURI: make(map[string]uuid.UUID),
		users:      make(map[uuid.UUID]*derivative.User),
	}
}

// Entity operations

func (r *Repository) GetEntity(ctx context.Context, kind derivative.EntityKind, id uuid.UUID) (derivative.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch kind {
	case derivative.KindNode:
		if n, ok := r.nodes[id]; ok {
			return n.Clone(), nil
		}
	case derivative.KindMedia:
		if m, ok := r.media[id]; ok {
			c := m.Clone()
			c.Source = nil
			if fid, ok := c.SourceFileID(); ok {
				if f, ok := r.files[fid]; ok {
					c.Source = f.Clone()
				}
			}
			return c, nil
		}
	case derivative.KindFile:
		if f, ok := r.files[id]; ok {
			return f.Clone(), nil
		}
	case derivative.KindUser:
		if u, ok := r.users[id]; ok {
			c := *u
			return &c, nil
		}
	default:
		return nil, fmt.Errorf("%w: kind %q", derivative.ErrUnsupportedEntity, kind)
	}
	return nil, derivative.ErrEntityNotFound
}

// SaveEntity stores a copy of entity. Nodes and media count a revision per
// save.
func (r *Repository) SaveEntity(ctx context.Context, entity derivative.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := entity.(type) {
	case *derivative.Node:
		c := e.Clone()
		c.Revisions = 1
		if old, ok := r.nodes[e.ID]; ok {
			c.Revisions = old.Revisions + 1
		}
		r.nodes[e.ID] = c
	case *derivative.Media:
		c := e.Clone()
		c.Source = nil
		c.Revisions = 1
		if old, ok := r.media[e.ID]; ok {
			c.Revisions = old.Revisions + 1
		}
		r.media[e.ID] = c
	case *derivative.File:
		r.upsertFileLocked(e)
	case *derivative.User:
		c := *e
		r.users[e.ID] = &c
	default:
		return fmt.Errorf("%w: %T", derivative.ErrUnsupportedEntity, entity)
	}
	return nil
}

func (r *Repository) DeleteEntity(ctx context.Context, kind derivative.EntityKind, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch kind {
	case derivative.KindNode:
		if _, ok := r.nodes[id]; ok {
			delete(r.nodes, id)
			return nil
		}
	case derivative.KindMedia:
		if _, ok := r.media[id]; ok {
			delete(r.media, id)
			return nil
		}
	case derivative.KindFile:
		if f, ok := r.files[id]; ok {
			delete(r.filesByURI, f.URI)
			delete(r.files, id)
			return nil
		}
	case derivative.KindUser:
		if _, ok := r.users[id]; ok {
			delete(r.users, id)
			return nil
		}
	default:
		return fmt.Errorf("%w: kind %q", derivative.ErrUnsupportedEntity, kind)
	}
	return derivative.ErrEntityNotFound
}

// User operations

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*derivative.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, derivative.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *Repository) SaveUser(ctx context.Context, user *derivative.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *user
	r.users[user.ID] = &c
	return nil
}

// File operations

func (r *Repository) FindFileByURI(ctx context.Context, uri string) (*derivative.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.filesByURI[uri]
	if !ok {
		return nil, derivative.ErrFileNotFound
	}
	return r.files[id].Clone(), nil
}

func (r *Repository) SaveFile(ctx context.Context, file *derivative.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.upsertFileLocked(file)
	return nil
}

// upsertFileLocked keeps one record per URI: a file saved under a new id
// takes over the id already recorded for its URI.
func (r *Repository) upsertFileLocked(file *derivative.File) {
	if id, ok := r.filesByURI[file.URI]; ok && id != file.ID {
		file.ID = id
	}
	if old, ok := r.files[file.ID]; ok && old.URI != file.URI {
		delete(r.filesByURI, old.URI)
	}
	r.files[file.ID] = file.Clone()
	r.filesByURI[file.URI] = file.ID
}

// FileCount returns the number of stored file records
func (r *Repository) FileCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

var _ derivative.Repository = (*Repository)(nil)
