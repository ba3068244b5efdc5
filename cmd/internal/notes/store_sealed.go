package notes

import (
	"context"
	"fmt"
)

// Sealer encrypts note content bound to a room. sealbox.Box satisfies it.
type Sealer interface {
	Seal(roomID, plaintext string) (string, error)
	Open(roomID, sealed string) (string, error)
}

type sealedStore struct {
	Store
	box Sealer
}

// WithSealing wraps base so notes and versions flagged as encrypted are sealed at rest.
// Callers always see plaintext.
func WithSealing(base Store, box Sealer) Store {
	if box == nil {
		return base
	}
	return &sealedStore{Store: base, box: box}
}

func (s *sealedStore) GetNote(ctx context.Context, roomID string) (Note, error) {
	n, err := s.Store.GetNote(ctx, roomID)
	if err != nil || !n.Encrypted {
		return n, err
	}
	pt, err := s.box.Open(roomID, n.Content)
	if err != nil {
		return Note{}, fmt.Errorf("open note %s: %w", roomID, err)
	}
	n.Content = pt
	return n, nil
}

func (s *sealedStore) UpsertNote(ctx context.Context, in UpsertNoteInput) (Note, error) {
	plaintext := in.Content
	if in.Encrypt {
		sealed, err := s.box.Seal(in.RoomID, in.Content)
		if err != nil {
			return Note{}, fmt.Errorf("seal note: %w", err)
		}
		in.Content = sealed
	}
	n, err := s.Store.UpsertNote(ctx, in)
	if err != nil {
		return Note{}, err
	}
	n.Content = plaintext
	return n, nil
}

func (s *sealedStore) SaveVersion(ctx context.Context, in SaveVersionInput) (Version, error) {
	plaintext := in.Content
	if in.Encrypted {
		sealed, err := s.box.Seal(in.RoomID, in.Content)
		if err != nil {
			return Version{}, fmt.Errorf("seal version: %w", err)
		}
		in.Content = sealed
	}
	v, err := s.Store.SaveVersion(ctx, in)
	if err != nil {
		return Version{}, err
	}
	v.Content = plaintext
	return v, nil
}

func (s *sealedStore) ListVersions(ctx context.Context, roomID string, limit int) ([]Version, error) {
	vs, err := s.Store.ListVersions(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	for i := range vs {
		if err := s.openVersion(&vs[i]); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

func (s *sealedStore) GetVersion(ctx context.Context, roomID string, versionID int64) (Version, error) {
	v, err := s.Store.GetVersion(ctx, roomID, versionID)
	if err != nil {
		return Version{}, err
	}
	if err := s.openVersion(&v); err != nil {
		return Version{}, err
	}
	return v, nil
}

func (s *sealedStore) openVersion(v *Version) error {
	if !v.Encrypted {
		return nil
	}
	pt, err := s.box.Open(v.RoomID, v.Content)
	if err != nil {
		return fmt.Errorf("open version %d: %w", v.ID, err)
	}
	v.Content = pt
	return nil
}
