package source

import (
	"context"
	"fmt"

	"bv2src/internal/models"
)

// InputKind tells which member of a SourceInput is set
type InputKind int

const (
	SinglePath InputKind = iota
	PathList
	InMemory
)

func (k InputKind) String() string {
	switch k {
	case SinglePath:
		return "path"
	case PathList:
		return "paths"
	case InMemory:
		return "memory"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SourceInput names source spaces to consume: the latest run of a subject
// in one store, the latest runs in several stores, or spaces already in
// memory.
type SourceInput struct {
	Kind   InputKind
	Path   string
	Paths  []string
	Spaces []models.SourceSpace
}

// FromPath reads from one store file
func FromPath(path string) SourceInput { return SourceInput{Kind: SinglePath, Path: path} }

// FromPaths reads from several store files, in order
func FromPaths(paths ...string) SourceInput { return SourceInput{Kind: PathList, Paths: paths} }

// FromSpaces uses spaces already loaded
func FromSpaces(spaces []models.SourceSpace) SourceInput {
	return SourceInput{Kind: InMemory, Spaces: spaces}
}

// SpaceReader returns the most recent source spaces stored for a subject
type SpaceReader interface {
	LatestSourceSpaces(ctx context.Context, subject string) ([]models.SourceSpace, error)
	Close() error
}

// Opener opens the store at path
type Opener func(path string) (SpaceReader, error)

// Resolve loads the source spaces of subject. Stores are opened with open
// and closed before returning. InMemory inputs ignore subject and open.
func (in SourceInput) Resolve(ctx context.Context, subject string, open Opener) ([]models.SourceSpace, error) {
	switch in.Kind {
	case InMemory:
		return in.Spaces, nil
	case SinglePath:
		return readStore(ctx, in.Path, subject, open)
	case PathList:
		var all []models.SourceSpace
		for _, path := range in.Paths {
			spaces, err := readStore(ctx, path, subject, open)
			if err != nil {
				return nil, err
			}
			all = append(all, spaces...)
		}
		return all, nil
	default:
		return nil, fmt.Errorf("unknown source input kind %s", in.Kind)
	}
}

func readStore(ctx context.Context, path, subject string, open Opener) (_ []models.SourceSpace, err error) {
	r, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source store %s: %w", path, err)
	}
	defer func() {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}()

	spaces, err := r.LatestSourceSpaces(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", subject, path, err)
	}
	return spaces, nil
}
