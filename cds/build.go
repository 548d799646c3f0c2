package cds

import (
	"context"
	"fmt"
	"runtime"

	"github.com/chazu/espresso/classfile"
	"golang.org/x/sync/errgroup"
)

// Source is the view of a class path that Build needs.
type Source interface {
	Search(name string) ([]byte, error)
	Classes() ([]string, error)
}

// Build decodes every class visible on src and stores it in the archive.
// Classes are parsed concurrently; the first failure cancels the rest.
// It returns the number of classes stored.
func Build(ctx context.Context, src Source, a *Archive) (int, error) {
	names, err := src.Classes()
	if err != nil {
		return 0, fmt.Errorf("cds: listing class path: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := src.Search(name)
			if err != nil {
				return err
			}
			cf, err := classfile.Parse(data)
			if err != nil {
				return fmt.Errorf("cds: parsing %s: %w", name, err)
			}
			return a.Store(name, Digest(data), cf)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	log.Infof("archived %d classes into %s", len(names), a.path)
	return len(names), nil
}
