// Package vocab loads the category vocabulary from its sources and keeps the
// categories table in step with them.
package vocab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/houfu/lavender-ledger/internal/core"
)

const (
	KindExpense = "expense"
	KindIncome  = "income"
	KindOther   = "other"
)

// Entry is one category with the keywords the offline classifier uses.
type Entry struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Keywords []string `yaml:"keywords,omitempty"`
}

// File is the YAML vocabulary document.
//
//	notes: |
//	  Costco runs are usually Groceries.
//	categories:
//	  - name: Groceries
//	    kind: expense
//	    keywords: [WHOLEFDS, TRADER JOE]
type File struct {
	Notes   string  `yaml:"notes,omitempty"`
	Entries []Entry `yaml:"categories"`
}

func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read vocabulary: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a vocabulary document. Names must be unique
// ignoring case; a missing kind defaults to expense.
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("decode vocabulary: %w", err)
	}

	seen := make(map[string]bool, len(f.Entries))
	var errs []error
	for i := range f.Entries {
		e := &f.Entries[i]
		e.Name = strings.TrimSpace(e.Name)
		e.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("category %d: %w", i, core.ErrEmptyCategory))
			continue
		}
		if e.Kind == "" {
			e.Kind = KindExpense
		}
		switch e.Kind {
		case KindExpense, KindIncome, KindOther:
		default:
			errs = append(errs, fmt.Errorf("category %q: unknown kind %q", e.Name, e.Kind))
		}
		key := strings.ToLower(e.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("category %q listed twice", e.Name))
		}
		seen[key] = true
	}
	if err := errors.Join(errs...); err != nil {
		return File{}, err
	}
	return f, nil
}

// Names returns the category names in document order.
func (f File) Names() []string {
	out := make([]string, 0, len(f.Entries))
	for _, e := range f.Entries {
		out = append(out, e.Name)
	}
	return out
}

// Source yields categories from one place: a YAML file, a spreadsheet.
type Source interface {
	Name() string
	Categories(ctx context.Context) ([]core.Category, error)
}

// Name implements Source.
func (f File) Name() string { return "yaml" }

// Categories implements Source.
func (f File) Categories(context.Context) ([]core.Category, error) {
	out := make([]core.Category, 0, len(f.Entries))
	for _, e := range f.Entries {
		out = append(out, core.Category{Name: e.Name, Kind: e.Kind, Source: f.Name()})
	}
	return out, nil
}

// Store is the categories table, satisfied by *storage.Queries.
type Store interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
	AddCategory(ctx context.Context, name, kind, source string) (bool, error)
}

// Sync reads every source concurrently and adds the categories the store does
// not know yet. Existing names are never renamed or removed.
func Sync(ctx context.Context, store Store, sources ...Source) (int, error) {
	fetched := make([][]core.Category, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			cats, err := src.Categories(gctx)
			if err != nil {
				return fmt.Errorf("source %s: %w", src.Name(), err)
			}
			fetched[i] = cats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	added := 0
	for i, cats := range fetched {
		for _, c := range cats {
			kind := c.Kind
			if kind == "" {
				kind = KindExpense
			}
			ok, err := store.AddCategory(ctx, c.Name, kind, sources[i].Name())
			if err != nil {
				return added, core.NewStorageError("add category", err)
			}
			if ok {
				added++
			}
		}
	}
	slog.InfoContext(ctx, "Category vocabulary synced", "sources", len(sources), "added", added)
	return added, nil
}

// Names lists the vocabulary as stored.
func Names(ctx context.Context, store Store) ([]string, error) {
	cats, err := store.ListCategories(ctx)
	if err != nil {
		return nil, core.NewStorageError("list categories", err)
	}
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		out = append(out, c.Name)
	}
	return out, nil
}
