// Package memory is an in-process category reader, seeded from a list or a
// plain text file with one "Name[,kind]" per line.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/houfu/lavender-ledger/internal/core"
	ports "github.com/houfu/lavender-ledger/internal/sheets"
)

type Store struct {
	mu   sync.Mutex
	cats []core.Category
}

var _ ports.CategoryReader = (*Store)(nil)

func New(cats ...core.Category) *Store {
	return &Store{cats: dedupe(cats)}
}

// NewFromFile reads a text vocabulary. Blank lines and "#" comments are skipped.
func NewFromFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open categories file: %w", err)
	}
	defer f.Close()

	var cats []core.Category
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, kind, _ := strings.Cut(line, ",")
		cats = append(cats, core.Category{
			Name: strings.TrimSpace(name),
			Kind: strings.ToLower(strings.TrimSpace(kind)),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read categories file: %w", err)
	}
	return New(cats...), nil
}

func (s *Store) Name() string { return "memory" }

// Add appends a category unless the name is already present.
func (s *Store) Add(c core.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cats = dedupe(append(s.cats, c))
}

func (s *Store) Categories(_ context.Context) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Category, len(s.cats))
	for i, c := range s.cats {
		c.Source = s.Name()
		out[i] = c
	}
	return out, nil
}

// dedupe drops blank and repeated names (ignoring case), preserving order.
func dedupe(in []core.Category) []core.Category {
	seen := map[string]struct{}{}
	out := make([]core.Category, 0, len(in))
	for _, c := range in {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		key := strings.ToLower(c.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
