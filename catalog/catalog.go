// Package catalog stores named colours in SQLite and finds the closest
// name for an arbitrary colour.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"strings"
	"time"

	"paintbynum/palette"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/colornames"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrDuplicate    = errors.New("color name already exists")
	ErrInvalidColor = errors.New("invalid color")
)

type Color struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Hex       string    `json:"hex"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

// Open opens the catalog database at path, creating it when needed. Use
// ":memory:" for a throwaway catalog.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("could not open catalog %q: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS colors (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			name              TEXT NOT NULL UNIQUE,
			hex               TEXT NOT NULL,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create catalog schema in %q: %w", path, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// NormalizeHex validates a #rrggbb colour and returns it in lower case.
func NormalizeHex(hex string) (string, error) {
	c, err := colorful.Hex(strings.TrimSpace(hex))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidColor, hex, err)
	}
	return c.Hex(), nil
}

func (s *Store) Add(ctx context.Context, name, hex string) (Color, error) {
	return insert(ctx, s.db, name, hex)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insert adds one colour through db, which is either the store's pool or
// an open transaction.
func insert(ctx context.Context, db execer, name, hex string) (Color, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Color{}, fmt.Errorf("%w: empty name", ErrInvalidColor)
	}
	hex, err := NormalizeHex(hex)
	if err != nil {
		return Color{}, err
	}

	c := Color{Name: name, Hex: hex, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	res, err := db.ExecContext(ctx,
		`INSERT INTO colors (name, hex, created_at) VALUES (?, ?, ?)`,
		c.Name, c.Hex, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Color{}, fmt.Errorf("%w: %q", ErrDuplicate, name)
		}
		return Color{}, fmt.Errorf("could not add color %q: %w", name, err)
	}

	if c.ID, err = res.LastInsertId(); err != nil {
		return Color{}, fmt.Errorf("could not read id of color %q: %w", name, err)
	}
	return c, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func (s *Store) List(ctx context.Context) ([]Color, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, hex, created_at FROM colors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("could not list colors: %w", err)
	}
	defer rows.Close()

	var colors []Color
	for rows.Next() {
		var c Color
		if err := rows.Scan(&c.ID, &c.Name, &c.Hex, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("could not read color: %w", err)
		}
		colors = append(colors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not list colors: %w", err)
	}
	return colors, nil
}

// ImportRIFF adds every colour of a RIFF PAL file, named prefix-1,
// prefix-2, ... in file order. The import is all or nothing: on error no
// colour is added. It returns the colours added.
func (s *Store) ImportRIFF(ctx context.Context, r io.Reader, prefix string) ([]Color, error) {
	pals, err := palette.ReadRIFF(r)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not start import: %w", err)
	}
	defer tx.Rollback()

	var added []Color
	n := 0
	for _, pal := range pals {
		for _, col := range pal {
			n++
			cf, _ := colorful.MakeColor(opaque(col))
			c, err := insert(ctx, tx, fmt.Sprintf("%s-%d", prefix, n), cf.Hex())
			if err != nil {
				return nil, err
			}
			added = append(added, c)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit import: %w", err)
	}
	return added, nil
}

// Index snapshots the catalog for name lookups. An empty catalog yields the
// builtin CSS colour names.
func (s *Store) Index(ctx context.Context) (*Index, error) {
	colors, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(colors) == 0 {
		return Builtin(), nil
	}
	return NewIndex(colors), nil
}

type indexEntry struct {
	name string
	lab  [3]float64
}

// Index finds the perceptually closest named colour. It is safe for
// concurrent use.
type Index struct {
	entries []indexEntry
}

var _ palette.Namer = (*Index)(nil)

func NewIndex(colors []Color) *Index {
	idx := &Index{}
	for _, c := range colors {
		cf, err := colorful.Hex(c.Hex)
		if err != nil {
			continue
		}
		l, a, b := cf.Lab()
		idx.entries = append(idx.entries, indexEntry{name: c.Name, lab: [3]float64{l, a, b}})
	}
	return idx
}

// Builtin returns an index over the SVG 1.1 colour keywords.
func Builtin() *Index {
	colors := make([]Color, 0, len(colornames.Map))
	for _, name := range colornames.Names {
		c := colornames.Map[name]
		colors = append(colors, Color{Name: name, Hex: fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)})
	}
	return NewIndex(colors)
}

func (idx *Index) Len() int {
	return len(idx.entries)
}

// Name returns the closest name in CIE L*a*b* space, or "" for an empty
// index. Ties go to the entry listed first.
func (idx *Index) Name(c color.Color) string {
	cf, _ := colorful.MakeColor(opaque(c))
	l, a, b := cf.Lab()

	best, bestDist := -1, math.Inf(1)
	for i, e := range idx.entries {
		dl, da, db := l-e.lab[0], a-e.lab[1], b-e.lab[2]
		if d := dl*dl + da*da + db*db; d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return ""
	}
	return idx.entries[best].name
}

func opaque(c color.Color) color.Color {
	nrgba := color.NRGBAModel.Convert(c).(color.NRGBA)
	nrgba.A = 0xFF
	return nrgba
}
