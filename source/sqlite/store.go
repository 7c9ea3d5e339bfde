// Package sqlite reads movie entities from a SQLite catalogue and turns them
// into typed nodes for the encoder.
//
// The catalogue holds one movie table keyed by URL plus genre, actor,
// director and creator tables that reference it through entity_url. The
// matching schema.org descriptor is embedded and returned by Descriptor.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zero-day-ai/ldfeed/descriptor"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/node"
)

// TypeMovie is the descriptor type of the nodes returned by Nodes.
const TypeMovie = "Movie"

// dateLayout is how date_published is stored.
const dateLayout = "2006-01-02"

//go:embed schema.sql
var schemaSQL string

//go:embed descriptor.json
var descriptorJSON []byte

// Descriptor returns the schema.org descriptor covering the catalogue's types.
func Descriptor() (*descriptor.Descriptor, error) {
	return descriptor.LoadJSON(bytes.NewReader(descriptorJSON))
}

// Person is an actor, director or creator credited on a movie.
type Person struct {
	URL  string `yaml:"url,omitempty"`
	Name string `yaml:"name,omitempty"`
}

// Creator is a credited creator, which may be an organization.
type Creator struct {
	Person       `yaml:",inline"`
	Organization bool `yaml:"organization,omitempty"`
}

// Movie is one catalogue row with its related credits. The yaml tags give
// the layout of seed files.
type Movie struct {
	URL             string    `yaml:"url"`
	Name            string    `yaml:"name,omitempty"`
	Image           string    `yaml:"image,omitempty"`
	ContentRating   string    `yaml:"contentRating,omitempty"`
	Description     string    `yaml:"description,omitempty"`
	DatePublished   time.Time `yaml:"datePublished,omitempty"`
	Keywords        string    `yaml:"keywords,omitempty"`
	DurationMinutes int       `yaml:"durationMinutes,omitempty"`
	RatingCount     int       `yaml:"ratingCount,omitempty"`
	Rating          float64   `yaml:"rating,omitempty"`
	BestRating      float64   `yaml:"bestRating,omitempty"`
	WorstRating     float64   `yaml:"worstRating,omitempty"`

	Genres    []string  `yaml:"genres,omitempty"`
	Actors    []Person  `yaml:"actors,omitempty"`
	Directors []Person  `yaml:"directors,omitempty"`
	Creators  []Creator `yaml:"creators,omitempty"`
}

// Store is a SQLite movie catalogue.
type Store struct {
	db *sql.DB
}

// Open opens the catalogue at path and creates missing tables. Use
// ":memory:" for a private in-memory catalogue.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.db.PingContext(ctx)
}

// Seed inserts or replaces movies and their credits in one transaction.
func (s *Store) Seed(ctx context.Context, movies ...Movie) (err error) {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, m := range movies {
		if strings.TrimSpace(m.URL) == "" {
			return fmt.Errorf("movie %q has no url", m.Name)
		}
		if err := seedMovie(ctx, tx, m); err != nil {
			return fmt.Errorf("seed %s: %w", m.URL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

func seedMovie(ctx context.Context, tx *sql.Tx, m Movie) error {
	published := ""
	if !m.DatePublished.IsZero() {
		published = m.DatePublished.Format(dateLayout)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO movie (
		   url, name, image, content_rating, description, date_published,
		   keywords, duration_minutes, rating_count, rating, best_rating, worst_rating
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.URL, m.Name, m.Image, m.ContentRating, m.Description, published,
		m.Keywords, m.DurationMinutes, m.RatingCount, m.Rating, m.BestRating, m.WorstRating,
	); err != nil {
		return fmt.Errorf("insert movie: %w", err)
	}

	for _, table := range []string{"genre", "actor", "director", "creator"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE entity_url = ?", m.URL); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, g := range m.Genres {
		if _, err := tx.ExecContext(ctx, `INSERT INTO genre (entity_url, name) VALUES (?, ?)`, m.URL, g); err != nil {
			return fmt.Errorf("insert genre: %w", err)
		}
	}
	for _, p := range m.Actors {
		if _, err := tx.ExecContext(ctx, `INSERT INTO actor (entity_url, url, name) VALUES (?, ?, ?)`, m.URL, p.URL, p.Name); err != nil {
			return fmt.Errorf("insert actor: %w", err)
		}
	}
	for _, p := range m.Directors {
		if _, err := tx.ExecContext(ctx, `INSERT INTO director (entity_url, url, name) VALUES (?, ?, ?)`, m.URL, p.URL, p.Name); err != nil {
			return fmt.Errorf("insert director: %w", err)
		}
	}
	for _, c := range m.Creators {
		kind := "PERSON"
		if c.Organization {
			kind = "ORGANIZATION"
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO creator (entity_url, url, name, type) VALUES (?, ?, ?, ?)`, m.URL, c.URL, c.Name, kind); err != nil {
			return fmt.Errorf("insert creator: %w", err)
		}
	}
	return nil
}

// Movies returns every movie ordered by URL, with credits in insertion order.
func (s *Store) Movies(ctx context.Context) ([]Movie, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, name, image, content_rating, description, date_published,
		        keywords, duration_minutes, rating_count, rating, best_rating, worst_rating
		   FROM movie ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("query movies: %w", err)
	}

	var movies []Movie
	for rows.Next() {
		var m Movie
		var published string
		if err := rows.Scan(&m.URL, &m.Name, &m.Image, &m.ContentRating, &m.Description, &published,
			&m.Keywords, &m.DurationMinutes, &m.RatingCount, &m.Rating, &m.BestRating, &m.WorstRating); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan movie: %w", err)
		}
		if published != "" {
			t, err := time.Parse(dateLayout, published)
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("movie %s: date_published %q: %w", m.URL, published, err)
			}
			m.DatePublished = t
		}
		movies = append(movies, m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate movies: %w", err)
	}
	// The pool holds a single connection, so credits are read after the
	// movie cursor is released.
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close movie rows: %w", err)
	}

	for i := range movies {
		if err := s.loadCredits(ctx, &movies[i]); err != nil {
			return nil, fmt.Errorf("movie %s: %w", movies[i].URL, err)
		}
	}
	return movies, nil
}

func (s *Store) loadCredits(ctx context.Context, m *Movie) error {
	genres, err := s.db.QueryContext(ctx, `SELECT name FROM genre WHERE entity_url = ? ORDER BY rowid`, m.URL)
	if err != nil {
		return fmt.Errorf("query genres: %w", err)
	}
	defer genres.Close()
	for genres.Next() {
		var g string
		if err := genres.Scan(&g); err != nil {
			return fmt.Errorf("scan genre: %w", err)
		}
		m.Genres = append(m.Genres, g)
	}
	if err := genres.Err(); err != nil {
		return fmt.Errorf("iterate genres: %w", err)
	}
	_ = genres.Close()

	if m.Actors, err = s.people(ctx, "actor", m.URL); err != nil {
		return err
	}
	if m.Directors, err = s.people(ctx, "director", m.URL); err != nil {
		return err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT url, name, type FROM creator WHERE entity_url = ? ORDER BY rowid`, m.URL)
	if err != nil {
		return fmt.Errorf("query creators: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Creator
		var kind string
		if err := rows.Scan(&c.URL, &c.Name, &kind); err != nil {
			return fmt.Errorf("scan creator: %w", err)
		}
		c.Organization = kind == "ORGANIZATION"
		m.Creators = append(m.Creators, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate creators: %w", err)
	}
	return nil
}

func (s *Store) people(ctx context.Context, table, entityURL string) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT url, name FROM "+table+" WHERE entity_url = ? ORDER BY rowid", entityURL)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.URL, &p.Name); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// Nodes returns every movie as a Movie class node.
func (s *Store) Nodes(ctx context.Context) ([]*node.Class, error) {
	movies, err := s.Movies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*node.Class, 0, len(movies))
	for _, m := range movies {
		n, err := m.Node()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Node builds the Movie class node for m, identified by its URL. Empty
// columns are left out; a movie with no URL and no columns is malformed.
func (m Movie) Node() (*node.Class, error) {
	cls := node.NewClass()
	if m.URL != "" {
		cls.WithID(m.URL)
	}
	addText(cls, "name", m.Name)
	addURL(cls, "url", m.URL)
	addURL(cls, "image", m.Image)
	addText(cls, "contentRating", m.ContentRating)
	addText(cls, "description", m.Description)
	addText(cls, "keywords", m.Keywords)

	if !m.DatePublished.IsZero() {
		d := m.DatePublished
		cls.Add("datePublished", node.NewProperty("Date", node.NewDate(d.Year(), int(d.Month()), d.Day())))
	}
	if m.DurationMinutes > 0 {
		cls.Add("duration", node.NewProperty("Duration", node.NewDuration(int64(m.DurationMinutes)*60)))
	}
	if m.RatingCount > 0 || m.Rating != 0 {
		rating := node.NewClass().
			Add("ratingCount", node.NewProperty("Integer", node.Int(int64(m.RatingCount)))).
			Add("ratingValue", node.NewProperty("Number", node.Float(m.Rating)))
		if m.BestRating != 0 {
			rating.Add("bestRating", node.NewProperty("Number", node.Float(m.BestRating)))
		}
		if m.WorstRating != 0 {
			rating.Add("worstRating", node.NewProperty("Number", node.Float(m.WorstRating)))
		}
		cls.Add("aggregateRating", node.NewProperty("AggregateRating", rating))
	}

	for _, g := range m.Genres {
		addText(cls, "genre", g)
	}
	for _, p := range m.Actors {
		if pn := p.node(); pn != nil {
			cls.Add("actor", node.NewProperty("Person", pn))
		}
	}
	for _, p := range m.Directors {
		if pn := p.node(); pn != nil {
			cls.Add("director", node.NewProperty("Person", pn))
		}
	}
	for _, c := range m.Creators {
		pn := c.node()
		if pn == nil {
			continue
		}
		typ := "Person"
		if c.Organization {
			typ = "Organization"
		}
		cls.Add("creator", node.NewProperty(typ, pn))
	}

	if !cls.Populated() {
		return nil, feederr.MalformedNode("sqlite.Node", "movie has no url and no properties")
	}
	return cls, nil
}

func (p Person) node() *node.Class {
	if p.Name == "" && p.URL == "" {
		return nil
	}
	cls := node.NewClass()
	if p.URL != "" {
		cls.WithID(p.URL)
	}
	addText(cls, "name", p.Name)
	addURL(cls, "url", p.URL)
	return cls
}

func addText(cls *node.Class, field, v string) {
	if v != "" {
		cls.Add(field, node.NewProperty("Text", node.Text(v)))
	}
}

func addURL(cls *node.Class, field, v string) {
	if v != "" {
		cls.Add(field, node.NewProperty("URL", node.Text(v)))
	}
}
