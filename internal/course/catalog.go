package course

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Catalog is the read side of authored modules. PutModule exists only for
// seeding from module definition files.
type Catalog interface {
	GetModule(ctx context.Context, id string) (Module, error)
	PutModule(ctx context.Context, m Module) error
	ListModules(ctx context.Context) ([]Module, error)
}

// sortComponents orders components by Order so index == order afterwards.
func sortComponents(m *Module) {
	m.Components = append([]Component(nil), m.Components...)
	sort.SliceStable(m.Components, func(i, j int) bool { return m.Components[i].Order < m.Components[j].Order })
}

type memoryCatalog struct {
	mu      sync.RWMutex
	modules map[string]Module
}

func NewMemoryCatalog() Catalog {
	return &memoryCatalog{modules: map[string]Module{}}
}

func (c *memoryCatalog) GetModule(_ context.Context, id string) (Module, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[id]
	if !ok {
		return Module{}, ErrNotFound
	}
	return m, nil
}

func (c *memoryCatalog) PutModule(_ context.Context, m Module) error {
	if err := ValidateModule(m); err != nil {
		return err
	}
	sortComponents(&m)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[m.ID] = m
	return nil
}

func (c *memoryCatalog) ListModules(_ context.Context) ([]Module, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Module, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SQLCatalog stores modules with their components as a JSON column.
type SQLCatalog struct {
	db *sql.DB
}

func NewSQLCatalog(db *sql.DB) *SQLCatalog {
	return &SQLCatalog{db: db}
}

func (s *SQLCatalog) PutModule(ctx context.Context, m Module) error {
	if err := ValidateModule(m); err != nil {
		return err
	}
	sortComponents(&m)
	cj, err := json.Marshal(m.Components)
	if err != nil {
		return err
	}
	status := m.Status
	if status == "" {
		status = ModulePublished
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO modules (id,title,status,passing_score_default,components_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, status=EXCLUDED.status,
			passing_score_default=EXCLUDED.passing_score_default, components_json=EXCLUDED.components_json`,
		m.ID, m.Title, string(status), m.PassingScoreDefault, string(cj), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put module %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLCatalog) GetModule(ctx context.Context, id string) (Module, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,title,status,passing_score_default,components_json,created_at FROM modules WHERE id=$1`, id)
	m, err := scanModule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Module{}, ErrNotFound
	}
	return m, err
}

func (s *SQLCatalog) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,title,status,passing_score_default,components_json,created_at FROM modules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanModule(row scanner) (Module, error) {
	var (
		m      Module
		status string
		cjson  string
	)
	if err := row.Scan(&m.ID, &m.Title, &status, &m.PassingScoreDefault, &cjson, &m.CreatedAt); err != nil {
		return Module{}, err
	}
	m.Status = ModuleStatus(status)
	if err := json.Unmarshal([]byte(cjson), &m.Components); err != nil {
		return Module{}, fmt.Errorf("decode components of %s: %w", m.ID, err)
	}
	return m, nil
}
