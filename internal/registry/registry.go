// Package registry maintains the catalog of integrated capability modules.
// The in-memory view is authoritative during a run; SQLite persists it so
// modules synthesized in earlier runs survive restarts.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"forgeloop/internal/logging"
	"forgeloop/internal/types"
)

// Registry tracks generated modules keyed by name. At most one integrated
// version exists per name; superseded versions are kept for the audit trail
// but never returned by Get.
type Registry struct {
	mu      sync.RWMutex
	db      *sql.DB
	modules map[string]*types.GeneratedModule // name -> latest integrated
	aliases map[string]string                 // alias -> canonical name
	logger  *zap.Logger
}

// Open opens (or creates) the registry backed by the SQLite database at
// path, and restores previously integrated modules into memory.
func Open(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create registry directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	r := &Registry{
		db:      db,
		modules: make(map[string]*types.GeneratedModule),
		aliases: make(map[string]string),
		logger:  logging.Get(logging.CategoryRegistry),
	}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := r.restore(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS modules (
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		created_in_cycle INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		superseded_by TEXT NOT NULL DEFAULT '',
		aliases TEXT NOT NULL DEFAULT '',
		reject_reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (name, version)
	);
	CREATE INDEX IF NOT EXISTS idx_modules_status ON modules(status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_modules_one_integrated
		ON modules(name) WHERE status = 'integrated';
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	return nil
}

// restore loads integrated modules from disk into the in-memory maps.
func (r *Registry) restore() error {
	rows, err := r.db.Query(
		`SELECT name, version, description, source, status, created_in_cycle,
		        created_at, superseded_by, aliases, reject_reason
		 FROM modules WHERE status = ?`, string(types.ModuleIntegrated))
	if err != nil {
		return fmt.Errorf("failed to restore registry: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		mod, err := scanModule(rows)
		if err != nil {
			return err
		}
		existing, ok := r.modules[mod.Name]
		if !ok || mod.Version > existing.Version {
			r.modules[mod.Name] = mod
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to restore registry: %w", err)
	}

	for name, mod := range r.modules {
		for _, alias := range mod.Aliases {
			r.aliases[normalizeName(alias)] = name
		}
	}

	r.logger.Info("registry restored",
		zap.Int("integrated_modules", len(r.modules)),
		zap.Int("total_rows", count))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(row rowScanner) (*types.GeneratedModule, error) {
	var mod types.GeneratedModule
	var status, aliases string
	err := row.Scan(&mod.Name, &mod.Version, &mod.Description, &mod.Source,
		&status, &mod.CreatedInCycle, &mod.CreatedAt, &mod.SupersededBy,
		&aliases, &mod.RejectReason)
	if err != nil {
		return nil, fmt.Errorf("failed to scan module row: %w", err)
	}
	mod.Status = types.ModuleStatus(status)
	if aliases != "" {
		mod.Aliases = strings.Split(aliases, "\n")
	}
	return &mod, nil
}

// Integrate records a module as integrated. If a module with the same name
// is already integrated, the call fails; supersession must be explicit via
// Supersede. The insert and the in-memory update happen under one lock so
// readers never observe a half-installed module.
func (r *Registry) Integrate(mod *types.GeneratedModule) error {
	if mod.Name == "" {
		return fmt.Errorf("module name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.modules[mod.Name]; ok {
		return fmt.Errorf("module %q already integrated at version %d; use Supersede", mod.Name, existing.Version)
	}

	mod.Status = types.ModuleIntegrated
	version, err := r.nextVersion(mod.Name)
	if err != nil {
		return err
	}
	mod.Version = version
	if mod.CreatedAt.IsZero() {
		mod.CreatedAt = time.Now()
	}
	if err := r.insert(mod); err != nil {
		return err
	}

	r.modules[mod.Name] = mod
	for _, alias := range mod.Aliases {
		r.aliases[normalizeName(alias)] = mod.Name
	}
	r.logger.Info("module integrated",
		zap.String("module", mod.Ref()),
		zap.Int("cycle", mod.CreatedInCycle))
	return nil
}

// Supersede replaces the integrated module named name with replacement.
// The old version is marked superseded and kept. The replacement gets
// the next free version slot regardless of what the caller set.
func (r *Registry) Supersede(name string, replacement *types.GeneratedModule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.modules[name]
	if !ok {
		return fmt.Errorf("no integrated module %q to supersede", name)
	}

	replacement.Name = name
	version, err := r.nextVersion(name)
	if err != nil {
		return err
	}
	replacement.Version = version
	replacement.Status = types.ModuleIntegrated
	if replacement.CreatedAt.IsZero() {
		replacement.CreatedAt = time.Now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin supersede transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE modules SET status = ?, superseded_by = ? WHERE name = ? AND version = ?`,
		string(types.ModuleSuperseded), replacement.Ref(), old.Name, old.Version)
	if err != nil {
		return fmt.Errorf("failed to mark module superseded: %w", err)
	}
	if err := insertTx(tx, replacement); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit supersede: %w", err)
	}

	old.Status = types.ModuleSuperseded
	old.SupersededBy = replacement.Ref()
	r.modules[name] = replacement
	for _, alias := range replacement.Aliases {
		r.aliases[normalizeName(alias)] = name
	}
	r.logger.Info("module superseded",
		zap.String("old", old.Ref()),
		zap.String("new", replacement.Ref()))
	return nil
}

// RecordRejected persists a rejected module for the audit trail without
// touching the integrated set.
func (r *Registry) RecordRejected(mod *types.GeneratedModule, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mod.Status = types.ModuleRejected
	mod.RejectReason = reason
	version, err := r.nextVersion(mod.Name)
	if err != nil {
		return err
	}
	mod.Version = version
	if mod.CreatedAt.IsZero() {
		mod.CreatedAt = time.Now()
	}
	return r.insert(mod)
}

// nextVersion allocates the next version slot for name across every
// status. Rejected audit rows occupy slots too, so a retry after a
// rejection never collides on the (name, version) key.
func (r *Registry) nextVersion(name string) (int, error) {
	var next int
	err := r.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) + 1 FROM modules WHERE name = ?`, name).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate version for %q: %w", name, err)
	}
	return next, nil
}

func (r *Registry) insert(mod *types.GeneratedModule) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	defer tx.Rollback()
	if err := insertTx(tx, mod); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTx(tx *sql.Tx, mod *types.GeneratedModule) error {
	_, err := tx.Exec(
		`INSERT INTO modules (name, version, description, source, status,
		                      created_in_cycle, created_at, superseded_by, aliases, reject_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mod.Name, mod.Version, mod.Description, mod.Source, string(mod.Status),
		mod.CreatedInCycle, mod.CreatedAt, mod.SupersededBy,
		strings.Join(mod.Aliases, "\n"), mod.RejectReason)
	if err != nil {
		return fmt.Errorf("failed to insert module %s: %w", mod.Ref(), err)
	}
	return nil
}

// Get returns the integrated module with the given name, or nil.
func (r *Registry) Get(name string) *types.GeneratedModule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules[name]
}

// Resolve returns the integrated module matching name or one of its
// aliases, normalizing case and separators.
func (r *Registry) Resolve(name string) *types.GeneratedModule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	norm := normalizeName(name)
	if mod, ok := r.modules[norm]; ok {
		return mod
	}
	if canonical, ok := r.aliases[norm]; ok {
		return r.modules[canonical]
	}
	for n, mod := range r.modules {
		if normalizeName(n) == norm {
			return mod
		}
	}
	return nil
}

// Has reports whether a module name or alias resolves to an integrated
// module.
func (r *Registry) Has(name string) bool {
	return r.Resolve(name) != nil
}

// Snapshot returns the names, aliases, and descriptions of all integrated
// modules, sorted by name. Gap analysis compares required capabilities
// against this view.
func (r *Registry) Snapshot() []types.CapabilitySummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.CapabilitySummary, 0, len(r.modules))
	for _, mod := range r.modules {
		out = append(out, types.CapabilitySummary{
			Name:        mod.Name,
			Description: mod.Description,
			Aliases:     append([]string(nil), mod.Aliases...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History returns every stored version of the named module, oldest first.
func (r *Registry) History(name string) ([]*types.GeneratedModule, error) {
	rows, err := r.db.Query(
		`SELECT name, version, description, source, status, created_in_cycle,
		        created_at, superseded_by, aliases, reject_reason
		 FROM modules WHERE name = ? ORDER BY version ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query module history: %w", err)
	}
	defer rows.Close()

	var out []*types.GeneratedModule
	for rows.Next() {
		mod, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mod)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// normalizeName lowercases and strips separators so "Parse_CSV" and
// "parse-csv" resolve to the same capability.
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, "_", "")
	name = strings.ReplaceAll(name, " ", "")
	return name
}
