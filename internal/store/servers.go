package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/raphaelgruber/gatechat/internal/models"
)

const serversSchema = `
CREATE TABLE IF NOT EXISTS servers (
    id              TEXT PRIMARY KEY,
    position        INTEGER NOT NULL,
    name            TEXT NOT NULL,
    base_url        TEXT NOT NULL,
    token           TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'unknown',
    region          TEXT NOT NULL DEFAULT '',
    last_checked_at TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const activeServerKey = "active_server"

// ServerStore is the durable registry of gateway servers. Entries keep their
// insertion order; the active-server pointer is stored independently so a
// removed or re-saved list never invalidates it implicitly.
type ServerStore struct {
	db *sql.DB
}

// OpenServerStore opens the registry database at path, creating it when
// missing and replacing it when unreadable.
func OpenServerStore(path string, logger *slog.Logger) (*ServerStore, error) {
	db, err := openDB(path, serversSchema, logger)
	if err != nil {
		return nil, err
	}
	return &ServerStore{db: db}, nil
}

func (s *ServerStore) Close() error {
	return s.db.Close()
}

// Load returns all servers in insertion order.
func (s *ServerStore) Load() ([]models.GatewayServer, error) {
	rows, err := s.db.Query(
		`SELECT id, name, base_url, token, status, region, last_checked_at
		 FROM servers ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	var servers []models.GatewayServer
	for rows.Next() {
		var srv models.GatewayServer
		var status, lastChecked string
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.BaseURL, &srv.Token, &status, &srv.Region, &lastChecked); err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		srv.Status = models.ServerStatus(status)
		srv.LastCheckedAt = parseTime(lastChecked)
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// Save replaces the stored list with servers, preserving slice order.
func (s *ServerStore) Save(servers []models.GatewayServer) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM servers`); err != nil {
		return fmt.Errorf("clearing servers: %w", err)
	}
	for i, srv := range servers {
		_, err := tx.Exec(
			`INSERT INTO servers (id, position, name, base_url, token, status, region, last_checked_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			srv.ID, i, srv.Name, srv.BaseURL, srv.Token, string(srv.Status), srv.Region, formatTime(srv.LastCheckedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting server %s: %w", srv.Name, err)
		}
	}
	return tx.Commit()
}

// Add appends a server to the registry.
func (s *ServerStore) Add(srv models.GatewayServer) error {
	_, err := s.db.Exec(
		`INSERT INTO servers (id, position, name, base_url, token, status, region, last_checked_at)
		 VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM servers), ?, ?, ?, ?, ?, ?)`,
		srv.ID, srv.Name, srv.BaseURL, srv.Token, string(srv.Status), srv.Region, formatTime(srv.LastCheckedAt),
	)
	if err != nil {
		return fmt.Errorf("adding server %s: %w", srv.Name, err)
	}
	return nil
}

// Get returns the server with the given id, or ErrNotFound.
func (s *ServerStore) Get(id string) (models.GatewayServer, error) {
	var srv models.GatewayServer
	var status, lastChecked string
	err := s.db.QueryRow(
		`SELECT id, name, base_url, token, status, region, last_checked_at FROM servers WHERE id = ?`, id,
	).Scan(&srv.ID, &srv.Name, &srv.BaseURL, &srv.Token, &status, &srv.Region, &lastChecked)
	if err == sql.ErrNoRows {
		return models.GatewayServer{}, fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.GatewayServer{}, fmt.Errorf("getting server: %w", err)
	}
	srv.Status = models.ServerStatus(status)
	srv.LastCheckedAt = parseTime(lastChecked)
	return srv, nil
}

// Remove deletes a server. Removing the active server leaves the pointer
// dangling; PickActive falls back to the first remaining entry.
func (s *ServerStore) Remove(id string) error {
	res, err := s.db.Exec(`DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("removing server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetToken stores a fresh bearer token for a server.
func (s *ServerStore) SetToken(id, token string) error {
	return s.update(id, `UPDATE servers SET token = ? WHERE id = ?`, token, id)
}

// ClearToken drops a server's token and marks it auth_failed. Nothing else
// about the entry changes.
func (s *ServerStore) ClearToken(id string) error {
	return s.update(id,
		`UPDATE servers SET token = '', status = ? WHERE id = ?`,
		string(models.StatusAuthFailed), id)
}

// UpdateStatus records the outcome of a reachability check and stamps the
// check time.
func (s *ServerStore) UpdateStatus(id string, status models.ServerStatus, region string) error {
	return s.update(id,
		`UPDATE servers SET status = ?, region = ?, last_checked_at = ? WHERE id = ?`,
		string(status), region, formatTime(time.Now()), id)
}

func (s *ServerStore) update(id, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating server: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("server %s: %w", id, ErrNotFound)
	}
	return nil
}

// ActiveID returns the active-server pointer, which may be empty or refer to
// a server that no longer exists.
func (s *ServerStore) ActiveID() (string, error) {
	return getSetting(s.db, activeServerKey)
}

func (s *ServerStore) SetActiveID(id string) error {
	return setSetting(s.db, activeServerKey, id)
}

// PickActive resolves the active-server pointer against a server list: the
// matching entry, the first entry when the pointer is unset or dangling, or
// nil for an empty list.
func PickActive(servers []models.GatewayServer, activeID string) *models.GatewayServer {
	if len(servers) == 0 {
		return nil
	}
	for i := range servers {
		if servers[i].ID == activeID {
			return &servers[i]
		}
	}
	return &servers[0]
}

// isLoopback reports whether a host may be reached over plain http. Tokens
// travel in headers, so plaintext to anything non-local would leak them.
func isLoopback(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// NormalizeAndValidateBaseURL canonicalizes a user-entered server URL:
// surrounding whitespace and trailing slashes are trimmed, a missing scheme
// defaults to https. Non-http(s) schemes fail, as does plain http to any
// non-loopback host.
func NormalizeAndValidateBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return "", &ValidationError{Field: "base URL", Detail: "must not be empty"}
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", &ValidationError{Field: "base URL", Detail: err.Error()}
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !isLoopback(u.Hostname()) {
			return "", &ValidationError{Field: "base URL", Detail: "http is only allowed for localhost"}
		}
	default:
		return "", &ValidationError{Field: "base URL", Detail: "scheme must be http or https"}
	}
	if u.Host == "" {
		return "", &ValidationError{Field: "base URL", Detail: "missing host"}
	}
	return strings.TrimRight(u.String(), "/"), nil
}
