package database

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const dayFormat = "2006-01-02"

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// User represents a user account
type User struct {
	ID           string
	Username     string
	PasswordHash string
	APIKey       string
	ResetDate    string // YYYY-MM-DD, empty = show everything
	CreatedAt    time.Time
}

// Client represents a sync client
type Client struct {
	ID         string
	UserID     string
	Name       string
	LastSyncAt *time.Time
	CreatedAt  time.Time
}

// CostRecord is the cost of one model within one session log
type CostRecord struct {
	UserID       string
	ClientID     string
	SessionStart time.Time
	SessionFile  string
	Model        string
	HasModel     bool
	Cost         float64
}

// CostRow is an aggregated cost for a period or model
type CostRow struct {
	Key      string
	Sessions int64
	Cost     float64
}

// Open opens a SQLite database connection. Foreign keys, WAL and the busy
// timeout are set through the DSN so every pooled connection gets them.
func Open(dbPath string) (*DB, error) {
	dsn := "file:" + dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// Migrate creates the database schema
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		api_key TEXT UNIQUE NOT NULL,
		reset_date TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		last_sync_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, user_id),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS cost_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		session_start TIMESTAMP NOT NULL,
		session_day TEXT NOT NULL,
		session_file TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		has_model INTEGER NOT NULL DEFAULT 1,
		cost REAL NOT NULL DEFAULT 0,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		UNIQUE(user_id, client_id, session_file, model, has_model)
	);

	CREATE INDEX IF NOT EXISTS idx_cost_user_day ON cost_records(user_id, session_day);
	CREATE INDEX IF NOT EXISTS idx_clients_user ON clients(user_id);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		expiry REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON sessions(expiry);

	CREATE TABLE IF NOT EXISTS cost_summary (
		user_id TEXT NOT NULL,
		day TEXT NOT NULL,
		model TEXT NOT NULL,
		sessions INTEGER NOT NULL,
		day_sessions INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, day, model),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);
	`

	_, err := db.Exec(schema)
	return err
}

// CreateUser creates a new user
func (db *DB) CreateUser(user *User) error {
	_, err := db.Exec(
		`INSERT INTO users (id, username, password_hash, api_key, reset_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.APIKey, user.ResetDate, user.CreatedAt,
	)
	return err
}

func (db *DB) getUser(where string, arg any) (*User, error) {
	user := &User{}
	err := db.QueryRow(
		`SELECT id, username, password_hash, api_key, reset_date, created_at
		 FROM users WHERE `+where+` = ?`,
		arg,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.APIKey, &user.ResetDate, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(username string) (*User, error) {
	return db.getUser("username", username)
}

// GetUserByID retrieves a user by ID
func (db *DB) GetUserByID(id string) (*User, error) {
	return db.getUser("id", id)
}

// GetUserByAPIKey retrieves a user by API key
func (db *DB) GetUserByAPIKey(apiKey string) (*User, error) {
	return db.getUser("api_key", apiKey)
}

// UpdateUserResetDate sets the day from which the dashboard counts costs
func (db *DB) UpdateUserResetDate(userID, resetDate string) error {
	_, err := db.Exec(`UPDATE users SET reset_date = ? WHERE id = ?`, resetDate, userID)
	return err
}

// GetOrCreateClient gets an existing client or creates a new one
func (db *DB) GetOrCreateClient(userID, clientID, clientName string) (*Client, error) {
	client := &Client{}
	var lastSyncAt sql.NullTime
	err := db.QueryRow(
		`SELECT id, user_id, name, last_sync_at, created_at FROM clients WHERE id = ? AND user_id = ?`,
		clientID, userID,
	).Scan(&client.ID, &client.UserID, &client.Name, &lastSyncAt, &client.CreatedAt)

	if err == nil {
		if lastSyncAt.Valid {
			client.LastSyncAt = &lastSyncAt.Time
		}
		return client, nil
	}

	if err != sql.ErrNoRows {
		return nil, err
	}

	now := time.Now()
	_, err = db.Exec(
		`INSERT INTO clients (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		clientID, userID, clientName, now,
	)
	if err != nil {
		return nil, err
	}

	return &Client{
		ID:        clientID,
		UserID:    userID,
		Name:      clientName,
		CreatedAt: now,
	}, nil
}

// UpdateClientLastSync updates the last sync time for a client
func (db *DB) UpdateClientLastSync(userID, clientID string, lastSyncAt time.Time) error {
	_, err := db.Exec(`UPDATE clients SET last_sync_at = ? WHERE id = ? AND user_id = ?`, lastSyncAt, clientID, userID)
	return err
}

// GetClientSyncStatus returns the last sync time for a client
func (db *DB) GetClientSyncStatus(userID, clientID string) (*time.Time, error) {
	var lastSyncAt sql.NullTime
	err := db.QueryRow(
		`SELECT last_sync_at FROM clients WHERE id = ? AND user_id = ?`,
		clientID, userID,
	).Scan(&lastSyncAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !lastSyncAt.Valid {
		return nil, nil
	}
	return &lastSyncAt.Time, nil
}

// UpsertResult reports what an upsert changed
type UpsertResult struct {
	Changed int64
	// MovedFrom lists days that held a record before the upsert moved it to
	// another day. Their summaries are stale and must be rebuilt as well.
	MovedFrom []string
}

// UpsertCostRecords stores session costs. A session synced again replaces
// its earlier cost and start, since the log may have grown since.
func (db *DB) UpsertCostRecords(records []CostRecord) (UpsertResult, error) {
	var result UpsertResult

	tx, err := db.Begin()
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	lookup, err := tx.Prepare(`
		SELECT session_day FROM cost_records
		WHERE user_id = ? AND client_id = ? AND session_file = ? AND model = ? AND has_model = ?
	`)
	if err != nil {
		return result, err
	}
	defer lookup.Close()

	stmt, err := tx.Prepare(`
		INSERT INTO cost_records
		(user_id, client_id, session_start, session_day, session_file, model, has_model, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, client_id, session_file, model, has_model) DO UPDATE SET
			session_start = excluded.session_start,
			session_day = excluded.session_day,
			cost = excluded.cost
		WHERE cost_records.cost != excluded.cost OR cost_records.session_start != excluded.session_start
	`)
	if err != nil {
		return result, err
	}
	defer stmt.Close()

	moved := make(map[string]struct{})
	for _, r := range records {
		start := r.SessionStart.UTC()
		day := start.Format(dayFormat)

		var oldDay string
		err := lookup.QueryRow(r.UserID, r.ClientID, r.SessionFile, r.Model, r.HasModel).Scan(&oldDay)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return result, err
		case oldDay != day:
			moved[oldDay] = struct{}{}
		}

		res, err := stmt.Exec(
			r.UserID, r.ClientID, start, day, r.SessionFile, r.Model, r.HasModel, r.Cost,
		)
		if err != nil {
			return result, err
		}
		n, _ := res.RowsAffected()
		result.Changed += n
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, err
	}

	for day := range moved {
		result.MovedFrom = append(result.MovedFrom, day)
	}
	sort.Strings(result.MovedFrom)
	return result, nil
}

// UpdateSummaries recomputes the daily summaries for the given days. Each
// row also carries the number of distinct sessions on its day, so a day
// whose sessions used different models is not undercounted.
func (db *DB) UpdateSummaries(userID string, days []string) error {
	if len(days) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, day := range days {
		if _, err := tx.Exec(`DELETE FROM cost_summary WHERE user_id = ? AND day = ?`, userID, day); err != nil {
			return err
		}
		_, err := tx.Exec(`
			INSERT INTO cost_summary (user_id, day, model, sessions, day_sessions, cost)
			SELECT user_id, session_day,
			       CASE WHEN has_model = 1 THEN model ELSE '(unknown)' END,
			       COUNT(DISTINCT client_id || '/' || session_file),
			       (SELECT COUNT(DISTINCT client_id || '/' || session_file)
			        FROM cost_records WHERE user_id = ? AND session_day = ?),
			       SUM(cost)
			FROM cost_records
			WHERE user_id = ? AND session_day = ?
			GROUP BY user_id, session_day, CASE WHEN has_model = 1 THEN model ELSE '(unknown)' END
		`, userID, day, userID, day)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (db *DB) queryRows(query string, args ...any) ([]CostRow, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CostRow
	for rows.Next() {
		var r CostRow
		if err := rows.Scan(&r.Key, &r.Sessions, &r.Cost); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetCostByDay returns daily cost from the summary table, newest first,
// limited to days on or after resetDate when set
func (db *DB) GetCostByDay(userID, resetDate string) ([]CostRow, error) {
	return db.queryRows(`
		SELECT day, MAX(day_sessions), SUM(cost)
		FROM cost_summary
		WHERE user_id = ? AND day >= ?
		GROUP BY day
		ORDER BY day DESC
		LIMIT 30
	`, userID, resetDate)
}

// GetCostByModel returns per-model cost, most expensive first
func (db *DB) GetCostByModel(userID, resetDate string) ([]CostRow, error) {
	return db.queryRows(`
		SELECT model, SUM(sessions), SUM(cost)
		FROM cost_summary
		WHERE user_id = ? AND day >= ?
		GROUP BY model
		ORDER BY SUM(cost) DESC
	`, userID, resetDate)
}

// GetTotalCost returns the total cost and session count since resetDate
func (db *DB) GetTotalCost(userID, resetDate string) (*CostRow, error) {
	total := &CostRow{Key: "Total"}
	err := db.QueryRow(`
		SELECT COUNT(DISTINCT client_id || '/' || session_file), COALESCE(SUM(cost), 0)
		FROM cost_records
		WHERE user_id = ? AND session_day >= ?
	`, userID, resetDate).Scan(&total.Sessions, &total.Cost)
	if err != nil {
		return nil, err
	}
	return total, nil
}
