package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// sqliteStore is the sole MessageStore implementation. SQLite's native
// single-writer model is exactly the "all writes serialized" contract
// spec'd for the store: the pool is capped at a single connection (in WAL
// mode), so every statement, read or write, queues behind that one
// connection.
type sqliteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes explicitly; belt-and-suspenders over SetMaxOpenConns(1)
}

// Open opens (creating if necessary) the sqlite database at path, applies
// pending migrations, and returns a ready MessageStore.
func Open(path string) (MessageStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign_keys: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) RecordInbound(ctx context.Context, msg ChatMessage) (RecordResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RecordResult{}, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE chat_address = ? AND message_id = ?`,
		msg.ChatAddress, msg.MessageID).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		// not a duplicate, proceed
	case err != nil:
		return RecordResult{}, err
	default:
		return RecordResult{Duplicate: true}, tx.Commit()
	}

	if err := insertMessage(ctx, tx, msg); err != nil {
		return RecordResult{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (chat_address, last_activity) VALUES (?, ?)
		 ON CONFLICT (chat_address) DO UPDATE SET last_activity = excluded.last_activity
		 WHERE excluded.last_activity > chats.last_activity`,
		msg.ChatAddress, msg.Timestamp); err != nil {
		return RecordResult{}, err
	}
	return RecordResult{Stored: true}, tx.Commit()
}

func (s *sqliteStore) RecordAgentMessage(ctx context.Context, msg ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (chat_address, last_activity) VALUES (?, ?)
		 ON CONFLICT (chat_address) DO UPDATE SET last_activity = excluded.last_activity
		 WHERE excluded.last_activity > chats.last_activity`,
		msg.ChatAddress, msg.Timestamp); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg ChatMessage) error {
	var quotedJSON, attJSON []byte
	var err error
	if msg.Quoted != nil {
		quotedJSON, err = json.Marshal(msg.Quoted)
		if err != nil {
			return err
		}
	}
	if len(msg.Attachments) > 0 {
		attJSON, err = json.Marshal(msg.Attachments)
		if err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages
		 (chat_address, message_id, sender_address, sender_display, timestamp, kind, text, quoted_json, attachments_json, channel_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatAddress, msg.MessageID, msg.SenderAddress, msg.SenderDisplay,
		msg.Timestamp, string(msg.Kind), msg.Text, nullableStr(quotedJSON), nullableStr(attJSON), msg.ChannelID)
	return err
}

func nullableStr(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func (s *sqliteStore) ReadWindow(ctx context.Context, chatAddress string, since int64, limit int) ([]ChatMessage, error) {
	query := `SELECT chat_address, message_id, sender_address, sender_display, timestamp, kind, text, quoted_json, attachments_json, channel_id
		FROM messages WHERE chat_address = ? AND timestamp > ? ORDER BY timestamp ASC`
	args := []any{chatAddress, since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var kind string
		var quotedJSON, attJSON sql.NullString
		if err := rows.Scan(&m.ChatAddress, &m.MessageID, &m.SenderAddress, &m.SenderDisplay,
			&m.Timestamp, &kind, &m.Text, &quotedJSON, &attJSON, &m.ChannelID); err != nil {
			return nil, err
		}
		m.Kind = MessageKind(kind)
		if quotedJSON.Valid {
			var q Quoted
			if err := json.Unmarshal([]byte(quotedJSON.String), &q); err != nil {
				return nil, err
			}
			m.Quoted = &q
		}
		if attJSON.Valid {
			if err := json.Unmarshal([]byte(attJSON.String), &m.Attachments); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetCursor(ctx context.Context, chatAddress string) (Cursor, error) {
	var c Cursor
	c.ChatAddress = chatAddress
	err := s.db.QueryRowContext(ctx,
		`SELECT last_agent_timestamp FROM cursors WHERE chat_address = ?`, chatAddress).
		Scan(&c.LastAgentTimestamp)
	if err == sql.ErrNoRows {
		return c, nil
	}
	return c, err
}

func (s *sqliteStore) AdvanceCursor(ctx context.Context, chatAddress string, timestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors (chat_address, last_agent_timestamp) VALUES (?, ?)
		 ON CONFLICT (chat_address) DO UPDATE SET last_agent_timestamp = excluded.last_agent_timestamp
		 WHERE excluded.last_agent_timestamp > cursors.last_agent_timestamp`,
		chatAddress, timestamp)
	return err
}

func (s *sqliteStore) HasAgentMessageAfter(ctx context.Context, chatAddress string, since int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE chat_address = ? AND kind = 'agent' AND timestamp > ? LIMIT 1`,
		chatAddress, since).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) UpsertGroup(ctx context.Context, g RegisteredGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backendJSON, err := json.Marshal(g.BackendConfig)
	if err != nil {
		return err
	}
	mountsJSON, err := json.Marshal(g.ExtraMounts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO groups (workspace_folder, display_name, chat_address, trigger_phrase, requires_trigger, added_at, backend_config_json, extra_mounts_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (workspace_folder) DO UPDATE SET
		   display_name = excluded.display_name,
		   chat_address = excluded.chat_address,
		   trigger_phrase = excluded.trigger_phrase,
		   requires_trigger = excluded.requires_trigger,
		   backend_config_json = excluded.backend_config_json,
		   extra_mounts_json = excluded.extra_mounts_json`,
		g.WorkspaceFolder, g.DisplayName, g.ChatAddress, g.TriggerPhrase, g.RequiresTrigger,
		g.AddedAt, string(backendJSON), string(mountsJSON))
	return err
}

func scanGroup(row interface{ Scan(...any) error }) (RegisteredGroup, error) {
	var g RegisteredGroup
	var requiresTrigger int
	var backendJSON, mountsJSON string
	if err := row.Scan(&g.WorkspaceFolder, &g.DisplayName, &g.ChatAddress, &g.TriggerPhrase,
		&requiresTrigger, &g.AddedAt, &backendJSON, &mountsJSON); err != nil {
		return RegisteredGroup{}, err
	}
	g.RequiresTrigger = requiresTrigger != 0
	if backendJSON != "" {
		_ = json.Unmarshal([]byte(backendJSON), &g.BackendConfig)
	}
	if mountsJSON != "" {
		_ = json.Unmarshal([]byte(mountsJSON), &g.ExtraMounts)
	}
	return g, nil
}

const groupColumns = `workspace_folder, display_name, chat_address, trigger_phrase, requires_trigger, added_at, backend_config_json, extra_mounts_json`

func (s *sqliteStore) GetGroup(ctx context.Context, workspaceFolder string) (RegisteredGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE workspace_folder = ?`, workspaceFolder)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return RegisteredGroup{}, ErrNotFound
	}
	return g, err
}

func (s *sqliteStore) GetGroupByChatAddress(ctx context.Context, chatAddress string) (RegisteredGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE chat_address = ?`, chatAddress)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return RegisteredGroup{}, ErrNotFound
	}
	return g, err
}

func (s *sqliteStore) ListGroups(ctx context.Context) ([]RegisteredGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupColumns+` FROM groups ORDER BY workspace_folder`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RegisteredGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteGroup(ctx context.Context, workspaceFolder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE workspace_folder = ?`, workspaceFolder); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE workspace_folder = ?`, workspaceFolder); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) GetSession(ctx context.Context, workspaceFolder string) (Session, error) {
	var sess Session
	sess.WorkspaceFolder = workspaceFolder
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, updated_at FROM sessions WHERE workspace_folder = ?`, workspaceFolder).
		Scan(&sess.SessionID, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return sess, nil
	}
	return sess, err
}

func (s *sqliteStore) SetSession(ctx context.Context, workspaceFolder, sessionID string, updatedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (workspace_folder, session_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (workspace_folder) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		workspaceFolder, sessionID, updatedAt)
	return err
}

func (s *sqliteStore) CreateTask(ctx context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, workspace_folder, chat_address, prompt, schedule_type, schedule_value, context_mode, next_run_at, last_run_at, status, last_result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.WorkspaceFolder, t.ChatAddress, t.Prompt, string(t.ScheduleType), t.ScheduleValue,
		string(t.ContextMode), t.NextRunAt, t.LastRunAt, string(t.Status), t.LastResult)
	return err
}

func (s *sqliteStore) UpdateTask(ctx context.Context, taskID string, fields TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if fields.Prompt != nil {
		add("prompt", *fields.Prompt)
	}
	if fields.ScheduleType != nil {
		add("schedule_type", string(*fields.ScheduleType))
	}
	if fields.ScheduleValue != nil {
		add("schedule_value", *fields.ScheduleValue)
	}
	if fields.ContextMode != nil {
		add("context_mode", string(*fields.ContextMode))
	}
	if fields.NextRunAt != nil {
		add("next_run_at", *fields.NextRunAt)
	}
	if fields.Status != nil {
		add("status", string(*fields.Status))
	}
	if fields.LastResult != nil {
		add("last_result", *fields.LastResult)
	}
	if len(sets) == 0 {
		return nil
	}
	query := "UPDATE tasks SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE task_id = ?"
	args = append(args, taskID)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) DeleteTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	return err
}

const taskColumns = `task_id, workspace_folder, chat_address, prompt, schedule_type, schedule_value, context_mode, next_run_at, last_run_at, status, last_result`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var scheduleType, contextMode, status string
	if err := row.Scan(&t.TaskID, &t.WorkspaceFolder, &t.ChatAddress, &t.Prompt, &scheduleType,
		&t.ScheduleValue, &contextMode, &t.NextRunAt, &t.LastRunAt, &status, &t.LastResult); err != nil {
		return Task{}, err
	}
	t.ScheduleType = ScheduleType(scheduleType)
	t.ContextMode = ContextMode(contextMode)
	t.Status = TaskStatus(status)
	return t, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) ListTasksForGroup(ctx context.Context, workspaceFolder string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workspace_folder = ? ORDER BY task_id`, workspaceFolder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DueTasks(ctx context.Context, now int64) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? AND next_run_at <= ? ORDER BY next_run_at`,
		string(TaskActive), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AdvanceTaskAfterRun(ctx context.Context, taskID string, lastRunAt, nextRunAt int64, status TaskStatus, lastResult string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET last_run_at = ?, next_run_at = ?, status = ?, last_result = ? WHERE task_id = ?`,
		lastRunAt, nextRunAt, string(status), lastResult, taskID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: advance task %s: %w", taskID, ErrNotFound)
	}
	return nil
}
