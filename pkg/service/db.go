package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
	_ "modernc.org/sqlite"
)

// DB persists projects, chats and messages in SQLite
type DB struct {
	db *sql.DB
}

// OpenDB opens (creating when needed) the database at path
func OpenDB(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// pragmas go in the DSN so every pooled connection gets them
	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &DB{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (d *DB) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		settings_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		project_id TEXT REFERENCES projects(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_project ON chats(project_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		images_json TEXT,
		documents_json TEXT,
		model TEXT,
		extended_thinking INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
	`
	if _, err := d.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func now() time.Time {
	return time.Now().UTC()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Projects

func (d *DB) CreateProject(ctx context.Context, name string) (chat.Project, error) {
	settings, err := chat.DefaultProjectSettings().JSON()
	if err != nil {
		return chat.Project{}, err
	}

	ts := now()
	project := chat.Project{
		ID:           uuid.NewString(),
		Name:         name,
		SettingsJSON: settings,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, settings_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		project.ID, project.Name, project.SettingsJSON, ts.UnixNano(), ts.UnixNano())
	if err != nil {
		return chat.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

func (d *DB) ListProjects(ctx context.Context) ([]chat.Project, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, settings_json, created_at, updated_at
		FROM projects
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := []chat.Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

func (d *DB) GetProject(ctx context.Context, projectID string) (chat.Project, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, name, settings_json, created_at, updated_at
		FROM projects WHERE id = ?`, projectID)

	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Project{}, fmt.Errorf("project %s: %w", projectID, backend.ErrNotFound)
	}
	return project, err
}

func (d *DB) UpdateProjectSettings(ctx context.Context, projectID string, settings chat.ProjectSettings) error {
	raw, err := settings.JSON()
	if err != nil {
		return err
	}

	result, err := d.db.ExecContext(ctx, `
		UPDATE projects SET settings_json = ?, updated_at = ? WHERE id = ?`,
		raw, now().UnixNano(), projectID)
	if err != nil {
		return fmt.Errorf("update project settings: %w", err)
	}
	return requireRow(result, "project", projectID)
}

func (d *DB) DeleteProject(ctx context.Context, projectID string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(result, "project", projectID)
}

// Chats

func (d *DB) CreateChat(ctx context.Context, projectID string) (chat.Chat, error) {
	ts := now()
	c := chat.Chat{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Title:     chat.DefaultTitle,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO chats (id, project_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, nullable(projectID), c.Title, ts.UnixNano(), ts.UnixNano())
	if err != nil {
		return chat.Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	return c, nil
}

// ListChats lists the chats of a project, or the chats outside any project
// when projectID is empty. Most recently active first.
func (d *DB) ListChats(ctx context.Context, projectID string) ([]chat.Chat, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if projectID == "" {
		rows, err = d.db.QueryContext(ctx, `
			SELECT id, project_id, title, created_at, updated_at
			FROM chats WHERE project_id IS NULL
			ORDER BY updated_at DESC`)
	} else {
		rows, err = d.db.QueryContext(ctx, `
			SELECT id, project_id, title, created_at, updated_at
			FROM chats WHERE project_id = ?
			ORDER BY updated_at DESC`, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	chats := []chat.Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, nil
}

func (d *DB) GetChat(ctx context.Context, chatID string) (chat.Chat, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, created_at, updated_at
		FROM chats WHERE id = ?`, chatID)

	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Chat{}, fmt.Errorf("chat %s: %w", chatID, backend.ErrNotFound)
	}
	return c, err
}

func (d *DB) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	result, err := d.db.ExecContext(ctx, `
		UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, now().UnixNano(), chatID)
	if err != nil {
		return fmt.Errorf("update chat title: %w", err)
	}
	return requireRow(result, "chat", chatID)
}

func (d *DB) DeleteChat(ctx context.Context, chatID string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return requireRow(result, "chat", chatID)
}

// Messages

// AddMessage stores msg under a fresh id and marks its chat as updated
func (d *DB) AddMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	images, err := marshalAttachments(msg.Images)
	if err != nil {
		return chat.Message{}, err
	}
	documents, err := marshalAttachments(msg.Documents)
	if err != nil {
		return chat.Message{}, err
	}

	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, images_json, documents_json, model, extended_thinking, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, string(msg.Role), msg.Content, images, documents,
		nullable(msg.Model), boolToInt(msg.ExtendedThinking), msg.CreatedAt.UnixNano())
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}

	result, err := tx.ExecContext(ctx, `UPDATE chats SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.UnixNano(), msg.ChatID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("touch chat: %w", err)
	}
	if err := requireRow(result, "chat", msg.ChatID); err != nil {
		return chat.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a chat's messages oldest first
func (d *DB) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, images_json, documents_json, model, extended_thinking, created_at
		FROM messages WHERE chat_id = ?
		ORDER BY created_at ASC, rowid ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		var (
			msg                 chat.Message
			role                string
			images, documents   sql.NullString
			model               sql.NullString
			thinking, createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &images, &documents,
			&model, &thinking, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}

		msg.Role = chat.Role(role)
		msg.Model = model.String
		msg.ExtendedThinking = thinking != 0
		msg.CreatedAt = fromNanos(createdAt)
		if msg.Images, err = unmarshalAttachments(images); err != nil {
			return nil, err
		}
		if msg.Documents, err = unmarshalAttachments(documents); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (chat.Project, error) {
	var (
		project              chat.Project
		createdAt, updatedAt int64
	)
	if err := row.Scan(&project.ID, &project.Name, &project.SettingsJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Project{}, err
		}
		return chat.Project{}, fmt.Errorf("scan project row: %w", err)
	}
	project.CreatedAt = fromNanos(createdAt)
	project.UpdatedAt = fromNanos(updatedAt)
	return project, nil
}

func scanChat(row scanner) (chat.Chat, error) {
	var (
		c                    chat.Chat
		projectID            sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&c.ID, &projectID, &c.Title, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Chat{}, err
		}
		return chat.Chat{}, fmt.Errorf("scan chat row: %w", err)
	}
	c.ProjectID = projectID.String
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	return c, nil
}

func requireRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, backend.ErrNotFound)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalAttachments(in []chat.Attachment) (interface{}, error) {
	if len(in) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal attachments: %w", err)
	}
	return string(data), nil
}

func unmarshalAttachments(raw sql.NullString) ([]chat.Attachment, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out []chat.Attachment
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	return out, nil
}
