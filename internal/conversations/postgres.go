package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/galaxy-co-ai/galaxyco-ai-3.0-sub004/pkg/models"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB

	// Prepared statements for the hot path
	stmtGet           *sql.Stmt
	stmtCreate        *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtGetHistory    *sql.Stmt
	stmtAdvance       *sql.Stmt
}

// PostgresConfig holds connection settings for the conversation database.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens the conversation database and prepares statements.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtGet, err = s.db.Prepare(`
		SELECT id, tenant_id, user_id, title, message_count, context, last_message_at, created_at, updated_at
		FROM conversations WHERE id = $1 AND tenant_id = $2 AND user_id = $3
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get conversation: %w", err)
	}

	s.stmtCreate, err = s.db.Prepare(`
		INSERT INTO conversations (id, tenant_id, user_id, title, message_count, context, last_message_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $6, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare create conversation: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, conversation_id, role, content, attachments, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append message: %w", err)
	}

	s.stmtGetHistory, err = s.db.Prepare(`
		SELECT id, conversation_id, role, content, attachments, metadata, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get history: %w", err)
	}

	s.stmtAdvance, err = s.db.Prepare(`
		UPDATE conversations
		SET message_count = message_count + $1, last_message_at = $2, updated_at = $2
		WHERE id = $3
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare advance counters: %w", err)
	}

	return nil
}

// Close closes the prepared statements and database connection.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.stmtGet, s.stmtCreate, s.stmtAppendMessage, s.stmtGetHistory, s.stmtAdvance} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

// GetOrCreate implements Store. Lookup by explicit ID verifies tenant and
// owner in the query itself; a mismatch scans zero rows and reads as not-found.
func (s *PostgresStore) GetOrCreate(ctx context.Context, id, tenantID, userID, seedTitle string, convCtx map[string]any) (*models.Conversation, error) {
	if id != "" {
		conv := &models.Conversation{}
		var contextJSON []byte
		err := s.stmtGet.QueryRowContext(ctx, id, tenantID, userID).Scan(
			&conv.ID,
			&conv.TenantID,
			&conv.UserID,
			&conv.Title,
			&conv.MessageCount,
			&contextJSON,
			&conv.LastMessageAt,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation: %w", err)
		}
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &conv.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal context: %w", err)
			}
		}
		return conv, nil
	}

	now := time.Now()
	conv := &models.Conversation{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		UserID:        userID,
		Title:         seedTitle,
		Context:       convCtx,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	contextJSON, err := json.Marshal(convCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}
	if _, err := s.stmtCreate.ExecContext(ctx, conv.ID, tenantID, userID, seedTitle, contextJSON, now); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// AppendMessage implements Store.
func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	fillMessageDefaults(conversationID, msg)

	attachments, metadata, err := marshalMessageBlobs(msg)
	if err != nil {
		return err
	}
	_, err = s.stmtAppendMessage.ExecContext(ctx,
		msg.ID, conversationID, msg.Role, msg.Content, attachments, metadata, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// GetHistory implements Store.
func (s *PostgresStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.stmtGetHistory.QueryContext(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var newestFirst []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var attachmentsJSON, metadataJSON []byte
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Role,
			&msg.Content,
			&attachmentsJSON,
			&metadataJSON,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(attachmentsJSON) > 0 {
			if err := json.Unmarshal(attachmentsJSON, &msg.Attachments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
			}
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	// The query returns newest-first for the LIMIT; callers get ascending order.
	out := make([]*models.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}

// AdvanceCounters implements Store.
func (s *PostgresStore) AdvanceCounters(ctx context.Context, conversationID string, delta int) error {
	result, err := s.stmtAdvance.ExecContext(ctx, delta, time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to advance counters: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteTurn implements Store. The assistant insert and counter advance run
// in one transaction.
func (s *PostgresStore) CompleteTurn(ctx context.Context, conversationID string, assistant *models.Message) error {
	fillMessageDefaults(conversationID, assistant)

	attachments, metadata, err := marshalMessageBlobs(assistant)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, attachments, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		assistant.ID, conversationID, assistant.Role, assistant.Content, attachments, metadata, assistant.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert assistant message: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET message_count = message_count + 2, last_message_at = $1, updated_at = $1
		WHERE id = $2`,
		time.Now(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("failed to advance counters: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

func fillMessageDefaults(conversationID string, msg *models.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.ConversationID = conversationID
}

func marshalMessageBlobs(msg *models.Message) (attachments, metadata []byte, err error) {
	attachments, err = json.Marshal(msg.Attachments)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal attachments: %w", err)
	}
	metadata, err = json.Marshal(msg.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return attachments, metadata, nil
}
