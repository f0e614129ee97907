package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jmallard/chatd/pkg/pool"
)

// DB is the SQLite-backed Store. Every query checks a dedicated connection
// out of a bounded pool, so at most poolSize statements run concurrently
// and backpressure shows up as blocking in Acquire rather than as
// SQLITE_BUSY storms.
type DB struct {
	sqldb *sql.DB
	conns *pool.Pool[*sql.Conn]
}

var _ Store = (*DB)(nil)

// Open opens (creating if needed) the SQLite database at path and
// pre-opens poolSize connections.
func Open(path string, poolSize int) (*DB, error) {
	if poolSize < 1 {
		poolSize = 1
	}

	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The pool below owns concurrency; database/sql must not cap it lower.
	sqldb.SetMaxOpenConns(poolSize)
	sqldb.SetMaxIdleConns(poolSize)
	sqldb.SetConnMaxLifetime(0)

	ctx := context.Background()
	handles := make([]*sql.Conn, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		conn, err := sqldb.Conn(ctx)
		if err != nil {
			closeConns(handles)
			sqldb.Close()
			return nil, fmt.Errorf("failed to open connection %d: %w", i, err)
		}

		// WAL allows concurrent readers with one writer; the busy timeout
		// makes SQLite wait instead of failing with SQLITE_BUSY.
		for _, pragma := range []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
			"PRAGMA synchronous = NORMAL",
		} {
			if _, err := conn.ExecContext(ctx, pragma); err != nil {
				closeConns(append(handles, conn))
				sqldb.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}

		handles = append(handles, conn)
	}

	db := &DB{
		sqldb: sqldb,
		conns: pool.New(handles),
	}

	if err := db.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func closeConns(conns []*sql.Conn) {
	for _, c := range conns {
		c.Close()
	}
}

// Close closes all pooled connections and the underlying database.
func (db *DB) Close() error {
	err := db.conns.Close(func(c *sql.Conn) error { return c.Close() })
	if closeErr := db.sqldb.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if errors.Is(err, pool.ErrClosed) {
		return nil
	}
	return err
}

func (db *DB) withConn(fn func(ctx context.Context, conn *sql.Conn) error) error {
	ctx := context.Background()
	conn, err := db.conns.Acquire(ctx)
	if err != nil {
		return err
	}
	defer db.conns.Release(conn)
	return fn(ctx, conn)
}

func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	nickname TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	join_key TEXT NOT NULL DEFAULT '',
	creator_id INTEGER,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (creator_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS channel_memberships (
	channel_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('member', 'admin')),
	created_at INTEGER NOT NULL,
	PRIMARY KEY (channel_id, user_id),
	FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS channel_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL,
	sender_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS direct_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL,
	recipient_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES users(id),
	FOREIGN KEY (recipient_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	filename TEXT NOT NULL,
	sender_id INTEGER NOT NULL,
	recipient_id INTEGER NOT NULL DEFAULT 0,
	channel_id INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_channel_messages_channel ON channel_messages(channel_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_direct_messages_peers ON direct_messages(sender_id, recipient_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_memberships_user ON channel_memberships(user_id);
`
	return db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, schema)
		return err
	})
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// CreateUser inserts a new user and returns its id.
func (db *DB) CreateUser(username, passwordHash string) (int64, error) {
	var id int64
	err := db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			INSERT INTO users (username, password_hash, nickname, created_at)
			VALUES (?, ?, '', ?)
		`, username, passwordHash, nowMillis())
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	return id, err
}

// FindUserByName returns the user with the given username, or
// ErrUserNotFound.
func (db *DB) FindUserByName(username string) (*User, error) {
	user := &User{}
	err := db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx, `
			SELECT id, username, password_hash, nickname
			FROM users
			WHERE username = ?
		`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Nickname)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindUserByID returns the user with the given id, or ErrUserNotFound.
func (db *DB) FindUserByID(id int64) (*User, error) {
	user := &User{}
	err := db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx, `
			SELECT id, username, password_hash, nickname
			FROM users
			WHERE id = ?
		`, id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Nickname)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateChannel inserts a new channel and returns its id.
// The caller is responsible for the creator's membership row.
// A creatorID of 0 marks a system-created channel with no owning user.
func (db *DB) CreateChannel(name, description, joinKey string, creatorID int64) (int64, error) {
	creator := sql.NullInt64{Int64: creatorID, Valid: creatorID != 0}
	var id int64
	err := db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			INSERT INTO channels (name, description, join_key, creator_id, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, name, description, joinKey, creator, nowMillis())
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	return id, err
}

// ListChannelIDs returns the ids of all channels.
func (db *DB) ListChannelIDs() ([]int64, error) {
	var ids []int64
	err := db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT id FROM channels ORDER BY id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// LoadChannel returns a channel with its member and admin sets.
// An admin membership row counts toward both sets.
func (db *DB) LoadChannel(id int64) (*ChannelRecord, error) {
	rec := &ChannelRecord{}
	err := db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		var creator sql.NullInt64
		err := conn.QueryRowContext(ctx, `
			SELECT id, name, description, join_key, creator_id
			FROM channels
			WHERE id = ?
		`, id).Scan(&rec.ID, &rec.Name, &rec.Description, &rec.JoinKey, &creator)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChannelNotFound
		}
		if err != nil {
			return err
		}
		rec.CreatorID = creator.Int64

		rows, err := conn.QueryContext(ctx, `
			SELECT user_id, role
			FROM channel_memberships
			WHERE channel_id = ?
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var userID int64
			var role string
			if err := rows.Scan(&userID, &role); err != nil {
				return err
			}
			rec.Members = append(rec.Members, userID)
			if role == RoleAdmin {
				rec.Admins = append(rec.Admins, userID)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AddChannelMembership inserts a membership row. Re-adding an existing
// member fails with ErrDuplicateMembership.
func (db *DB) AddChannelMembership(channelID, userID int64, role string) error {
	return db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO channel_memberships (channel_id, user_id, role, created_at)
			VALUES (?, ?, ?, ?)
		`, channelID, userID, role, nowMillis())
		if err != nil && strings.Contains(err.Error(), "UNIQUE") {
			return ErrDuplicateMembership
		}
		return err
	})
}

// AppendChannelMessage persists one channel message.
func (db *DB) AppendChannelMessage(senderID, channelID int64, text string) error {
	return db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO channel_messages (channel_id, sender_id, content, created_at)
			VALUES (?, ?, ?, ?)
		`, channelID, senderID, text, nowMillis())
		return err
	})
}

// AppendDirectMessage persists one direct message.
func (db *DB) AppendDirectMessage(senderID, recipientID int64, text string) error {
	return db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO direct_messages (sender_id, recipient_id, content, created_at)
			VALUES (?, ?, ?, ?)
		`, senderID, recipientID, text, nowMillis())
		return err
	})
}

// PageChannelMessages returns one page of a channel's history, most recent
// first. Page 0 is the latest page.
func (db *DB) PageChannelMessages(channelID int64, page int) ([]StoredMessage, error) {
	if page < 0 {
		page = 0
	}
	var messages []StoredMessage
	err := db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT u.username, m.content, m.created_at
			FROM channel_messages m
			JOIN users u ON u.id = m.sender_id
			WHERE m.channel_id = ?
			ORDER BY m.id DESC
			LIMIT ? OFFSET ?
		`, channelID, PageSize, page*PageSize)
		if err != nil {
			return err
		}
		defer rows.Close()
		messages, err = scanMessages(rows)
		return err
	})
	return messages, err
}

// PageDirectMessages returns one page of the conversation between two
// users, in either direction, most recent first.
func (db *DB) PageDirectMessages(userA, userB int64, page int) ([]StoredMessage, error) {
	if page < 0 {
		page = 0
	}
	var messages []StoredMessage
	err := db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT u.username, m.content, m.created_at
			FROM direct_messages m
			JOIN users u ON u.id = m.sender_id
			WHERE (m.sender_id = ? AND m.recipient_id = ?)
			   OR (m.sender_id = ? AND m.recipient_id = ?)
			ORDER BY m.id DESC
			LIMIT ? OFFSET ?
		`, userA, userB, userB, userA, PageSize, page*PageSize)
		if err != nil {
			return err
		}
		defer rows.Close()
		messages, err = scanMessages(rows)
		return err
	})
	return messages, err
}

func scanMessages(rows *sql.Rows) ([]StoredMessage, error) {
	var messages []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.Sender, &m.Text, &m.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DistinctDirectPeers returns every user id this user has exchanged direct
// messages with.
func (db *DB) DistinctDirectPeers(userID int64) ([]int64, error) {
	var peers []int64
	err := db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT DISTINCT recipient_id FROM direct_messages WHERE sender_id = ?
			UNION
			SELECT DISTINCT sender_id FROM direct_messages WHERE recipient_id = ?
		`, userID, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			peers = append(peers, id)
		}
		return rows.Err()
	})
	return peers, err
}

// StoreFileMeta persists metadata for an uploaded file.
func (db *DB) StoreFileMeta(meta *FileMeta) error {
	return db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO files (uuid, filename, sender_id, recipient_id, channel_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, meta.UUID, meta.Filename, meta.SenderID, meta.RecipientID, meta.ChannelID, nowMillis())
		return err
	})
}

// FindFileByUUID returns file metadata by its generated id, or
// ErrFileNotFound.
func (db *DB) FindFileByUUID(uuid string) (*FileMeta, error) {
	meta := &FileMeta{}
	err := db.withConn(func(ctx context.Context, conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx, `
			SELECT uuid, filename, sender_id, recipient_id, channel_id
			FROM files
			WHERE uuid = ?
		`, uuid).Scan(&meta.UUID, &meta.Filename, &meta.SenderID, &meta.RecipientID, &meta.ChannelID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFileNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}
