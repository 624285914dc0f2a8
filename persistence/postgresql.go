// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL 驱动

	"github.com/markus-fitmoji/orbital-match-colyseus/models"
)

// SQLStore 不走ORM的PostgreSQL实现
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore 创建 PostgreSQL 数据库连接
func NewSQLStore(host string, port int, user, password, dbname string) (*SQLStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(db); err != nil {
		return nil, err
	}

	return &SQLStore{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(db *sql.DB) error {
	// 创建房间表
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS game_rooms (
            id SERIAL PRIMARY KEY,
            room_name VARCHAR(64) UNIQUE NOT NULL,
            game_state JSONB NOT NULL DEFAULT '{}',
            max_players INT NOT NULL DEFAULT 20,
            current_players INT NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            last_activity TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	// 创建用户-房间绑定表
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS room_assignments (
            id SERIAL PRIMARY KEY,
            user_id VARCHAR(64) NOT NULL,
            room_name VARCHAR(64) NOT NULL,
            player_name VARCHAR(64),
            joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            UNIQUE (user_id, room_name)
        )
    `)
	if err != nil {
		return err
	}

	// 创建索引以提高查询性能
	_, err = db.Exec(`
        CREATE INDEX IF NOT EXISTS idx_game_rooms_active ON game_rooms(is_active);
        CREATE INDEX IF NOT EXISTS idx_room_assignments_user ON room_assignments(user_id, is_active);
    `)

	return err
}

// SaveRoomState 保存房间快照
func (p *SQLStore) SaveRoomState(roomName string, snapshot *models.RoomSnapshot, currentPlayers int) error {
	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 使用 UPSERT 操作 (PostgreSQL 9.5+)
	query := `
        INSERT INTO game_rooms (room_name, game_state, current_players)
        VALUES ($1, $2, $3)
        ON CONFLICT (room_name)
        DO UPDATE SET game_state = $2, current_players = $3,
            last_activity = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
    `

	_, err = p.db.ExecContext(ctx, query, roomName, jsonData, currentPlayers)
	return err
}

// LoadRoomState 加载房间快照
func (p *SQLStore) LoadRoomState(roomName string) (*models.RoomSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var data []byte
	query := `SELECT game_state FROM game_rooms WHERE room_name = $1`
	err := p.db.QueryRowContext(ctx, query, roomName).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	var snapshot models.RoomSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// CreateRoom 登记房间，已存在则重新激活
func (p *SQLStore) CreateRoom(roomName string, maxPlayers int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        INSERT INTO game_rooms (room_name, max_players)
        VALUES ($1, $2)
        ON CONFLICT (room_name)
        DO UPDATE SET is_active = TRUE, last_activity = CURRENT_TIMESTAMP
    `

	_, err := p.db.ExecContext(ctx, query, roomName, maxPlayers)
	return err
}

// DeactivateRoom 房间下线
func (p *SQLStore) DeactivateRoom(roomName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `UPDATE game_rooms SET is_active = FALSE, current_players = 0, updated_at = CURRENT_TIMESTAMP WHERE room_name = $1`
	_, err := p.db.ExecContext(ctx, query, roomName)
	return err
}

// ListActiveRooms 按创建顺序返回所有活跃房间
func (p *SQLStore) ListActiveRooms() ([]models.RoomRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
        SELECT room_name, max_players, current_players, is_active, last_activity, created_at
        FROM game_rooms WHERE is_active = TRUE ORDER BY created_at
    `
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.RoomRecord
	for rows.Next() {
		var r models.RoomRecord
		if err := rows.Scan(&r.RoomName, &r.MaxPlayers, &r.CurrentPlayers, &r.IsActive, &r.LastActivity, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetActiveAssignment 查询用户当前的活跃绑定
func (p *SQLStore) GetActiveAssignment(userID string) (*models.RoomAssignment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var a models.RoomAssignment
	query := `
        SELECT user_id, room_name, player_name, joined_at, last_seen, is_active
        FROM room_assignments WHERE user_id = $1 AND is_active = TRUE LIMIT 1
    `
	err := p.db.QueryRowContext(ctx, query, userID).
		Scan(&a.UserID, &a.RoomName, &a.PlayerName, &a.JoinedAt, &a.LastSeen, &a.IsActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &a, nil
}

// AssignUserToRoom 绑定用户到房间，保证每个用户至多一条活跃绑定
func (p *SQLStore) AssignUserToRoom(userID, roomName, playerName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// 先失效该用户在其他房间的活跃绑定
	_, err = tx.ExecContext(ctx,
		`UPDATE room_assignments SET is_active = FALSE WHERE user_id = $1 AND room_name <> $2 AND is_active = TRUE`,
		userID, roomName)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO room_assignments (user_id, room_name, player_name)
        VALUES ($1, $2, $3)
        ON CONFLICT (user_id, room_name)
        DO UPDATE SET player_name = $3, last_seen = CURRENT_TIMESTAMP, is_active = TRUE
    `
	if _, err := tx.ExecContext(ctx, query, userID, roomName, playerName); err != nil {
		return err
	}

	return tx.Commit()
}

// Close 关闭数据库连接
func (p *SQLStore) Close() error {
	return p.db.Close()
}
