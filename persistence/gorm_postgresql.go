// persistence/gorm_postgresql.go
package persistence

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/markus-fitmoji/orbital-match-colyseus/models"
)

// GormStore 使用GORM的PostgreSQL实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建GORM PostgreSQL数据库连接
func NewGormStore(host string, port int, user, password, dbname string) (*GormStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold: time.Second,   // 慢SQL阈值
			LogLevel:      logger.Silent, // 日志级别
			Colorful:      false,         // 禁用彩色打印
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	// 获取通用数据库对象 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := db.AutoMigrate(&models.GameRoomModel{}, &models.RoomAssignmentModel{}); err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

// SaveRoomState 保存房间快照
func (p *GormStore) SaveRoomState(roomName string, snapshot *models.RoomSnapshot, currentPlayers int) error {
	var room models.GameRoomModel
	result := p.db.Where("room_name = ?", roomName).First(&room)

	if result.Error == gorm.ErrRecordNotFound {
		// 创建新记录
		room = models.GameRoomModel{
			RoomName:       roomName,
			GameState:      *snapshot,
			CurrentPlayers: currentPlayers,
			IsActive:       true,
			LastActivity:   time.Now(),
		}
		return p.db.Create(&room).Error
	} else if result.Error != nil {
		return result.Error
	}

	// 更新现有记录
	room.GameState = *snapshot
	room.CurrentPlayers = currentPlayers
	room.LastActivity = time.Now()
	room.UpdatedAt = time.Now()
	return p.db.Save(&room).Error
}

// LoadRoomState 加载房间快照
func (p *GormStore) LoadRoomState(roomName string) (*models.RoomSnapshot, error) {
	var room models.GameRoomModel
	if err := p.db.Where("room_name = ?", roomName).First(&room).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	snapshot := room.GameState
	return &snapshot, nil
}

// CreateRoom 登记房间，已存在则重新激活
func (p *GormStore) CreateRoom(roomName string, maxPlayers int) error {
	var room models.GameRoomModel
	result := p.db.Where("room_name = ?", roomName).First(&room)

	if result.Error == gorm.ErrRecordNotFound {
		room = models.GameRoomModel{
			RoomName:     roomName,
			MaxPlayers:   maxPlayers,
			IsActive:     true,
			LastActivity: time.Now(),
		}
		return p.db.Create(&room).Error
	} else if result.Error != nil {
		return result.Error
	}

	room.IsActive = true
	room.LastActivity = time.Now()
	if maxPlayers > 0 {
		room.MaxPlayers = maxPlayers
	}
	return p.db.Save(&room).Error
}

// DeactivateRoom 房间下线
func (p *GormStore) DeactivateRoom(roomName string) error {
	return p.db.Model(&models.GameRoomModel{}).
		Where("room_name = ?", roomName).
		Updates(map[string]interface{}{
			"is_active":       false,
			"current_players": 0,
		}).Error
}

// ListActiveRooms 按创建顺序返回所有活跃房间
func (p *GormStore) ListActiveRooms() ([]models.RoomRecord, error) {
	var rooms []models.GameRoomModel
	if err := p.db.Where("is_active = ?", true).Order("created_at").Find(&rooms).Error; err != nil {
		return nil, err
	}

	records := make([]models.RoomRecord, 0, len(rooms))
	for _, r := range rooms {
		records = append(records, models.RoomRecord{
			RoomName:       r.RoomName,
			MaxPlayers:     r.MaxPlayers,
			CurrentPlayers: r.CurrentPlayers,
			IsActive:       r.IsActive,
			LastActivity:   r.LastActivity,
			CreatedAt:      r.CreatedAt,
		})
	}
	return records, nil
}

// GetActiveAssignment 查询用户当前的活跃绑定
func (p *GormStore) GetActiveAssignment(userID string) (*models.RoomAssignment, error) {
	var m models.RoomAssignmentModel
	err := p.db.Where("user_id = ? AND is_active = ?", userID, true).First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return &models.RoomAssignment{
		UserID:     m.UserID,
		RoomName:   m.RoomName,
		PlayerName: m.PlayerName,
		JoinedAt:   m.JoinedAt,
		LastSeen:   m.LastSeen,
		IsActive:   m.IsActive,
	}, nil
}

// AssignUserToRoom 绑定用户到房间，保证每个用户至多一条活跃绑定
func (p *GormStore) AssignUserToRoom(userID, roomName, playerName string) error {
	now := time.Now()
	return p.db.Transaction(func(tx *gorm.DB) error {
		// 先失效该用户在其他房间的活跃绑定
		if err := tx.Model(&models.RoomAssignmentModel{}).
			Where("user_id = ? AND room_name <> ? AND is_active = ?", userID, roomName, true).
			Update("is_active", false).Error; err != nil {
			return err
		}

		var m models.RoomAssignmentModel
		result := tx.Where("user_id = ? AND room_name = ?", userID, roomName).First(&m)

		if result.Error == gorm.ErrRecordNotFound {
			m = models.RoomAssignmentModel{
				UserID:     userID,
				RoomName:   roomName,
				PlayerName: playerName,
				JoinedAt:   now,
				LastSeen:   now,
				IsActive:   true,
			}
			return tx.Create(&m).Error
		} else if result.Error != nil {
			return result.Error
		}

		m.PlayerName = playerName
		m.LastSeen = now
		m.IsActive = true
		return tx.Save(&m).Error
	})
}

// Close 关闭数据库连接
func (p *GormStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
