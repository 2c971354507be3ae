package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

// roomRow is the rooms table. Nested room state is stored as JSON columns;
// the whole document is rewritten on every save.
type roomRow struct {
	Code         string               `gorm:"type:varchar(16);primaryKey"`
	Mode         string               `gorm:"type:varchar(16);not null"`
	Theme        string               `gorm:"type:text;not null;default:''"`
	Status       string               `gorm:"type:varchar(16);not null"`
	Patterns     map[int]room.Pattern `gorm:"serializer:json"`
	ActiveLocks  map[int]int          `gorm:"serializer:json"`
	ReadyPlayers []int                `gorm:"serializer:json"`
	Slots        map[int]string       `gorm:"serializer:json"`
	Version      int                  `gorm:"not null;default:0"`
	CreatedAt    time.Time            `gorm:"column:created_at"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (roomRow) TableName() string { return "rooms" }

func toRow(r room.Room) roomRow {
	return roomRow{
		Code:         r.Code,
		Mode:         string(r.Mode),
		Theme:        r.Theme,
		Status:       string(r.Status),
		Patterns:     r.Patterns,
		ActiveLocks:  r.ActiveLocks,
		ReadyPlayers: r.ReadyPlayers,
		Slots:        r.Slots,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
	}
}

func (row roomRow) toRoom() room.Room {
	r := room.Room{
		Code:         row.Code,
		Mode:         room.Mode(row.Mode),
		Theme:        row.Theme,
		Status:       room.Status(row.Status),
		Patterns:     row.Patterns,
		ActiveLocks:  row.ActiveLocks,
		ReadyPlayers: row.ReadyPlayers,
		Slots:        row.Slots,
		Version:      row.Version,
		CreatedAt:    row.CreatedAt,
	}
	if r.Patterns == nil {
		r.Patterns = map[int]room.Pattern{}
	}
	if r.ActiveLocks == nil {
		r.ActiveLocks = map[int]int{}
	}
	if r.ReadyPlayers == nil {
		r.ReadyPlayers = []int{}
	}
	if r.Slots == nil {
		r.Slots = map[int]string{}
	}
	return r
}

type GormRoomRepo struct {
	db *gorm.DB
}

// OpenGorm connects to postgres and migrates the rooms table.
func OpenGorm(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&roomRow{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func NewGormRoomRepo(db *gorm.DB) *GormRoomRepo {
	return &GormRoomRepo{db: db}
}

func (g *GormRoomRepo) Get(ctx context.Context, code string) (room.Room, error) {
	var row roomRow
	err := g.db.WithContext(ctx).First(&row, "code = ?", code).Error
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return room.Room{}, room.ErrRoomNotFound
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return room.Room{}, err
		default:
			return room.Room{}, fmt.Errorf("%w: %w", ErrUnexpectedDatabase, err)
		}
	}
	return row.toRoom(), nil
}

func (g *GormRoomRepo) Save(ctx context.Context, r room.Room) error {
	row := toRow(r)
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnexpectedDatabase, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (g *GormRoomRepo) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
