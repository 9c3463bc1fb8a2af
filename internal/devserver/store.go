package devserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/idilsaglam/quicklist/internal/model"
)

// todoRow is the SQLite row behind model.Item.
type todoRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Task       string    `gorm:"not null"`
	IsComplete bool      `gorm:"not null;default:false"`
	InsertedAt time.Time `gorm:"not null"`
}

func (r todoRow) item() model.Item {
	return model.Item{
		ID:         r.ID,
		Task:       r.Task,
		IsComplete: r.IsComplete,
		InsertedAt: model.Timestamp{Time: r.InsertedAt.UTC()},
	}
}

// Store keeps the emulated table in SQLite through gorm.
type Store struct {
	db    *gorm.DB
	table string
}

// OpenStore opens (creating if needed) the SQLite database at path.
func OpenStore(path, table string) (*Store, error) {
	if table == "" {
		table = "todos"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// SQLite serialises writers anyway; one connection also keeps :memory: shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Table(table).AutoMigrate(&todoRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", table, err)
	}
	return &Store{db: db, table: table}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) tx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// List returns every row ordered by id.
func (s *Store) List(ctx context.Context) ([]model.Item, error) {
	var rows []todoRow
	if err := s.tx(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.item())
	}
	return items, nil
}

// Insert stores a new row and returns it with its id.
func (s *Store) Insert(ctx context.Context, in model.NewItem) (model.Item, error) {
	row := todoRow{Task: in.Task, IsComplete: in.IsComplete, InsertedAt: time.Now().UTC()}
	if err := s.tx(ctx).Create(&row).Error; err != nil {
		return model.Item{}, err
	}
	return row.item(), nil
}

// Update applies patch to row id and returns the row before and after.
// ok is false when no such row exists.
func (s *Store) Update(ctx context.Context, id int64, patch model.Patch) (before, after model.Item, ok bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row todoRow
		if err := tx.Table(s.table).First(&row, id).Error; err != nil {
			return err
		}
		before = row.item()
		changes := map[string]any{}
		if patch.Task != nil {
			changes["task"] = *patch.Task
		}
		if patch.IsComplete != nil {
			changes["is_complete"] = *patch.IsComplete
		}
		if len(changes) > 0 {
			if err := tx.Table(s.table).Where("id = ?", id).Updates(changes).Error; err != nil {
				return err
			}
		}
		if err := tx.Table(s.table).First(&row, id).Error; err != nil {
			return err
		}
		after = row.item()
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Item{}, model.Item{}, false, nil
	}
	return before, after, err == nil, err
}

// Delete removes row id and returns it. ok is false when it did not exist.
func (s *Store) Delete(ctx context.Context, id int64) (old model.Item, ok bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row todoRow
		if err := tx.Table(s.table).First(&row, id).Error; err != nil {
			return err
		}
		old = row.item()
		return tx.Table(s.table).Where("id = ?", id).Delete(&todoRow{}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Item{}, false, nil
	}
	return old, err == nil, err
}
