package events

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/database"
)

// Storage persists bus events.
type Storage interface {
	Store(ctx context.Context, event Event) error
	Get(ctx context.Context, filter Filter, limit, offset int) ([]Event, int64, error)
	Clear(ctx context.Context) error
}

type dbStorage struct {
	db *gorm.DB
}

// NewDatabaseStorage returns a gorm-backed event store.
func NewDatabaseStorage(db *gorm.DB) Storage {
	return &dbStorage{db: db}
}

func (s *dbStorage) Store(ctx context.Context, event Event) error {
	var data string
	if len(event.Data) > 0 {
		raw, err := json.Marshal(event.Data)
		if err != nil {
			return err
		}
		data = string(raw)
	}
	row := database.EventLog{
		ID:        event.ID,
		Type:      string(event.Type),
		Source:    event.Source,
		Title:     event.Title,
		Message:   event.Message,
		Data:      data,
		Priority:  int(event.Priority),
		Timestamp: event.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *dbStorage) Get(ctx context.Context, filter Filter, limit, offset int) ([]Event, int64, error) {
	q := s.db.WithContext(ctx).Model(&database.EventLog{})
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		q = q.Where("type IN ?", types)
	}
	if len(filter.Sources) > 0 {
		q = q.Where("source IN ?", filter.Sources)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	var rows []database.EventLog
	if err := q.Order("timestamp DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToEvent(row))
	}
	return out, total, nil
}

func (s *dbStorage) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&database.EventLog{}).Error
}

func rowToEvent(row database.EventLog) Event {
	e := Event{
		ID:        row.ID,
		Type:      EventType(row.Type),
		Source:    row.Source,
		Title:     row.Title,
		Message:   row.Message,
		Priority:  EventPriority(row.Priority),
		Timestamp: row.Timestamp,
	}
	if row.Data != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(row.Data), &data); err == nil {
			e.Data = data
		}
	}
	return e
}

// PruneBefore deletes persisted events older than cutoff. Used by the
// retention sweep in the server.
func PruneBefore(db *gorm.DB, cutoff time.Time) error {
	return db.Where("timestamp < ?", cutoff).Delete(&database.EventLog{}).Error
}
