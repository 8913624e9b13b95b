package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"promptvault/pkg/domain"
)

const defaultCollection = "genai_history"

// GormStore implements Store using GORM + Postgres. The collection name maps
// onto the table every query is bound to, mirroring the document-collection
// setting of the deployment environment.
type GormStore struct {
	db    *gorm.DB
	table string
}

// NewGormStore opens the DB and migrates the record table.
func NewGormStore(dsn, collection string) (*GormStore, error) {
	table := strings.TrimSpace(collection)
	if table == "" {
		table = defaultCollection
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Table(table).AutoMigrate(&RecordModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate %s: %w", table, err)
	}
	return &GormStore{db: db, table: table}, nil
}

func (s *GormStore) records() *gorm.DB {
	return s.db.Table(s.table)
}

// SaveRecord inserts a record. IDs are generated by the caller, never
// client-supplied, so duplicate-key conflicts are not handled here.
func (s *GormStore) SaveRecord(rec domain.Record) error {
	model := recordToModel(rec)
	if err := s.records().Create(&model).Error; err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// GetRecord retrieves a record by ID.
func (s *GormStore) GetRecord(id string) (domain.Record, bool, error) {
	var model RecordModel
	if err := s.records().First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, err
	}
	return recordFromModel(model), true, nil
}

// ListRecords returns all records, newest first.
func (s *GormStore) ListRecords() ([]domain.Record, error) {
	var models []RecordModel
	if err := s.records().Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Record, 0, len(models))
	for _, m := range models {
		res = append(res, recordFromModel(m))
	}
	return res, nil
}

// UpdateRecord applies the given column values and returns the updated record.
// An empty fields map leaves the row untouched.
func (s *GormStore) UpdateRecord(id string, fields map[string]any) (domain.Record, bool, error) {
	current, found, err := s.GetRecord(id)
	if err != nil || !found {
		return domain.Record{}, found, err
	}
	if len(fields) == 0 {
		return current, true, nil
	}
	// json.RawMessage values must go through datatypes.JSON so the driver
	// binds them as jsonb rather than bytea.
	for col, value := range fields {
		if raw, ok := value.(json.RawMessage); ok {
			fields[col] = datatypes.JSON(raw)
		}
	}
	if err := s.records().Where("id = ?", id).Updates(fields).Error; err != nil {
		return domain.Record{}, false, fmt.Errorf("update record: %w", err)
	}
	return s.GetRecord(id)
}

// DeleteRecord removes a record, reporting whether it existed.
func (s *GormStore) DeleteRecord(id string) (bool, error) {
	res := s.records().Delete(&RecordModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func recordToModel(rec domain.Record) RecordModel {
	var metaRaw []byte
	if len(rec.Metadata) > 0 {
		metaRaw, _ = json.Marshal(rec.Metadata)
	}
	return RecordModel{
		ID:        rec.ID,
		Prompt:    rec.Prompt,
		Result:    datatypes.JSON(rec.Result),
		Mode:      string(rec.Mode),
		Service:   rec.Service,
		MediaURL:  rec.MediaURL,
		MediaType: rec.MediaType,
		MediaKey:  rec.MediaKey,
		Metadata:  datatypes.JSON(metaRaw),
		CreatedAt: rec.CreatedAt,
	}
}

func recordFromModel(m RecordModel) domain.Record {
	var meta map[string]any
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Record{
		ID:        m.ID,
		Prompt:    m.Prompt,
		Result:    json.RawMessage(m.Result),
		Mode:      domain.Mode(m.Mode),
		Service:   m.Service,
		MediaURL:  m.MediaURL,
		MediaType: m.MediaType,
		MediaKey:  m.MediaKey,
		Metadata:  meta,
		CreatedAt: m.CreatedAt,
	}
}
