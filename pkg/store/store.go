package store

import "promptvault/pkg/domain"

// Store defines persistence operations for prompt/result records.
//
// UpdateRecord applies only the given column/value pairs; callers are
// responsible for whitelisting fields. Lookups return (value, found, error)
// so a missing record is not conflated with a store failure.
type Store interface {
	SaveRecord(domain.Record) error
	GetRecord(id string) (domain.Record, bool, error)
	ListRecords() ([]domain.Record, error)
	UpdateRecord(id string, fields map[string]any) (domain.Record, bool, error)
	DeleteRecord(id string) (bool, error)
}
