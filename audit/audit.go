// Package audit persists a trail of what happened to each invoice
// document across onboarding and submission, the same
// create-log/query-by-document shape as the teacher's audit
// repository, backed by sqlite instead of MySQL since this client has
// no server of its own to share a database with.
package audit

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Audit actions recorded for a document's lifecycle. Distinct from the
// teacher's created/validated/signed/sent/approved/rejected set because
// this client's pipeline has no separate validation step and ends in
// reporting or clearance rather than a generic "sent".
const (
	ActionOnboarded = "onboarded"
	ActionSigned    = "signed"
	ActionReported  = "reported"
	ActionCleared   = "cleared"
	ActionRejected  = "rejected"
	ActionError     = "error"
)

// Log is one audit trail row, analogous to the teacher's AuditLog
// model but keyed by the invoice UUID rather than a database-assigned
// document ID, since this client does not own document persistence.
type Log struct {
	ID          uint   `gorm:"primaryKey"`
	UUID        string `gorm:"type:varchar(64);index"`
	Action      string `gorm:"type:varchar(20)"`
	Details     string `gorm:"type:text"`
	Environment string `gorm:"type:varchar(20)"`
	CreatedAt   time.Time
}

// Store wraps the gorm handle, mirroring the teacher's
// AuditRepository{db *gorm.DB}.
type Store struct {
	db *gorm.DB
}

// Open connects to the sqlite file at path and auto-migrates the Log
// table, the same pattern as the teacher's database.Initialize +
// AutoMigrate pair, minus the MySQL DSN assembly this client doesn't
// need.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Log{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Record appends one audit entry, the same signature shape as the
// teacher's CreateLog(documentID, action, details, userIP) with
// userIP replaced by environment since this client runs as a CLI, not
// a server handling requests from distinct remote addresses.
func (s *Store) Record(uuid, action, details, env string) error {
	return s.db.Create(&Log{
		UUID:        uuid,
		Action:      action,
		Details:     details,
		Environment: env,
	}).Error
}

// ByUUID returns every audit entry for one invoice, newest first,
// mirroring the teacher's GetLogsByDocumentID.
func (s *Store) ByUUID(uuid string) ([]Log, error) {
	var logs []Log
	err := s.db.Where("uuid = ?", uuid).Order("created_at DESC").Find(&logs).Error
	return logs, err
}

// Recent returns the most recent limit audit entries across all
// invoices, mirroring the teacher's GetRecentLogs.
func (s *Store) Recent(limit int) ([]Log, error) {
	var logs []Log
	err := s.db.Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
