package store

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"invoice-relay-go/internal/config"
	"invoice-relay-go/internal/model"
)

// ReportRowRecord mirrors one report row into the archive database. The
// spreadsheet stays the audit output; this table exists for ad-hoc queries
// and is written best-effort.
type ReportRowRecord struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	RunStartedAt  time.Time `json:"run_started_at" gorm:"index"`
	Subject       string    `json:"subject" gorm:"type:text"`
	InvoiceNumber string    `json:"invoice_number" gorm:"type:varchar(64);index"`
	LoadID        string    `json:"load_id" gorm:"type:varchar(64)"`
	TotalAmount   string    `json:"total_amount" gorm:"type:varchar(32)"`
	Status        string    `json:"status" gorm:"type:varchar(64)"`
	ErrorDetail   string    `json:"error_detail" gorm:"type:text"`
	FinishedAt    time.Time `json:"finished_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName specifies the table name for ReportRowRecord
func (ReportRowRecord) TableName() string {
	return "report_rows"
}

// Store archives report rows in Postgres.
type Store struct {
	db *gorm.DB
}

// Open connects to the archive database and runs migrations.
func Open(cfg config.StoreConfig) (*Store, error) {
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}

	if err := db.AutoMigrate(&ReportRowRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive database: %w", err)
	}

	logrus.Info("Archive database initialized")
	return &Store{db: db}, nil
}

// ArchiveReport inserts every row of the run.
func (s *Store) ArchiveReport(report *model.RunReport) error {
	if len(report.Rows) == 0 {
		return nil
	}

	records := make([]ReportRowRecord, 0, len(report.Rows))
	for _, row := range report.Rows {
		records = append(records, ReportRowRecord{
			RunStartedAt:  report.StartedAt,
			Subject:       row.Subject,
			InvoiceNumber: row.InvoiceNumber,
			LoadID:        row.LoadID,
			TotalAmount:   row.TotalAmount,
			Status:        row.Status,
			ErrorDetail:   row.ErrorDetail,
			FinishedAt:    row.FinishedAt,
		})
	}

	if err := s.db.Create(&records).Error; err != nil {
		return fmt.Errorf("failed to archive report rows: %w", err)
	}
	return nil
}

// LatestRows returns the most recently archived rows, newest first.
func (s *Store) LatestRows(limit int) ([]ReportRowRecord, error) {
	var rows []ReportRowRecord
	if err := s.db.Order("created_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch archived rows: %w", err)
	}
	return rows, nil
}

// Ping verifies the database connection, for health checks.
func (s *Store) Ping() error {
	return s.db.Raw("SELECT 1").Error
}
