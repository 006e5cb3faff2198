// Package journal keeps an audit trail of every dispatch outcome in a SQL
// database — embedded SQLite by default, MySQL for shared deployments. The
// dispatcher writes to it, the dashboard reads from it; the order book
// itself never lives here.
package journal

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Entry is one recorded dispatch outcome.
type Entry struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Recipient string `gorm:"size:128;index" json:"recipient"`
	Result    string `gorm:"size:16;index" json:"result"` // "sent" or "suppressed"
	Reason    string `gorm:"size:32" json:"reason"`       // suppression reason, empty when sent
	Chars     int    `json:"chars"`
	CreatedAt time.Time `json:"createdAt"`
}

// Journal records and queries dispatch entries.
type Journal struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open connects to the journal database and migrates the schema. Supported
// drivers: "sqlite" (dsn is a file path or ":memory:") and "mysql".
func Open(driver, dsn string, log zerolog.Logger) (*Journal, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		if dsn == "" {
			dsn = "journal.db"
		}
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: connect: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db, log: log}, nil
}

// Record implements courier.Recorder. Write failures are logged and
// swallowed: the audit trail never blocks or fails a dispatch.
func (j *Journal) Record(recipient, result, reason string, chars int) {
	entry := Entry{
		Recipient: recipient,
		Result:    result,
		Reason:    reason,
		Chars:     chars,
	}
	if err := j.db.Create(&entry).Error; err != nil {
		j.log.Warn().Err(err).Msg("journal: record entry")
	}
}

// Recent returns the n most recent entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	var entries []Entry
	err := j.db.Order("id DESC").Limit(n).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return entries, nil
}

// CountByResult returns entry counts grouped by result.
func (j *Journal) CountByResult() (map[string]int64, error) {
	type row struct {
		Result string
		N      int64
	}
	var rows []row
	err := j.db.Model(&Entry{}).
		Select("result, count(*) as n").
		Group("result").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("journal: count by result: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Result] = r.N
	}
	return counts, nil
}
