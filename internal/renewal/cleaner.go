package renewal

import (
	"log"
	"time"

	"gorm.io/gorm"

	"certhub/internal/model"
)

// CleanerConfig defines attempt cleaner configuration
type CleanerConfig struct {
	Enabled        bool
	IntervalSec    int
	FailedKeepDays int
}

// Cleaner prunes old failed renewal attempt records so the audit table does
// not grow without bound.
type Cleaner struct {
	db          *gorm.DB
	config      CleanerConfig
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewCleaner creates a new attempt cleaner
func NewCleaner(db *gorm.DB, config CleanerConfig) *Cleaner {
	return &Cleaner{
		db:          db,
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the cleaner
func (c *Cleaner) Start() {
	if !c.config.Enabled {
		log.Println("[Attempt Cleaner] Disabled, skipping")
		close(c.stoppedChan)
		return
	}

	log.Printf("[Attempt Cleaner] Starting with interval=%ds, keep_days=%d\n", c.config.IntervalSec, c.config.FailedKeepDays)

	go c.run()
}

// Stop stops the cleaner
func (c *Cleaner) Stop() {
	if !c.config.Enabled {
		return
	}

	log.Println("[Attempt Cleaner] Stopping...")
	close(c.stopChan)
	<-c.stoppedChan
	log.Println("[Attempt Cleaner] Stopped")
}

// run is the main cleaner loop
func (c *Cleaner) run() {
	defer close(c.stoppedChan)

	ticker := time.NewTicker(time.Duration(c.config.IntervalSec) * time.Second)
	defer ticker.Stop()

	// Run immediately on start
	c.tick()

	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-c.stopChan:
			return
		}
	}
}

// tick deletes failed and aborted attempts older than the cutoff
func (c *Cleaner) tick() {
	cutoffTime := time.Now().Add(-time.Duration(c.config.FailedKeepDays) * 24 * time.Hour)

	result := c.db.
		Where("status IN (?, ?) AND updated_at < ?",
			model.RenewalAttemptStatusFailed, model.RenewalAttemptStatusAborted, cutoffTime).
		Delete(&model.RenewalAttempt{})

	if result.Error != nil {
		log.Printf("[Attempt Cleaner] Failed to clean old attempts: %v\n", result.Error)
		return
	}

	if result.RowsAffected > 0 {
		log.Printf("[Attempt Cleaner] Cleaned %d attempts older than %v\n", result.RowsAffected, cutoffTime)
	}
}
