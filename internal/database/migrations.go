package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationOneCurrentSnapshot = "2024-03-01_one_current_snapshot_per_category"
	migrationAuditSnapshotIndex = "2024-03-08_audit_snapshot_index"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationOneCurrentSnapshot, apply: enforceOneCurrentSnapshot},
		{name: migrationAuditSnapshotIndex, apply: indexAuditBySnapshot},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// enforceOneCurrentSnapshot demotes all but the newest current row of each
// category, then adds the partial unique index guarding the invariant.
func enforceOneCurrentSnapshot(tx *gorm.DB) error {
	repair := `UPDATE config_snapshots SET is_current = 0
		WHERE is_current = 1 AND sequence NOT IN (
			SELECT MAX(sequence) FROM config_snapshots WHERE is_current = 1 GROUP BY category
		)`
	if err := tx.Exec(repair).Error; err != nil {
		return err
	}
	return tx.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_config_snapshots_one_current ON config_snapshots(category) WHERE is_current = 1").Error
}

func indexAuditBySnapshot(tx *gorm.DB) error {
	return tx.Exec("CREATE INDEX IF NOT EXISTS idx_config_audit_snapshot ON config_audit(snapshot_id)").Error
}
