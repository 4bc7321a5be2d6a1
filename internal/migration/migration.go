package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/storefront/internal/audit/domain"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// RunMigrations applies the embedded postgres schema.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every table owned by the service.
func Models() []any {
	return []any{
		&orderdomain.Order{},
		&orderdomain.TimelineEntry{},
		&paymentdomain.Payment{},
		&paymentdomain.Refund{},
		&paymentdomain.EventRecord{},
		&auditdomain.AuditLog{},
	}
}

// AutoMigrate builds the schema from the models for sqlite and mysql
// development databases.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if conn.Dialector.Name() == "sqlite" {
		err := conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_order_succeeded
			ON payments (order_id) WHERE status = 'succeeded'`).Error
		if err != nil {
			return fmt.Errorf("create succeeded payment index: %w", err)
		}
	}
	return nil
}
