package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Auditor records every mutation of the data tree.
type Auditor interface {
	Record(ctx context.Context, e models.AuditEntry) error
	Close() error
}

type NopAuditor struct{}

func (NopAuditor) Record(context.Context, models.AuditEntry) error { return nil }
func (NopAuditor) Close() error                                    { return nil }

// PostgresAuditor appends to the cds_audit table.
type PostgresAuditor struct {
	db  *sql.DB
	log *zap.Logger
}

func NewPostgresAuditor(ctx context.Context, connectionString string, logger *zap.Logger) (*PostgresAuditor, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	a := &PostgresAuditor{db: db, log: logging.OrNop(logger).Named("audit")}
	if err := a.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	a.log.Info("connected to postgres")
	return a, nil
}

func (a *PostgresAuditor) createTables(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
    CREATE TABLE IF NOT EXISTS cds_audit (
        id BIGSERIAL PRIMARY KEY,
        action VARCHAR(50) NOT NULL,
        path VARCHAR(1024) NOT NULL,
        filename VARCHAR(255),
        size BIGINT NOT NULL DEFAULT 0,
        protected BOOLEAN,
        request_id VARCHAR(64),
        at TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_cds_audit_at ON cds_audit(at DESC);
    CREATE INDEX IF NOT EXISTS idx_cds_audit_path ON cds_audit(path);
    `)
	return err
}

func (a *PostgresAuditor) Record(ctx context.Context, e models.AuditEntry) error {
	var protected sql.NullBool
	if e.Protected != nil {
		protected = sql.NullBool{Bool: *e.Protected, Valid: true}
	}
	_, err := a.db.ExecContext(ctx, `
    INSERT INTO cds_audit (action, path, filename, size, protected, request_id, at)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
    `,
		e.Action,
		e.Path,
		e.Filename,
		e.Size,
		protected,
		e.RequestID,
		e.At,
	)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

func (a *PostgresAuditor) CheckConnection(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *PostgresAuditor) Close() error {
	return a.db.Close()
}
