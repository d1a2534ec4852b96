package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`CREATE EXTENSION IF NOT EXISTS "pgcrypto";`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'quotation_status') THEN
			CREATE TYPE quotation_status AS ENUM ('draft', 'sent', 'approved', 'rejected', 'paid', 'converted');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS quotations (
		id UUID PRIMARY KEY,
		quote_number BIGINT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		customer_name TEXT NOT NULL DEFAULT '',
		customer_email TEXT NOT NULL,
		customer_phone TEXT NOT NULL DEFAULT '',
		currency VARCHAR(3) NOT NULL DEFAULT 'JPY',
		status quotation_status NOT NULL DEFAULT 'draft',
		discount_percentage NUMERIC(5,2) NOT NULL DEFAULT 0,
		tax_percentage NUMERIC(5,2) NOT NULL DEFAULT 0,
		amount BIGINT NOT NULL DEFAULT 0,
		total_amount BIGINT NOT NULL DEFAULT 0,
		promotion_discount BIGINT NOT NULL DEFAULT 0,
		promotion_code TEXT,
		rejected_reason TEXT,
		payment_amount BIGINT,
		payment_method TEXT,
		booking_id UUID,
		sent_at TIMESTAMPTZ,
		approved_at TIMESTAMPTZ,
		rejected_at TIMESTAMPTZ,
		payment_completed_at TIMESTAMPTZ,
		converted_at TIMESTAMPTZ,
		magic_link_generated_at TIMESTAMPTZ,
		magic_link_expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT chk_quotation_decision CHECK (approved_at IS NULL OR rejected_at IS NULL),
		CONSTRAINT chk_quotation_payment CHECK (payment_completed_at IS NULL OR approved_at IS NOT NULL)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_quotations_quote_number ON quotations (quote_number);`,
	`CREATE INDEX IF NOT EXISTS idx_quotations_status ON quotations (status);`,
	`CREATE INDEX IF NOT EXISTS idx_quotations_customer_email ON quotations (customer_email);`,
	`CREATE TABLE IF NOT EXISTS quotation_items (
		id UUID PRIMARY KEY,
		quotation_id UUID NOT NULL REFERENCES quotations(id) ON DELETE CASCADE,
		description TEXT NOT NULL DEFAULT '',
		service_type_name TEXT NOT NULL DEFAULT '',
		unit_price BIGINT NOT NULL,
		quantity INT NOT NULL DEFAULT 1,
		service_days INT NOT NULL DEFAULT 1,
		hours_per_day INT,
		time_based_adjustment NUMERIC(6,2),
		time_based_rule_name TEXT,
		sort_order INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_quotation_items_quotation_id ON quotation_items (quotation_id);`,
	`CREATE TABLE IF NOT EXISTS pricing_packages (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		package_type TEXT NOT NULL DEFAULT 'bundle',
		base_price BIGINT NOT NULL,
		currency VARCHAR(3) NOT NULL DEFAULT 'JPY',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		sort_order INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS quotation_packages (
		quotation_id UUID NOT NULL REFERENCES quotations(id) ON DELETE CASCADE,
		pricing_package_id UUID NOT NULL REFERENCES pricing_packages(id),
		PRIMARY KEY (quotation_id, pricing_package_id)
	);`,
	`CREATE TABLE IF NOT EXISTS pricing_promotions (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL,
		discount_type TEXT NOT NULL,
		discount_value NUMERIC(18,2) NOT NULL,
		maximum_discount BIGINT,
		minimum_amount BIGINT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		start_date TIMESTAMPTZ,
		end_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_pricing_promotions_code ON pricing_promotions (code);`,
	`CREATE TABLE IF NOT EXISTS magic_links (
		id UUID PRIMARY KEY,
		quotation_id UUID NOT NULL REFERENCES quotations(id) ON DELETE CASCADE,
		customer_email TEXT NOT NULL,
		token TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		is_used BOOLEAN NOT NULL DEFAULT FALSE,
		used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_magic_links_token ON magic_links (token);`,
	`CREATE INDEX IF NOT EXISTS idx_magic_links_quotation_id ON magic_links (quotation_id);`,
	`CREATE TABLE IF NOT EXISTS activities (
		id UUID PRIMARY KEY,
		quotation_id UUID NOT NULL REFERENCES quotations(id) ON DELETE CASCADE,
		user_id UUID,
		action TEXT NOT NULL,
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_activities_quotation_id ON activities (quotation_id, created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_activities_action ON activities (action);`,
	`CREATE TABLE IF NOT EXISTS quote_counters (
		id INT PRIMARY KEY,
		value BIGINT NOT NULL DEFAULT 0
	);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
