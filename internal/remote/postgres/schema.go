package postgres

import (
	"fmt"

	"github.com/lib/pq"
)

// schemaStatements returns the DDL for a todos table whose row changes are
// published on channel as {"op","new","old","commit_timestamp"}.
// pg_notify caps payloads at 8000 bytes, which bounds task length in practice.
func schemaStatements(table, channel string) []string {
	tbl := pq.QuoteIdentifier(table)
	fn := pq.QuoteIdentifier(table + "_notify")
	trg := pq.QuoteIdentifier(table + "_notify_trg")
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			task TEXT NOT NULL,
			is_complete BOOLEAN NOT NULL DEFAULT FALSE,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, tbl),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify(%s, json_build_object(
				'op', TG_OP,
				'new', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE row_to_json(NEW) END,
				'old', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE row_to_json(OLD) END,
				'commit_timestamp', NOW()
			)::text);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`, fn, pq.QuoteLiteral(channel)),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trg, tbl),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s
			FOR EACH ROW EXECUTE FUNCTION %s()`, trg, tbl, fn),
	}
}
