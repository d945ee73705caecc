package upgrade

// RequiredSchemaVersion is the schema version this binary expects. Bump it
// alongside adding a new internal/store/migrations/NNNN_*.up.sql file.
const RequiredSchemaVersion uint = 1

// Data migration hooks are registered here.
// Add new hooks when a schema migration requires Go-based data transformation.
//
// Example:
//
//	func init() {
//		RegisterDataHook(2, "002_backfill_group_trigger_phrase", func(ctx context.Context, db *sql.DB) error {
//			// transform data after migration 0002 is applied
//			return nil
//		})
//	}
