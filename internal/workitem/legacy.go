package workitem

// legacyStatusMigration maps status strings seen in data written before
// `backlog` became the canonical default status. Applied only on read,
// from rows predating the canonical default; never applied silently on
// write, and never extended beyond the values actually observed in
// mcp-jive-era data.
var legacyStatusMigration = map[string]Status{
	"not_started": StatusBacklog,
	"todo":        StatusBacklog,
}

// MigrateLegacyStatus maps a raw status string read from storage to its
// canonical Status, applying the legacy migration table when the raw
// value isn't itself a known Status. Returns the raw value unchanged
// (and ok=false) if it matches neither a known Status nor a legacy alias,
// so callers can surface a data-integrity warning instead of silently
// guessing.
func MigrateLegacyStatus(raw string) (Status, bool) {
	s := Status(raw)
	if s.Valid() {
		return s, true
	}
	if mapped, ok := legacyStatusMigration[raw]; ok {
		return mapped, true
	}
	return s, false
}
