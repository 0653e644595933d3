package heat

import (
	"strconv"
	"time"

	"heatbot/internal/caseid"
)

// SyntheticSource marks placeholder records.
const SyntheticSource = "synthetic"

var syntheticStatuses = []struct{ status, description string }{
	{"Registered", "Request received and registered"},
	{"In Progress", "Case under evaluation by the support team"},
	{"Pending Documentation", "Additional documentation required"},
	{"In Technical Review", "Under specialised technical review"},
	{"Approved", "Request approved, pending notification"},
	{"Closed", "Process completed"},
}

// SyntheticRecord builds a placeholder derived only from the case number. It is flagged
// Synthetic so renderers disclose it; nothing in it comes from the target system.
func SyntheticRecord(id caseid.ID, now time.Time) *Record {
	n, _ := strconv.Atoi(id.Number())
	pick := syntheticStatuses[(n*7)%len(syntheticStatuses)]

	rec := NewRecord(id, SyntheticSource)
	rec.Synthetic = true
	rec.ExtractedAt = now
	rec.Set(FieldStatus, pick.status)
	rec.Set(FieldDescription, pick.description)
	rec.Set(FieldDate, now.AddDate(0, 0, -(n % 30)).Format("2006-01-02"))
	return rec
}
