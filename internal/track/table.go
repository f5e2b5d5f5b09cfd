// Package track owns the reconciliation state: incident identities, per-
// incident tracking records, alias pointers for merged duplicates, and the
// pruning rules that scope the table to the current calendar day.
package track

import (
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/cad-incident-notifier/internal/domain"
)

// dayFormat is the calendar-day component of an identity key. CAD incident
// numbers reset daily, so the day is embedded to keep identities from
// colliding across days.
const dayFormat = "20060102"

// Day renders t's calendar day the way identity keys embed it.
func Day(t time.Time) string {
	return t.Format(dayFormat)
}

// IdentityKey composes the stable key for one real-world incident:
// center:YYYYMMDD:NNNN. Numeric incident numbers are zero-padded to four
// digits so "42" and "0042" name the same incident.
func IdentityKey(center string, day time.Time, number string) string {
	n := strings.TrimSpace(number)
	if len(n) < 4 && n != "" && isDigits(n) {
		n = strings.Repeat("0", 4-len(n)) + n
	}
	return fmt.Sprintf("%s:%s:%s", center, day.Format(dayFormat), n)
}

// identityDay extracts the YYYYMMDD component of an identity key, or "" if
// the key is malformed.
func identityDay(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Record is the persisted reconciliation state for one tracked incident.
// It owns the outbound notification identified by NotificationID.
type Record struct {
	NotificationID int64               `json:"notification_id"`
	LastSignature  string              `json:"last_signature"`
	LastText       string              `json:"last_text"`
	Closed         bool                `json:"closed"`
	Misses         int                 `json:"misses"`
	FirstSeen      time.Time           `json:"first_seen"`
	LastSeen       time.Time           `json:"last_seen"`
	Coordinates    *domain.Coordinates `json:"coordinates,omitempty"`
}

// Table maps identity keys to owning records, plus alias pointers for
// identities that were merged into another identity's record. The table is a
// plain value owned by the reconciliation pass of one cycle at a time; it has
// no internal locking.
type Table struct {
	Records map[string]*Record `json:"records"`
	Aliases map[string]string  `json:"aliases"`
}

// NewTable returns an empty tracking table.
func NewTable() *Table {
	return &Table{
		Records: make(map[string]*Record),
		Aliases: make(map[string]string),
	}
}

// Resolve follows an alias pointer (if any) and returns the owning record,
// the owning identity key, and whether a record exists.
func (t *Table) Resolve(id string) (*Record, string, bool) {
	if target, ok := t.Aliases[id]; ok {
		id = target
	}
	rec, ok := t.Records[id]
	return rec, id, ok
}

// Alias records that id's lifecycle is delegated to target's record, so
// future observations of id resolve without re-running the merge scan.
func (t *Table) Alias(id, target string) {
	if id == target {
		return
	}
	t.Aliases[id] = target
}

// Prune drops records keyed to a previous calendar day or last seen before
// the retention horizon, closed or not, and drops aliases whose target is
// gone. It returns the number of records removed.
func (t *Table) Prune(day string, horizon time.Time) int {
	removed := 0
	for key, rec := range t.Records {
		if identityDay(key) != day || rec.LastSeen.Before(horizon) {
			delete(t.Records, key)
			removed++
		}
	}
	for key, target := range t.Aliases {
		if _, ok := t.Records[target]; !ok {
			delete(t.Aliases, key)
		}
	}
	return removed
}
