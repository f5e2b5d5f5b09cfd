package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Signature produces a deterministic digest of an incident's observable
// content: its type, narrative lines, and extracted facts. Set-valued fields
// are sorted before inclusion so that set order never affects the digest.
// The digest is used only for equality ("did anything change"), never for
// ordering or partial matching.
func Signature(incidentType string, lines []string, facts FactRecord) string {
	h := sha256.New()
	fmt.Fprintf(h, "type=%s\n", incidentType)
	for _, ln := range lines {
		fmt.Fprintf(h, "line=%s\n", ln)
	}
	fmt.Fprintf(h, "facts=%s\n", canonicalFacts(facts))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalFacts renders a FactRecord as a stable one-line encoding.
func canonicalFacts(f FactRecord) string {
	tags := make([]string, len(f.VehicleTags))
	for i, t := range f.VehicleTags {
		tags[i] = string(t)
	}
	sort.Strings(tags)

	lanes := append([]int(nil), f.LaneNumbers...)
	sort.Ints(lanes)

	flags := make([]string, len(f.SpecialFlags))
	for i, fl := range f.SpecialFlags {
		flags[i] = string(fl)
	}
	sort.Strings(flags)

	driveable := "?"
	if f.Driveable != nil {
		if *f.Driveable {
			driveable = "y"
		} else {
			driveable = "n"
		}
	}

	return fmt.Sprintf(
		"veh=%d|tags=%s|loc=%s|lanes=%v|hov=%t|ramp=%s|drv=%s|chp97=%t|chpenrt=%t|med=%t|tow=%s|blk=%t|flags=%s|tmark=%s",
		f.VehicleCount,
		strings.Join(tags, ","),
		f.LocationLabel,
		lanes,
		f.HOV,
		f.Ramp,
		driveable,
		f.PatrolOnScene,
		f.PatrolEnroute,
		f.MedicalOnScene,
		f.Tow,
		f.Blocking,
		strings.Join(flags, ","),
		f.LastTimeMarker,
	)
}
