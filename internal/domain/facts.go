package domain

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// VehicleTag classifies a vehicle mentioned in the narrative.
type VehicleTag string

const (
	TagMotorcycle VehicleTag = "motorcycle"
	TagSemi       VehicleTag = "semi"
	TagTruck      VehicleTag = "truck"
	TagPickup     VehicleTag = "pickup"
	TagSUV        VehicleTag = "suv"
	TagVan        VehicleTag = "van"
	TagSedan      VehicleTag = "sedan"
)

// LocationLabel is where the vehicles ended up relative to the roadway.
type LocationLabel string

const (
	LocNone          LocationLabel = ""
	LocRightShoulder LocationLabel = "right-shoulder"
	LocLeftShoulder  LocationLabel = "left-shoulder"
	LocCenterDivider LocationLabel = "center-divider"
	LocDirt          LocationLabel = "dirt"
)

// RampKind marks an incident on a ramp or exit rather than the mainline.
type RampKind string

const (
	RampNone RampKind = ""
	RampOn   RampKind = "on-ramp"
	RampOff  RampKind = "off-ramp"
	RampExit RampKind = "exit"
)

// TowStatus tracks the 1185 (tow truck) progression. Statuses are ordered:
// on-scene beats enroute beats requested, and a stronger status is never
// downgraded by a weaker phrase elsewhere in the narrative.
type TowStatus string

const (
	TowNone      TowStatus = ""
	TowRequested TowStatus = "requested"
	TowEnroute   TowStatus = "enroute"
	TowOnScene   TowStatus = "on-scene"
)

func towRank(s TowStatus) int {
	switch s {
	case TowRequested:
		return 1
	case TowEnroute:
		return 2
	case TowOnScene:
		return 3
	default:
		return 0
	}
}

// SpecialFlag is a pure presence marker, independent of all other fields.
type SpecialFlag string

const (
	FlagSolo      SpecialFlag = "solo-collision"
	FlagAutoAlert SpecialFlag = "auto-generated-alert"
)

// FactRecord is the structured extraction from narrative text. Fields stay
// at their zero value when no matching phrase is found; no field is ever
// inferred from the absence of another, except VehicleCount (see
// ExtractFacts).
type FactRecord struct {
	VehicleCount   int           `json:"vehicle_count,omitempty"` // 0 = unknown
	VehicleTags    []VehicleTag  `json:"vehicle_tags,omitempty"`  // sorted, unique
	LocationLabel  LocationLabel `json:"location_label,omitempty"`
	LaneNumbers    []int         `json:"lane_numbers,omitempty"` // sorted, unique
	HOV            bool          `json:"hov,omitempty"`
	Ramp           RampKind      `json:"ramp,omitempty"`
	Driveable      *bool         `json:"driveable,omitempty"` // nil = unknown
	PatrolOnScene  bool          `json:"patrol_on_scene,omitempty"`
	PatrolEnroute  bool          `json:"patrol_enroute,omitempty"`
	MedicalOnScene bool          `json:"medical_on_scene,omitempty"`
	Tow            TowStatus     `json:"tow,omitempty"`
	Blocking       bool          `json:"blocking,omitempty"`
	SpecialFlags   []SpecialFlag `json:"special_flags,omitempty"` // sorted, unique
	LastTimeMarker string        `json:"last_time_marker,omitempty"`
}

var (
	timeMarkerRe = regexp.MustCompile(`^([0-9]{1,2}:[0-9]{2}\s?(?:AM|PM))\b`)

	vehicleTagMatchers = []struct {
		re  *regexp.Regexp
		tag VehicleTag
	}{
		{regexp.MustCompile(`\bMC\b|MOTORCYCLE`), TagMotorcycle},
		{regexp.MustCompile(`\bSEMI\b|BIG\s*RIG|TRACTOR\s*TRAILER`), TagSemi},
		{regexp.MustCompile(`\bTRK\b|\bTRUCK\b`), TagTruck},
		{regexp.MustCompile(`\bPK\b|PICK[\s-]?UP`), TagPickup},
		{regexp.MustCompile(`\bSUV\b`), TagSUV},
		{regexp.MustCompile(`\bVAN\b|MINI\s*VAN`), TagVan},
		{regexp.MustCompile(`\bSEDAN\b`), TagSedan},
	}

	vehicleCountRe = regexp.MustCompile(`\b([0-9]{1,2})\s*(?:VEHS?|VEHICLES|CARS|TCS?)\b`)
	soloRe         = regexp.MustCompile(`\bSOLO\b`)
	pairingRes     = []*regexp.Regexp{
		regexp.MustCompile(`\bVS\b`),
		regexp.MustCompile(`\bX\b`),
		regexp.MustCompile(`\b2(?:ND)?\s+VEH\b`),
		regexp.MustCompile(`\bBOTH\s+VEH`),
	}

	laneRe = regexp.MustCompile(`#\s*([0-9])`)
	hovRe  = regexp.MustCompile(`\bHOV\b`)

	rightShoulderRe = regexp.MustCompile(`\bRHS?\b|\bR\.?S\b|RIGHT\s+SHOULDER`)
	leftShoulderRe  = regexp.MustCompile(`\bLHS?\b|\bL\.?S\b|LEFT\s+SHOULDER`)
	centerDividerRe = regexp.MustCompile(`\bCD\b|CENTER\s+DIV(?:IDER)?\b`)
	dirtRe          = regexp.MustCompile(`DIRT\s+AREA`)

	onRampRe  = regexp.MustCompile(`\bON[-\s]?RAMP\b|\bONR\b`)
	offRampRe = regexp.MustCompile(`\bOFF[-\s]?RAMP\b|\bOFFR\b`)
	exitRe    = regexp.MustCompile(`\bEXIT\b`)

	// The negative form is checked first: "NOT DRIVABLE" contains "DRIVABLE".
	notDriveableRe = regexp.MustCompile(`\bNOT\s+DRIVE?ABLE\b|\bUNDRIVE?ABLE\b`)
	driveableRe    = regexp.MustCompile(`\bDRIVE?ABLE\b|\bABLE\s+TO\s+DRIVE\b`)

	patrolOnSceneRe = regexp.MustCompile(`\bCHP\b.*\b97\b|\b97\b.*\bCHP\b`)
	patrolEnrouteRe = regexp.MustCompile(`\bCHP\b.*\bENRT?\b|\bENRT?\b.*\bCHP\b`)
	medicalRe       = regexp.MustCompile(`\b1141\b|\bFIRE\b|\bMEDICS?\b|AMBU?LANCE`)

	towOnSceneRe   = regexp.MustCompile(`\b1185\b.*\b97\b`)
	towEnrouteRe   = regexp.MustCompile(`\b1185\b.*\bENRT?\b`)
	towRequestedRe = regexp.MustCompile(`\b1185\b.*\b(?:REQ|REQUEST|RQST)\b|\bTOW\b.*\b(?:REQ|REQUEST|RQST)`)

	blockingRe  = regexp.MustCompile(`\bBLOCK(?:ING|ED)?\b|\bBLKG\b`)
	autoAlertRe = regexp.MustCompile(`\bACN\b|\bAUTOMATED\b`)
)

// ExtractFacts converts narrative lines into a FactRecord. It is a pure
// function, total over any input: an empty or nil sequence yields the zero
// record. Each matcher owns its fields and a later match for
// location/ramp/responder fields overwrites an earlier one; VehicleCount
// takes the maximum over all explicit counts, falling back to 1 on solo
// phrasing and 2 on pairing phrasing; Tow only ever moves to a stronger
// status.
func ExtractFacts(lines []string) FactRecord {
	var rec FactRecord
	tags := make(map[VehicleTag]bool)
	lanes := make(map[int]bool)
	flags := make(map[SpecialFlag]bool)

	maxCount := 0
	pairing := false

	for _, raw := range lines {
		line := strings.ToUpper(strings.TrimSpace(raw))
		if line == "" {
			continue
		}

		if m := timeMarkerRe.FindStringSubmatch(line); m != nil {
			rec.LastTimeMarker = m[1]
		}

		for _, vt := range vehicleTagMatchers {
			if vt.re.MatchString(line) {
				tags[vt.tag] = true
			}
		}

		for _, m := range vehicleCountRe.FindAllStringSubmatch(line, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n > maxCount {
				maxCount = n
			}
		}
		for _, re := range pairingRes {
			if re.MatchString(line) {
				pairing = true
				break
			}
		}

		for _, m := range laneRe.FindAllStringSubmatch(line, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil {
				lanes[n] = true
			}
		}
		if hovRe.MatchString(line) {
			rec.HOV = true
		}

		switch {
		case rightShoulderRe.MatchString(line):
			rec.LocationLabel = LocRightShoulder
		case leftShoulderRe.MatchString(line):
			rec.LocationLabel = LocLeftShoulder
		case centerDividerRe.MatchString(line):
			rec.LocationLabel = LocCenterDivider
		case dirtRe.MatchString(line):
			rec.LocationLabel = LocDirt
		}

		switch {
		case onRampRe.MatchString(line):
			rec.Ramp = RampOn
		case offRampRe.MatchString(line):
			rec.Ramp = RampOff
		case exitRe.MatchString(line):
			rec.Ramp = RampExit
		}

		if notDriveableRe.MatchString(line) {
			rec.Driveable = boolPtr(false)
		} else if driveableRe.MatchString(line) {
			rec.Driveable = boolPtr(true)
		}

		if patrolOnSceneRe.MatchString(line) {
			rec.PatrolOnScene = true
		} else if patrolEnrouteRe.MatchString(line) {
			rec.PatrolEnroute = true
		}
		if medicalRe.MatchString(line) {
			rec.MedicalOnScene = true
		}

		switch {
		case towOnSceneRe.MatchString(line):
			rec.Tow = raiseTow(rec.Tow, TowOnScene)
		case towEnrouteRe.MatchString(line):
			rec.Tow = raiseTow(rec.Tow, TowEnroute)
		case towRequestedRe.MatchString(line):
			rec.Tow = raiseTow(rec.Tow, TowRequested)
		}

		if blockingRe.MatchString(line) {
			rec.Blocking = true
		}
		if soloRe.MatchString(line) {
			flags[FlagSolo] = true
		}
		if autoAlertRe.MatchString(line) {
			flags[FlagAutoAlert] = true
		}
	}

	switch {
	case maxCount > 0:
		rec.VehicleCount = maxCount
	case flags[FlagSolo]:
		rec.VehicleCount = 1
	case pairing:
		rec.VehicleCount = 2
	}

	rec.VehicleTags = sortedTags(tags)
	rec.LaneNumbers = sortedInts(lanes)
	rec.SpecialFlags = sortedFlags(flags)
	return rec
}

// raiseTow returns the stronger of the current and observed statuses.
func raiseTow(current, observed TowStatus) TowStatus {
	if towRank(observed) > towRank(current) {
		return observed
	}
	return current
}

func boolPtr(b bool) *bool { return &b }

func sortedTags(set map[VehicleTag]bool) []VehicleTag {
	if len(set) == 0 {
		return nil
	}
	out := make([]VehicleTag, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedInts(set map[int]bool) []int {
	if len(set) == 0 {
		return nil
	}
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func sortedFlags(set map[SpecialFlag]bool) []SpecialFlag {
	if len(set) == 0 {
		return nil
	}
	out := make([]SpecialFlag, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
