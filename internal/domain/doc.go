// Package domain models California Highway Patrol (CHP) Computer Aided
// Dispatch (CAD) incident data.
//
// # Data Source
//
// Incidents come from the public CHP CAD Traffic page. Each row in the
// incident grid carries a daily incident number, a dispatch time, a free-text
// type, a location, a location description, and an area. Clicking a row's
// Details link reveals the narrative panel ("Detail Information"): a running
// log of timestamped dispatcher entries plus, usually, a Google Maps link
// with the incident coordinates.
//
// # Narrative Conventions
//
// Dispatcher entries are terse uppercase shorthand. The extractor recognizes:
//
//	Vehicles:   "2 VEHS", "3 CARS"; "SOLO VEH" for single-vehicle collisions;
//	            pairing phrases "VS", "X", "2ND VEH", "BOTH VEHS" imply at
//	            least two vehicles when no explicit count appears.
//	Types:      MC (motorcycle), SEMI / BIG RIG / TRACTOR TRAILER, TRK/TRUCK,
//	            PK / PICKUP, SUV, VAN / MINIVAN, SEDAN.
//	Position:   "#3" lane numbers, HOV, RS/RHS (right shoulder), LS/LHS
//	            (left shoulder), CD (center divider), DIRT AREA, ON-RAMP /
//	            ONR, OFF-RAMP / OFFR, EXIT, BLOCKING.
//	Radio codes: 97 = on scene, ENRT = en route, 1141 = ambulance requested,
//	            1185 = tow truck requested, 1039 = notified.
//	Tow:        "1185 REQ" (requested), "1185 ENRT" (en route),
//	            "1185 97" (on scene). A stronger status is never downgraded
//	            by a weaker phrase appearing later in the narrative.
//	Condition:  "DRIVABLE" / "ABLE TO DRIVE" vs "NOT DRIVABLE" / "UNDRIVABLE".
//	Alerts:     ACN / AUTOMATED collision notifications from in-vehicle
//	            systems.
//
// Every matcher is a deterministic regular expression over the upper-cased
// line; a field with no matching phrase stays absent. No field is inferred
// from the absence of another, except the vehicle count fallbacks above.
//
// # Identity
//
// CAD incident numbers reset daily and repeat across communications centers,
// so an incident identity is the triple center:YYYYMMDD:NNNN (see the track
// package). Content change detection uses [Signature], a SHA-256 digest of
// the incident type, narrative, and extracted facts with set-valued fields
// sorted so narrative set order never produces a spurious edit.
package domain
