package domain

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// TelegramHardLimit is the Telegram Bot API maximum message length.
const TelegramHardLimit = 4096

const closedAnnotation = "\n\n<b>❗ Incident closed by CHP</b>"

var detailPrefixRe = regexp.MustCompile(`^([0-9]{1,2}:[0-9]{2}\s?(?:AM|PM))\s+[0-9]+\s+`)

// RenderMessage builds the Telegram-HTML notification text for one incident
// observation. The narrative blockquote is capped at maxDetailChars and
// shrunk further if the whole message would exceed the Telegram hard limit.
func RenderMessage(inc RawIncident, coords *Coordinates, lines []string, facts FactRecord, maxDetailChars int) string {
	icon := ""
	switch {
	case strings.Contains(inc.Type, "Collision"):
		icon = "🚨 "
	case strings.Contains(inc.Type, "Hit") && strings.Contains(inc.Type, "Run"):
		icon = "🚗 "
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⏳ %s | 🏙 %s\n", html.EscapeString(inc.Time), html.EscapeString(inc.Area))
	fmt.Fprintf(&b, "%s%s\n\n", icon, html.EscapeString(inc.Type))
	fmt.Fprintf(&b, "📍 %s — %s", html.EscapeString(inc.Location), html.EscapeString(inc.LocationDesc))

	if summary := summarizeFacts(facts); summary != "" {
		b.WriteString("\n\n<b>📌 Status:</b>\n")
		b.WriteString(html.EscapeString(summary))
	}

	b.WriteString("\n\n<b>🗺 Map:</b>\n")
	if coords != nil {
		fmt.Fprintf(&b, "https://www.google.com/maps/search/?api=1&query=%.6f,%.6f", coords.Lat, coords.Lon)
	} else {
		b.WriteString("Coordinates unavailable")
	}

	skeleton := b.String()

	limit := maxDetailChars
	if leftover := TelegramHardLimit - len(skeleton) - len("\n\n<b>📝 Detail Information:</b>\n"); leftover < limit {
		limit = leftover
	}
	text := skeleton + detailBlock(lines, limit)
	if len(text) > TelegramHardLimit {
		text = skeleton + detailBlock(lines, limit*8/10)
	}
	return text
}

// AppendClosedAnnotation appends the fixed closed marker, trimming the text
// if needed so the result stays within the Telegram hard limit.
func AppendClosedAnnotation(text string) string {
	if len(text)+len(closedAnnotation) > TelegramHardLimit {
		cut := TelegramHardLimit - len(closedAnnotation)
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text + closedAnnotation
}

func detailBlock(lines []string, limit int) string {
	quoted := blockquote(lines, limit)
	if quoted == "" {
		return ""
	}
	return "\n\n<b>📝 Detail Information:</b>\n" + quoted
}

// blockquote renders narrative lines as a "›"-prefixed quote, compacting the
// dispatcher "HH:MM AM NN" prefixes and stopping at the character limit.
func blockquote(lines []string, limit int) string {
	if limit <= 0 || len(lines) == 0 {
		return ""
	}
	var out strings.Builder
	total := 0
	for _, ln := range lines {
		s := strings.TrimSpace(ln)
		if s == "" {
			continue
		}
		s = detailPrefixRe.ReplaceAllString(s, "$1: ")
		chunk := "› " + html.EscapeString(s) + "\n"
		if total+len(chunk) > limit {
			out.WriteString("… (truncated)")
			break
		}
		out.WriteString(chunk)
		total += len(chunk)
	}
	return out.String()
}

// summarizeFacts renders the extracted facts as a single comma-joined line.
func summarizeFacts(f FactRecord) string {
	var parts []string

	switch {
	case f.VehicleCount == 1:
		parts = append(parts, withTags("1 vehicle", f.VehicleTags))
	case f.VehicleCount > 1:
		parts = append(parts, withTags(fmt.Sprintf("%d vehicles", f.VehicleCount), f.VehicleTags))
	case len(f.VehicleTags) > 0:
		parts = append(parts, joinTags(f.VehicleTags))
	}

	var where []string
	if f.Ramp != RampNone {
		where = append(where, string(f.Ramp))
	}
	switch f.LocationLabel {
	case LocRightShoulder:
		where = append(where, "right shoulder")
	case LocLeftShoulder:
		where = append(where, "left shoulder")
	case LocCenterDivider:
		where = append(where, "center divider")
	case LocDirt:
		where = append(where, "dirt area")
	}
	if lanes := compactLanes(f.LaneNumbers); lanes != "" {
		if len(f.LaneNumbers) == 1 {
			where = append(where, "lane "+lanes)
		} else {
			where = append(where, "lanes "+lanes)
		}
	}
	if f.HOV {
		where = append(where, "HOV")
	}
	parts = append(parts, where...)

	if f.Blocking {
		parts = append(parts, "blocking")
	}
	if f.Driveable != nil {
		if *f.Driveable {
			parts = append(parts, "driveable")
		} else {
			parts = append(parts, "not driveable")
		}
	}
	if f.Tow != TowNone {
		tow := map[TowStatus]string{
			TowRequested: "tow requested",
			TowEnroute:   "tow en route",
			TowOnScene:   "tow on scene",
		}[f.Tow]
		if f.LastTimeMarker != "" {
			tow += fmt.Sprintf(" (%s)", strings.ToLower(f.LastTimeMarker))
		}
		parts = append(parts, tow)
	}
	if f.PatrolOnScene {
		parts = append(parts, "CHP on scene")
	} else if f.PatrolEnroute {
		parts = append(parts, "CHP en route")
	}
	if f.MedicalOnScene {
		parts = append(parts, "fire/medical on scene")
	}

	return strings.Join(parts, ", ")
}

func withTags(head string, tags []VehicleTag) string {
	if len(tags) == 0 {
		return head
	}
	return fmt.Sprintf("%s (%s)", head, joinTags(tags))
}

func joinTags(tags []VehicleTag) string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return strings.Join(out, ", ")
}

// compactLanes renders a sorted lane set as spans: {2,3,4,6} -> "#2–#4, #6".
func compactLanes(lanes []int) string {
	if len(lanes) == 0 {
		return ""
	}
	var spans []string
	a, b := lanes[0], lanes[0]
	flush := func() {
		if a == b {
			spans = append(spans, fmt.Sprintf("#%d", a))
		} else {
			spans = append(spans, fmt.Sprintf("#%d–#%d", a, b))
		}
	}
	for _, n := range lanes[1:] {
		if n == b+1 {
			b = n
			continue
		}
		flush()
		a, b = n, n
	}
	flush()
	return strings.Join(spans, ", ")
}
