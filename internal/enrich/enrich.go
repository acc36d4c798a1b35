// Package enrich performs best-effort extraction of meeting metadata from
// message text. Results are advisory context for the decision engine, never
// authoritative data; everything it cannot find stays unknown.
package enrich

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/max-delvita/scheduler-v4/internal/model"
)

var (
	durationRe = regexp.MustCompile(`(?i)\b(\d+)\s*(minutes?|mins?|hours?|hrs?|h)\b`)
	halfHourRe = regexp.MustCompile(`(?i)\b(half\s+an?\s+hour|half-hour)\b`)
	anHourRe   = regexp.MustCompile(`(?i)\ban?\s+hour\b`)

	tzAbbrevRe = regexp.MustCompile(`\b(UTC|GMT|EST|EDT|CST|CDT|MST|MDT|PST|PDT|BST|CET|CEST|IST|JST|AEST|AEDT)\b`)
	tzOffsetRe = regexp.MustCompile(`(?i)\b(?:UTC|GMT)\s*([+-]\d{1,2}(?::\d{2})?)\b`)

	locationRe = regexp.MustCompile(`(?im)^\s*(?:location|where|place)\s*:\s*(.+)$`)
	virtualRe  = regexp.MustCompile(`(?i)\b(zoom|google\s+meet|teams|webex|video\s+call|virtual(?:ly)?|online)\b`)
)

// Detected holds whatever metadata the text yielded. Zero values mean
// unknown, not "none".
type Detected struct {
	DurationMinutes int
	Location        string
	Virtual         bool
	Timezones       []string
}

// Extract scans free text for duration, timezone and location hints.
func Extract(text string) Detected {
	var d Detected

	if m := durationRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			unit := strings.ToLower(m[2])
			if strings.HasPrefix(unit, "h") {
				n *= 60
			}
			// Guard against absurd extractions like "300 hours".
			if n <= 24*60 {
				d.DurationMinutes = n
			}
		}
	}
	if d.DurationMinutes == 0 && halfHourRe.MatchString(text) {
		d.DurationMinutes = 30
	}
	if d.DurationMinutes == 0 && anHourRe.MatchString(text) {
		d.DurationMinutes = 60
	}

	seen := make(map[string]bool)
	for _, m := range tzAbbrevRe.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			d.Timezones = append(d.Timezones, m)
		}
	}
	for _, m := range tzOffsetRe.FindAllStringSubmatch(text, -1) {
		tz := "UTC" + m[1]
		if !seen[tz] {
			seen[tz] = true
			d.Timezones = append(d.Timezones, tz)
		}
	}

	if m := locationRe.FindStringSubmatch(text); m != nil {
		d.Location = strings.TrimSpace(m[1])
	}
	if virtualRe.MatchString(text) {
		d.Virtual = true
	}

	return d
}

// Apply folds detected metadata into a session, filling only fields that are
// still unset: the first detected value wins and later conflicting
// detections are discarded. Returns the column updates to persist, empty when
// nothing new was learned.
func Apply(session *model.Session, d Detected) map[string]interface{} {
	updates := make(map[string]interface{})

	if d.DurationMinutes > 0 {
		if session.DurationMinutes == 0 {
			session.DurationMinutes = d.DurationMinutes
			updates["duration_minutes"] = d.DurationMinutes
		} else if session.DurationMinutes != d.DurationMinutes {
			logrus.WithFields(logrus.Fields{
				"session_id": session.ID,
				"kept":       session.DurationMinutes,
				"discarded":  d.DurationMinutes,
			}).Debug("Ignoring conflicting duration detection")
		}
	}

	if d.Location != "" {
		if session.Location == "" {
			session.Location = d.Location
			updates["location"] = d.Location
		} else if session.Location != d.Location {
			logrus.WithFields(logrus.Fields{
				"session_id": session.ID,
				"kept":       session.Location,
				"discarded":  d.Location,
			}).Debug("Ignoring conflicting location detection")
		}
	}

	if d.Virtual && !session.Virtual {
		session.Virtual = true
		updates["virtual"] = true
	}

	var added []string
	known := make(map[string]bool)
	for _, tz := range session.Timezones {
		known[tz] = true
	}
	for _, tz := range d.Timezones {
		if !known[tz] {
			known[tz] = true
			added = append(added, tz)
		}
	}
	if len(added) > 0 {
		session.Timezones = append(session.Timezones, added...)
		updates["timezones"] = session.Timezones
	}

	return updates
}
