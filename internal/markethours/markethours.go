// Package markethours knows the US equities trading calendar: regular
// session, pre/post-market extended hours, weekends, and exchange holidays.
package markethours

import (
	"fmt"
	"time"
)

// ET is the US Eastern time zone used by NYSE/Nasdaq. A fixed-offset
// fallback is used when the tz database is unavailable.
var ET = loadET()

func loadET() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*3600)
	}
	return loc
}

// Session boundaries in ET.
const (
	PreMarketOpenHour = 4 // 4:00 AM
	OpenHour          = 9
	OpenMinute        = 30 // 9:30 AM
	CloseHour         = 16 // 4:00 PM
	PostMarketEndHour = 20 // 8:00 PM
)

// IsMarketOpen returns true if t falls within regular trading hours
// (9:30 AM – 4:00 PM ET, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	et := t.In(ET)
	if !IsTradingDay(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60
}

// IsPreMarket returns true if t falls in the pre-market window
// (4:00 AM – 9:30 AM ET on a trading day).
func IsPreMarket(t time.Time) bool {
	et := t.In(ET)
	if !IsTradingDay(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= PreMarketOpenHour*60 && hm < OpenHour*60+OpenMinute
}

// IsPostMarket returns true if t falls in the post-market window
// (4:00 PM – 8:00 PM ET on a trading day).
func IsPostMarket(t time.Time) bool {
	et := t.In(ET)
	if !IsTradingDay(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= CloseHour*60 && hm < PostMarketEndHour*60
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(ET).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	et := t.In(ET)
	return IsWeekday(et) && !IsHoliday(et)
}

// MarketOpen returns the regular-session open (9:30 AM ET) for t's date.
func MarketOpen(t time.Time) time.Time {
	et := t.In(ET)
	return time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, ET)
}

// MarketClose returns the regular-session close (4:00 PM ET) for t's date.
func MarketClose(t time.Time) time.Time {
	et := t.In(ET)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, 0, 0, 0, ET)
}

// NextOpen returns the next market open. If t is before today's open on a
// trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(ET)

	todayOpen := MarketOpen(et)
	if et.Before(todayOpen) && IsTradingDay(et) {
		return todayOpen
	}

	d := et.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // holidays + weekends never exceed this
		if IsTradingDay(d) {
			return MarketOpen(d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return MarketOpen(et.AddDate(0, 0, 1))
}

// NextTradingDay returns the next trading day strictly after t's date,
// honoring the weekend/holiday skip flags.
func NextTradingDay(t time.Time, skipWeekends, skipHolidays bool) time.Time {
	d := t.In(ET).AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if skipWeekends && !IsWeekday(d) {
			d = d.AddDate(0, 0, 1)
			continue
		}
		if skipHolidays && IsHoliday(d) {
			d = d.AddDate(0, 0, 1)
			continue
		}
		return d
	}
	return d
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		d := MarketClose(t).Sub(t.In(ET))
		return fmt.Sprintf("Market Open — closes in %s", fmtDur(d))
	}
	if IsPreMarket(t) {
		return "Pre-Market"
	}
	if IsPostMarket(t) {
		return "Post-Market"
	}
	next := NextOpen(t)
	et := next.In(ET)
	return fmt.Sprintf("Market Closed — opens %s %s (%s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
