package services

import (
	"sort"
	"time"

	"github.com/6tail/lunar-go/HolidayUtil"
	"github.com/6tail/lunar-go/calendar"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/at"
	"github.com/rickar/cal/v2/au"
	"github.com/rickar/cal/v2/be"
	"github.com/rickar/cal/v2/br"
	"github.com/rickar/cal/v2/ca"
	"github.com/rickar/cal/v2/ch"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/dk"
	"github.com/rickar/cal/v2/es"
	"github.com/rickar/cal/v2/fi"
	"github.com/rickar/cal/v2/fr"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/ie"
	"github.com/rickar/cal/v2/it"
	"github.com/rickar/cal/v2/jp"
	"github.com/rickar/cal/v2/nl"
	"github.com/rickar/cal/v2/no"
	"github.com/rickar/cal/v2/nz"
	"github.com/rickar/cal/v2/pl"
	"github.com/rickar/cal/v2/pt"
	"github.com/rickar/cal/v2/se"
	"github.com/rickar/cal/v2/us"
)

type HolidayService struct {
	calendars map[string]*cal.BusinessCalendar
}

func NewHolidayService() *HolidayService {
	s := &HolidayService{
		calendars: make(map[string]*cal.BusinessCalendar),
	}
	s.initCalendars()
	return s
}

func (s *HolidayService) initCalendars() {
	s.calendars["US"] = s.createCalendar("United States", us.Holidays...)
	s.calendars["GB"] = s.createCalendar("United Kingdom", gb.Holidays...)
	s.calendars["DE"] = s.createCalendar("Germany", de.Holidays...)
	s.calendars["FR"] = s.createCalendar("France", fr.Holidays...)
	s.calendars["JP"] = s.createCalendar("Japan", jp.Holidays...)
	s.calendars["AU"] = s.createCalendar("Australia", au.HolidaysNSW...)
	s.calendars["CA"] = s.createCalendar("Canada", ca.Holidays...)
	s.calendars["NZ"] = s.createCalendar("New Zealand", nz.Holidays...)
	s.calendars["IT"] = s.createCalendar("Italy", it.Holidays...)
	s.calendars["ES"] = s.createCalendar("Spain", es.Holidays...)
	s.calendars["NL"] = s.createCalendar("Netherlands", nl.Holidays...)
	s.calendars["BE"] = s.createCalendar("Belgium", be.Holidays...)
	s.calendars["AT"] = s.createCalendar("Austria", at.Holidays...)
	s.calendars["CH"] = s.createCalendar("Switzerland", ch.Holidays...)
	s.calendars["SE"] = s.createCalendar("Sweden", se.Holidays...)
	s.calendars["NO"] = s.createCalendar("Norway", no.Holidays...)
	s.calendars["DK"] = s.createCalendar("Denmark", dk.Holidays...)
	s.calendars["FI"] = s.createCalendar("Finland", fi.Holidays...)
	s.calendars["PL"] = s.createCalendar("Poland", pl.Holidays...)
	s.calendars["PT"] = s.createCalendar("Portugal", pt.Holidays...)
	s.calendars["IE"] = s.createCalendar("Ireland", ie.Holidays...)
	s.calendars["BR"] = s.createCalendar("Brazil", br.Holidays...)
}

func (s *HolidayService) createCalendar(name string, holidays ...*cal.Holiday) *cal.BusinessCalendar {
	c := cal.NewBusinessCalendar()
	c.Name = name
	c.AddHoliday(holidays...)
	return c
}

func (s *HolidayService) IsWorkday(t time.Time, countryCode string) bool {
	if countryCode == "CN" {
		return s.isWorkdayChina(t)
	}

	if countryCode == "NONE" {
		return !cal.IsWeekend(t)
	}

	c, ok := s.calendars[countryCode]
	if !ok {
		return !cal.IsWeekend(t)
	}

	return c.IsWorkday(t)
}

func (s *HolidayService) isWorkdayChina(t time.Time) bool {
	solar := calendar.NewSolarFromDate(t)
	holiday := HolidayUtil.GetHolidayByYmd(solar.GetYear(), solar.GetMonth(), solar.GetDay())

	if holiday != nil {
		return holiday.IsWork()
	}

	weekday := t.Weekday()
	return weekday != time.Saturday && weekday != time.Sunday
}

// Supports reports whether countryCode has a calendar.
func (s *HolidayService) Supports(countryCode string) bool {
	if countryCode == "CN" || countryCode == "NONE" {
		return true
	}
	_, ok := s.calendars[countryCode]
	return ok
}

func (s *HolidayService) GetSupportedCountries() []CountryInfo {
	countries := make([]CountryInfo, 0, len(s.calendars)+2)
	countries = append(countries, CountryInfo{Code: "CN", Name: "China"})
	for code, c := range s.calendars {
		countries = append(countries, CountryInfo{Code: code, Name: c.Name})
	}
	sort.Slice(countries, func(i, j int) bool { return countries[i].Code < countries[j].Code })
	return append(countries, CountryInfo{Code: "NONE", Name: "Weekdays Only (Mon-Fri)"})
}

type CountryInfo struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ElapsedClock measures how much of [from, to) counts toward staleness.
type ElapsedClock interface {
	Elapsed(from, to time.Time) time.Duration
	Describe() string
}

// CalendarClock counts wall-clock time.
type CalendarClock struct{}

func (CalendarClock) Elapsed(from, to time.Time) time.Duration {
	if !to.After(from) {
		return 0
	}
	return to.Sub(from)
}

func (CalendarClock) Describe() string { return "calendar" }

// WorkdayClock counts only the parts of [from, to) that fall on working days
// of the configured country, day boundaries taken in UTC.
type WorkdayClock struct {
	holidays *HolidayService
	country  string
}

func NewWorkdayClock(holidays *HolidayService, country string) *WorkdayClock {
	return &WorkdayClock{holidays: holidays, country: country}
}

func (c *WorkdayClock) Elapsed(from, to time.Time) time.Duration {
	from, to = from.UTC(), to.UTC()
	var total time.Duration
	for cursor := from; cursor.Before(to); {
		dayEnd := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		segEnd := dayEnd
		if to.Before(segEnd) {
			segEnd = to
		}
		if c.holidays.IsWorkday(cursor, c.country) {
			total += segEnd.Sub(cursor)
		}
		cursor = segEnd
	}
	return total
}

func (c *WorkdayClock) Describe() string { return "workdays:" + c.country }

// NewElapsedClock returns a workday clock when country is set, calendar time otherwise.
func NewElapsedClock(holidays *HolidayService, country string) ElapsedClock {
	if country == "" {
		return CalendarClock{}
	}
	if holidays == nil {
		holidays = NewHolidayService()
	}
	return NewWorkdayClock(holidays, country)
}
