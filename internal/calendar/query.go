package calendar

import (
	"fmt"
	"time"
)

const calendarQueryTemplate = `<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s" end="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>
`

// BuildCalendarQuery returns a calendar-query REPORT body selecting the
// VEVENTs that intersect [from, to].
func BuildCalendarQuery(from, to time.Time) string {
	return fmt.Sprintf(calendarQueryTemplate,
		from.UTC().Format(utcDateTimeLayout),
		to.UTC().Format(utcDateTimeLayout))
}
