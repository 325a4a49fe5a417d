package markethours

import "time"

func istDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, IST)
}

// nseHolidays is the NSE trading holiday list for 2026.
var nseHolidays = []time.Time{
	istDate(2026, time.January, 26),
	istDate(2026, time.February, 17),
	istDate(2026, time.March, 14),
	istDate(2026, time.March, 31),
	istDate(2026, time.April, 2),
	istDate(2026, time.April, 6),
	istDate(2026, time.April, 10),
	istDate(2026, time.April, 14),
	istDate(2026, time.May, 1),
	istDate(2026, time.June, 7),
	istDate(2026, time.July, 6),
	istDate(2026, time.August, 15),
	istDate(2026, time.August, 16),
	istDate(2026, time.September, 5),
	istDate(2026, time.October, 2),
	istDate(2026, time.October, 20),
	istDate(2026, time.October, 21),
	istDate(2026, time.November, 5),
	istDate(2026, time.November, 6),
	istDate(2026, time.November, 7),
	istDate(2026, time.November, 19),
	istDate(2026, time.December, 25),
}
