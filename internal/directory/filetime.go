package directory

import "time"

// Windows FILETIME counts 100 ns ticks since 1601-01-01 UTC.
var filetimeEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

// filetimeToTime converts a directory FILETIME value to a time.Time.
// Zero and negative values (never set / "must change at next logon") map to
// the zero time. The conversion splits seconds and remainder to stay clear of
// int64 nanosecond overflow.
func filetimeToTime(ft int64) time.Time {
	if ft <= 0 {
		return time.Time{}
	}
	secs := ft / 10_000_000
	rem := ft % 10_000_000
	return filetimeEpoch.Add(time.Duration(secs)*time.Second + time.Duration(rem)*100*time.Nanosecond)
}
