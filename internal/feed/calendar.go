package feed

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// sessionSettled is the ET wall-clock time after which a trading day's data
// is considered complete, including extended hours.
const sessionSettled = "20:05"

// LatestFinishedTradingDay returns the most recent trading day whose session
// has fully settled, resolved against the Alpaca trading calendar. Used to
// pick a safe default end date for historical fetches.
func LatestFinishedTradingDay(apiKey, apiSecret, baseURL string) (time.Time, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now := time.Now().In(et)

	days, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}

	dates := make([]string, len(days))
	for i, d := range days {
		dates[i] = d.Date
	}
	return latestFinished(dates, now)
}

// latestFinished picks the newest date from an ascending list of trading days
// that has finished relative to now. Today only counts once its session has
// settled.
func latestFinished(dates []string, now time.Time) (time.Time, error) {
	if len(dates) == 0 {
		return time.Time{}, fmt.Errorf("no trading days in calendar window")
	}

	settled, err := time.ParseInLocation("2006-01-02 15:04",
		now.Format("2006-01-02")+" "+sessionSettled, now.Location())
	if err != nil {
		return time.Time{}, err
	}

	for i := len(dates) - 1; i >= 0; i-- {
		day, err := time.Parse("2006-01-02", dates[i])
		if err != nil {
			return time.Time{}, fmt.Errorf("bad calendar date %q: %w", dates[i], err)
		}
		switch {
		case dates[i] == now.Format("2006-01-02"):
			if now.After(settled) {
				return day, nil
			}
		case day.Before(now):
			return day, nil
		}
	}
	return time.Time{}, fmt.Errorf("no finished trading day in calendar window")
}
