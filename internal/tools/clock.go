package tools

import (
	"context"
	"fmt"
	"time"
)

// CurrentTimeName is the registered name of the time tool.
const CurrentTimeName = "current_time"

// CurrentTimeInput is the model-facing input of current_time.
type CurrentTimeInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"IANA timezone name such as Europe/Berlin (default UTC)"`
}

// CurrentTimeOutput is the result payload of current_time.
type CurrentTimeOutput struct {
	Time     string `json:"time"`
	Unix     int64  `json:"unix"`
	Weekday  string `json:"weekday"`
	Timezone string `json:"timezone"`
}

// NewCurrentTime builds the current_time tool. A nil now falls back to
// time.Now; tests inject a fixed clock.
func NewCurrentTime(now func() time.Time) (Handler, error) {
	if now == nil {
		now = time.Now
	}

	return New(CurrentTimeName,
		"Get the current date and time. "+
			"Returns: RFC 3339 timestamp, unix seconds and weekday. "+
			"Accepts an optional IANA timezone name, defaulting to UTC.",
		func(ctx context.Context, in CurrentTimeInput) (CurrentTimeOutput, error) {
			loc := time.UTC
			if in.Timezone != "" {
				var err error
				loc, err = time.LoadLocation(in.Timezone)
				if err != nil {
					return CurrentTimeOutput{}, fmt.Errorf("unknown timezone %q: %w", in.Timezone, err)
				}
			}
			t := now().In(loc)
			return CurrentTimeOutput{
				Time:     t.Format(time.RFC3339),
				Unix:     t.Unix(),
				Weekday:  t.Weekday().String(),
				Timezone: loc.String(),
			}, nil
		})
}
