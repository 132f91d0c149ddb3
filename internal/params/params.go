// Package params binds global and schedule-time parameters for a task,
// deriving the time-window parameters downstream scripts depend on.
package params

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/swarmguard/worker/internal/task"
)

// Well-known derived parameter keys for the syncDate time window.
const (
	KeyStartTimeStamp  = "start_time_stamp"
	KeyEndTimeStamp    = "end_time_stamp"
	KeyStartTimeStampS = "start_time_stamp_s"
	KeyEndTimeStampS   = "end_time_stamp_s"
	syncDateProp       = "syncDate"
	syncDateLayout     = "2006-01-02"
	dayMillis          = 86399 * 1000
	// ScheduleTimeParamKey is the parameter name a scheduled run's
	// timestamp is published under.
	ScheduleTimeParamKey = "system.datetime"
	scheduleTimeLayout   = "20060102150405"
)

// BuildGlobalParamsMap deserializes globalParamsJSON (a JSON array of
// task.Property) and returns name->value, with syncDate-derived time
// window keys added first (so explicit user-supplied values in the list
// can override them) and every property from the list overlaid last,
// last-duplicate-wins.
func BuildGlobalParamsMap(globalParamsJSON string) (map[string]string, error) {
	result := make(map[string]string)
	if globalParamsJSON == "" {
		return result, nil
	}

	var props []task.Property
	if err := json.Unmarshal([]byte(globalParamsJSON), &props); err != nil {
		return nil, fmt.Errorf("parse global params: %w", err)
	}

	for _, p := range props {
		if p.Prop != syncDateProp {
			continue
		}
		derived := deriveSyncDateWindow(p.Value)
		for k, v := range derived {
			result[k] = v
		}
		break
	}

	for _, p := range props {
		result[p.Prop] = p.Value
	}

	return result, nil
}

// deriveSyncDateWindow parses value as yyyy-MM-dd in the local time zone
// and returns the four epoch-millisecond/-second window keys. On parse
// failure all four keys are set to empty strings, never an error.
func deriveSyncDateWindow(value string) map[string]string {
	keys := map[string]string{
		KeyStartTimeStamp:  "",
		KeyEndTimeStamp:    "",
		KeyStartTimeStampS: "",
		KeyEndTimeStampS:   "",
	}

	t, err := time.ParseInLocation(syncDateLayout, value, time.Local)
	if err != nil {
		return keys
	}

	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local).UnixMilli()
	end := start + dayMillis

	keys[KeyStartTimeStamp] = strconv.FormatInt(start, 10)
	keys[KeyEndTimeStamp] = strconv.FormatInt(end, 10)
	keys[KeyStartTimeStampS] = strconv.FormatInt(start/1000, 10)
	keys[KeyEndTimeStampS] = strconv.FormatInt(end/1000, 10)
	return keys
}

// PreBuildBusinessParams emits the schedule-time parameter when scheduleTime
// is present; otherwise it returns an empty map.
func PreBuildBusinessParams(scheduleTime time.Time, hasSchedule bool) map[string]task.Property {
	if !hasSchedule {
		return map[string]task.Property{}
	}
	return map[string]task.Property{
		ScheduleTimeParamKey: {
			Prop:  ScheduleTimeParamKey,
			Value: scheduleTime.Format(scheduleTimeLayout),
		},
	}
}
