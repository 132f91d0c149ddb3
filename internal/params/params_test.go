package params

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/swarmguard/worker/internal/task"
)

func TestBuildGlobalParamsMapWithSyncDate(t *testing.T) {
	props := []task.Property{{Prop: "syncDate", Value: "2023-06-15"}}
	data, _ := json.Marshal(props)

	got, err := BuildGlobalParamsMap(string(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	start, err := strconv.ParseInt(got[KeyStartTimeStamp], 10, 64)
	if err != nil {
		t.Fatalf("start not numeric: %v", err)
	}
	end, err := strconv.ParseInt(got[KeyEndTimeStamp], 10, 64)
	if err != nil {
		t.Fatalf("end not numeric: %v", err)
	}
	if end-start != 86399000 {
		t.Fatalf("expected end-start=86399000, got %d", end-start)
	}

	startS, _ := strconv.ParseInt(got[KeyStartTimeStampS], 10, 64)
	endS, _ := strconv.ParseInt(got[KeyEndTimeStampS], 10, 64)
	if startS != start/1000 || endS != end/1000 {
		t.Fatalf("expected _s siblings to be /1000, got %d/%d", startS, endS)
	}

	if got["syncDate"] != "2023-06-15" {
		t.Fatalf("expected syncDate preserved, got %q", got["syncDate"])
	}
}

func TestBuildGlobalParamsMapBadSyncDateIsEmptyNotError(t *testing.T) {
	props := []task.Property{{Prop: "syncDate", Value: "not-a-date"}}
	data, _ := json.Marshal(props)

	got, err := BuildGlobalParamsMap(string(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, k := range []string{KeyStartTimeStamp, KeyEndTimeStamp, KeyStartTimeStampS, KeyEndTimeStampS} {
		if got[k] != "" {
			t.Fatalf("expected %s empty on unparsable syncDate, got %q", k, got[k])
		}
	}
}

func TestBuildGlobalParamsMapOverlayLastWins(t *testing.T) {
	props := []task.Property{
		{Prop: "syncDate", Value: "2023-06-15"},
		{Prop: KeyStartTimeStamp, Value: "override"},
	}
	data, _ := json.Marshal(props)

	got, err := BuildGlobalParamsMap(string(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[KeyStartTimeStamp] != "override" {
		t.Fatalf("expected user-supplied value to win, got %q", got[KeyStartTimeStamp])
	}
}

func TestBuildGlobalParamsMapEmptyInput(t *testing.T) {
	got, err := BuildGlobalParamsMap("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestPreBuildBusinessParams(t *testing.T) {
	st := time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC)
	got := PreBuildBusinessParams(st, true)
	p, ok := got[ScheduleTimeParamKey]
	if !ok {
		t.Fatalf("expected %s present", ScheduleTimeParamKey)
	}
	if p.Value != st.Format("20060102150405") {
		t.Fatalf("unexpected formatted value %q", p.Value)
	}

	empty := PreBuildBusinessParams(st, false)
	if len(empty) != 0 {
		t.Fatalf("expected empty map when no schedule time")
	}
}
