package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Vehicle is one vehicle entry of a TriMet vehicles snapshot.
// Every field keeps the feed's own text; numbers, booleans and timestamps
// are only interpreted by the accessor methods below.
type Vehicle struct {
	Expires               string `json:"expires"`
	SignMessage           string `json:"signMessage"`
	ServiceDate           string `json:"serviceDate"`
	LoadPercentage        string `json:"loadPercentage"`
	Latitude              string `json:"latitude"`
	NextStopSeq           string `json:"nextStopSeq"`
	Source                string `json:"source"`
	Type                  string `json:"type"`
	BlockID               string `json:"blockID"`
	SignMessageLong       string `json:"signMessageLong"`
	LastLocID             string `json:"lastLocID"`
	NextLocID             string `json:"nextLocID"`
	LocationInScheduleDay string `json:"locationInScheduleDay"`
	NewTrip               string `json:"newTrip"`
	Longitude             string `json:"longitude"`
	Direction             string `json:"direction"`
	InCongestion          string `json:"inCongestion"`
	RouteNumber           string `json:"routeNumber"`
	Bearing               string `json:"bearing"`
	Garage                string `json:"garage"`
	TripID                string `json:"tripID"`
	Delay                 string `json:"delay"`
	ExtraBlockID          string `json:"extraBlockID"`
	MessageCode           string `json:"messageCode"`
	LastStopSeq           string `json:"lastStopSeq"`
	VehicleID             string `json:"vehicleID"`
	Time                  string `json:"time"`
	OffRoute              string `json:"offRoute"`
}

// fields maps feed keys to the struct fields they populate
func (v *Vehicle) fields() map[string]*string {
	return map[string]*string{
		"expires":               &v.Expires,
		"signMessage":           &v.SignMessage,
		"serviceDate":           &v.ServiceDate,
		"loadPercentage":        &v.LoadPercentage,
		"latitude":              &v.Latitude,
		"nextStopSeq":           &v.NextStopSeq,
		"source":                &v.Source,
		"type":                  &v.Type,
		"blockID":               &v.BlockID,
		"signMessageLong":       &v.SignMessageLong,
		"lastLocID":             &v.LastLocID,
		"nextLocID":             &v.NextLocID,
		"locationInScheduleDay": &v.LocationInScheduleDay,
		"newTrip":               &v.NewTrip,
		"longitude":             &v.Longitude,
		"direction":             &v.Direction,
		"inCongestion":          &v.InCongestion,
		"routeNumber":           &v.RouteNumber,
		"bearing":               &v.Bearing,
		"garage":                &v.Garage,
		"tripID":                &v.TripID,
		"delay":                 &v.Delay,
		"extraBlockID":          &v.ExtraBlockID,
		"messageCode":           &v.MessageCode,
		"lastStopSeq":           &v.LastStopSeq,
		"vehicleID":             &v.VehicleID,
		"time":                  &v.Time,
		"offRoute":              &v.OffRoute,
	}
}

// UnmarshalJSON accepts any JSON scalar for any field. Missing fields and
// nulls become empty strings; "vehicleId" is accepted for "vehicleID".
func (v *Vehicle) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*v = Vehicle{}
	for key, dst := range v.fields() {
		if msg, ok := raw[key]; ok {
			*dst = scalarText(msg)
		}
	}
	if v.VehicleID == "" {
		if msg, ok := raw["vehicleId"]; ok {
			v.VehicleID = scalarText(msg)
		}
	}
	return nil
}

// scalarText returns the text of a JSON value: strings unquoted, null empty,
// anything else as it appears in the document.
func scalarText(msg json.RawMessage) string {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// Lat returns the latitude in degrees
func (v Vehicle) Lat() (float64, bool) {
	return parseFloat(v.Latitude)
}

// Lon returns the longitude in degrees
func (v Vehicle) Lon() (float64, bool) {
	return parseFloat(v.Longitude)
}

// BearingDegrees returns the heading in degrees
func (v Vehicle) BearingDegrees() (float64, bool) {
	return parseFloat(v.Bearing)
}

// NextStopID returns nextLocID as a stop identifier
func (v Vehicle) NextStopID() (int, bool) {
	return parseInt(v.NextLocID)
}

// LastStopID returns lastLocID as a stop identifier
func (v Vehicle) LastStopID() (int, bool) {
	return parseInt(v.LastLocID)
}

// DelaySeconds returns the schedule deviation; positive means late
func (v Vehicle) DelaySeconds() (int, bool) {
	return parseInt(v.Delay)
}

// ExpiresAt returns the expiry of this position report
func (v Vehicle) ExpiresAt() (time.Time, bool) {
	return parseEpochMillis(v.Expires)
}

// ServiceDateAt returns the service date of the vehicle's trip
func (v Vehicle) ServiceDateAt() (time.Time, bool) {
	return parseEpochMillis(v.ServiceDate)
}

// ObservedAt returns when the position was recorded
func (v Vehicle) ObservedAt() (time.Time, bool) {
	return parseEpochMillis(v.Time)
}

// IsOffRoute reports the offRoute flag
func (v Vehicle) IsOffRoute() bool {
	b, _ := strconv.ParseBool(v.OffRoute)
	return b
}

// IsInCongestion reports the inCongestion flag
func (v Vehicle) IsInCongestion() bool {
	b, _ := strconv.ParseBool(v.InCongestion)
	return b
}

// IsRail reports whether the vehicle is a rail vehicle (MAX, streetcar, WES)
func (v Vehicle) IsRail() bool {
	return strings.EqualFold(v.Type, "rail")
}

// IsBus reports whether the vehicle is a bus
func (v Vehicle) IsBus() bool {
	return strings.EqualFold(v.Type, "bus")
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseInt(s string) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return i, true
}

// parseEpochMillis converts a millisecond Unix timestamp string to UTC
func parseEpochMillis(s string) (time.Time, bool) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
