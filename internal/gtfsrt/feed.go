// Package gtfsrt renders the current vehicle collection as a GTFS-Realtime
// VehiclePositions feed.
package gtfsrt

import (
	"fmt"
	"strconv"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/trimet-twin/pipeline/internal/fleet"
	"github.com/trimet-twin/pipeline/internal/models"
)

const gtfsRealtimeVersion = "2.0"

// Build converts a collection into a full-dataset FeedMessage with one
// entity per vehicle. The header timestamp is the feed's queryTime, or the
// collection's replace time when queryTime is unusable.
func Build(c fleet.Collection) *gtfs.FeedMessage {
	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(headerTimestamp(c)),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(c.Vehicles)),
	}

	seen := make(map[string]struct{}, len(c.Vehicles))
	for i, v := range c.Vehicles {
		id := entityID(v.VehicleID, i, seen)
		msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
			Id:      proto.String(id),
			Vehicle: vehiclePosition(v),
		})
	}
	return msg
}

// entityID returns a non-empty id not yet in seen. Empty vehicle ids become
// idx-<i>; a repeated id gets #<i> appended.
func entityID(vehicleID string, i int, seen map[string]struct{}) string {
	id := vehicleID
	if id == "" {
		id = "idx-" + strconv.Itoa(i)
	}
	for {
		if _, dup := seen[id]; !dup {
			break
		}
		id += "#" + strconv.Itoa(i)
	}
	seen[id] = struct{}{}
	return id
}

// Marshal builds and encodes the feed
func Marshal(c fleet.Collection) ([]byte, error) {
	data, err := proto.Marshal(Build(c))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed: %w", err)
	}
	return data, nil
}

func vehiclePosition(v models.Vehicle) *gtfs.VehiclePosition {
	vp := &gtfs.VehiclePosition{}

	if v.VehicleID != "" {
		vp.Vehicle = &gtfs.VehicleDescriptor{
			Id:    proto.String(v.VehicleID),
			Label: nonEmpty(v.SignMessage),
		}
	}

	if v.TripID != "" || v.RouteNumber != "" {
		vp.Trip = &gtfs.TripDescriptor{
			TripId:  nonEmpty(v.TripID),
			RouteId: nonEmpty(v.RouteNumber),
		}
		if dir, err := strconv.ParseUint(v.Direction, 10, 32); err == nil {
			vp.Trip.DirectionId = proto.Uint32(uint32(dir))
		}
	}

	lat, latOK := v.Lat()
	lon, lonOK := v.Lon()
	if latOK && lonOK {
		vp.Position = &gtfs.Position{
			Latitude:  proto.Float32(float32(lat)),
			Longitude: proto.Float32(float32(lon)),
		}
		if b, ok := v.BearingDegrees(); ok {
			vp.Position.Bearing = proto.Float32(float32(b))
		}
	}

	if seq, err := strconv.ParseUint(v.NextStopSeq, 10, 32); err == nil {
		vp.CurrentStopSequence = proto.Uint32(uint32(seq))
	}
	if stop, ok := v.NextStopID(); ok {
		vp.StopId = proto.String(strconv.Itoa(stop))
		vp.CurrentStatus = gtfs.VehiclePosition_IN_TRANSIT_TO.Enum()
	}
	if t, ok := v.ObservedAt(); ok {
		vp.Timestamp = proto.Uint64(uint64(t.Unix()))
	}
	if v.IsInCongestion() {
		vp.CongestionLevel = gtfs.VehiclePosition_CONGESTION.Enum()
	}
	return vp
}

func headerTimestamp(c fleet.Collection) uint64 {
	if ms, err := strconv.ParseInt(c.QueryTime, 10, 64); err == nil && ms > 0 {
		return uint64(time.UnixMilli(ms).Unix())
	}
	if !c.ReplacedAt.IsZero() {
		return uint64(c.ReplacedAt.Unix())
	}
	return uint64(time.Now().Unix())
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}
