package event

import "time"

// Library identity merged into every track event through the public properties.
const (
	LibName    = "tinyevents_go"
	LibVersion = "1.0.0"
)

// Type is the record kind understood by the receiver
type Type string

const (
	Track          Type = "track"
	TrackFirst     Type = "track_first"
	TrackUpdate    Type = "track_update"
	TrackOverwrite Type = "track_overwrite"
	UserSet        Type = "user_set"
	UserSetOnce    Type = "user_setOnce"
	UserAdd        Type = "user_add"
	UserAppend     Type = "user_append"
	UserUniqAppend Type = "user_uniq_append"
	UserUnset      Type = "user_unset"
	UserDel        Type = "user_del"
)

// IsTrack reports whether t belongs to the track family. Track events carry
// an event name and receive the public properties.
func (t Type) IsTrack() bool {
	switch t {
	case Track, TrackFirst, TrackUpdate, TrackOverwrite:
		return true
	}
	return false
}

// NeedsEventID reports whether t requires an event id from the caller.
func (t Type) NeedsEventID() bool {
	switch t {
	case TrackFirst, TrackUpdate, TrackOverwrite:
		return true
	}
	return false
}

// Valid reports whether t is a known record type.
func (t Type) Valid() bool {
	switch t {
	case Track, TrackFirst, TrackUpdate, TrackOverwrite,
		UserSet, UserSetOnce, UserAdd, UserAppend, UserUniqAppend, UserUnset, UserDel:
		return true
	}
	return false
}

// Properties maps property keys to values. Supported values are numbers,
// strings, time.Time, booleans, lists of those and nested maps.
type Properties map[string]any

// Clone returns a shallow copy of p. A nil p yields an empty map.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Reserved property keys promoted to top-level record fields.
const (
	KeyUUID         = "#uuid"
	KeyIP           = "#ip"
	KeyAppID        = "#app_id"
	KeyFirstCheckID = "#first_check_id"
	KeyTime         = "#time"
	KeyLib          = "#lib"
	KeyLibVersion   = "#lib_version"
)

// Record is one event or user-property mutation ready for delivery.
// A Record must not be modified after it has been handed to a consumer.
type Record struct {
	AccountID    string
	DistinctID   string
	Type         Type
	EventName    string
	EventID      string
	FirstCheckID string
	Time         time.Time
	UUID         string
	IP           string
	AppID        string
	Properties   Properties
}
