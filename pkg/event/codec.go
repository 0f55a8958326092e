package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// TimeLayout is the wire representation of every timestamp.
const TimeLayout = "2006-01-02 15:04:05.000"

const timeLayoutSeconds = "2006-01-02 15:04:05"

type wireRecord struct {
	AccountID    string         `json:"#account_id,omitempty"`
	DistinctID   string         `json:"#distinct_id,omitempty"`
	Type         Type           `json:"#type"`
	EventName    string         `json:"#event_name,omitempty"`
	EventID      string         `json:"#event_id,omitempty"`
	FirstCheckID string         `json:"#first_check_id,omitempty"`
	Time         string         `json:"#time"`
	UUID         string         `json:"#uuid,omitempty"`
	IP           string         `json:"#ip,omitempty"`
	AppID        string         `json:"#app_id,omitempty"`
	Properties   map[string]any `json:"properties"`
}

// MarshalJSON encodes r in the receiver's wire schema.
func (r Record) MarshalJSON() ([]byte, error) {
	props := make(map[string]any, len(r.Properties))
	for k, v := range r.Properties {
		props[k] = normalize(v)
	}
	return json.Marshal(wireRecord{
		AccountID:    r.AccountID,
		DistinctID:   r.DistinctID,
		Type:         r.Type,
		EventName:    r.EventName,
		EventID:      r.EventID,
		FirstCheckID: r.FirstCheckID,
		Time:         formatTime(r.Time),
		UUID:         r.UUID,
		IP:           r.IP,
		AppID:        r.AppID,
		Properties:   props,
	})
}

// UnmarshalJSON decodes the wire schema. Numbers are kept as json.Number so
// integers and floats survive unchanged.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}

	t, err := time.ParseInLocation(TimeLayout, w.Time, time.Local)
	if err != nil {
		return fmt.Errorf("parse #time: %w", err)
	}

	*r = Record{
		AccountID:    w.AccountID,
		DistinctID:   w.DistinctID,
		Type:         w.Type,
		EventName:    w.EventName,
		EventID:      w.EventID,
		FirstCheckID: w.FirstCheckID,
		Time:         t,
		UUID:         w.UUID,
		IP:           w.IP,
		AppID:        w.AppID,
		Properties:   Properties(w.Properties),
	}
	if r.Properties == nil {
		r.Properties = Properties{}
	}
	return nil
}

// Encode serializes one record.
func Encode(r *Record) ([]byte, error) {
	return json.Marshal(r)
}

// EncodeBatch serializes records as one ordered JSON array.
func EncodeBatch(records []*Record) ([]byte, error) {
	return json.Marshal(records)
}

// Decode parses one serialized record.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// formatTime renders t in local time, the zone the receiver reads it in.
func formatTime(t time.Time) string {
	return t.Local().Format(TimeLayout)
}

// normalize rewrites timestamps nested anywhere in v into the wire layout.
func normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return formatTime(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return formatTime(*val)
	case Properties:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case string, bool, json.Number, json.Marshaler:
		return v
	}
	if IsNumber(v) {
		return v
	}
	return normalizeValue(reflect.ValueOf(v), v)
}

// normalizeValue walks typed lists and string-keyed maps.
func normalizeValue(rv reflect.Value, v any) any {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() || rv.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.IsNil() || rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = normalize(iter.Value().Interface())
		}
		return out
	}
	return v
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, item := range m {
		out[k] = normalize(item)
	}
	return out
}
