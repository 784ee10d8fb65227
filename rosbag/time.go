package rosbag

import (
	"time"
)

// extractTime decodes a ROS time: uint32 seconds followed by uint32 nanoseconds.
func extractTime(raw []byte) time.Time {
	sec := endian.Uint32(raw)
	nsec := endian.Uint32(raw[4:])
	return time.Unix(int64(sec), int64(nsec))
}

// extractDuration decodes a ROS duration: int32 seconds followed by int32 nanoseconds.
func extractDuration(raw []byte) time.Duration {
	sec := int32(endian.Uint32(raw))
	nsec := int32(endian.Uint32(raw[4:]))
	return time.Duration(sec)*time.Second + time.Duration(nsec)
}

// appendTime encodes a ROS time. The zero Time is written as ROS time 0.
func appendTime(b []byte, t time.Time) []byte {
	if t.IsZero() {
		return append(b, make([]byte, 8)...)
	}
	b = endian.AppendUint32(b, uint32(t.Unix()))
	return endian.AppendUint32(b, uint32(t.Nanosecond()))
}

func appendDuration(b []byte, d time.Duration) []byte {
	sec := d / time.Second
	nsec := d % time.Second
	b = endian.AppendUint32(b, uint32(int32(sec)))
	return endian.AppendUint32(b, uint32(int32(nsec)))
}

// ToSec returns t as fractional seconds since the epoch, the way ros::Time::toSec does.
func ToSec(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())*1e-9
}
