package bag2mat

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/lherman-cs/bag2mat/msgs"
	"github.com/lherman-cs/bag2mat/rosbag"
	"github.com/stretchr/testify/require"
)

// testMessage is a message to record in a test bag. Payload is serialized as
// msgType, unless it is a []byte which is written as is. A non-empty definition
// replaces the one registered for msgType in the connection header.
type testMessage struct {
	topic      string
	msgType    string
	definition string
	sec        float64
	payload    interface{}
}

func at(sec float64) time.Time {
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9+0.5))
}

func encodeBag(t *testing.T, messages []testMessage) []byte {
	t.Helper()

	var buf bytes.Buffer
	encoder := rosbag.NewEncoder(&buf)
	require.NoError(t, encoder.BeginChunk(rosbag.CompressionLZ4))

	conns := make(map[[3]string]uint32)
	for _, msg := range messages {
		key := [3]string{msg.topic, msg.msgType, msg.definition}
		conn, ok := conns[key]
		if !ok {
			conn = uint32(len(conns))
			conns[key] = conn

			hdr := &rosbag.ConnectionHeader{
				Topic:      msg.topic,
				Type:       msg.msgType,
				MD5Sum:     "*",
				Definition: msg.definition,
			}
			if msg.definition == "" {
				var err error
				hdr, err = msgs.NewConnectionHeader(msg.topic, msg.msgType)
				require.NoError(t, err)
			}
			require.NoError(t, encoder.WriteConnection(conn, hdr))
		}

		data, ok := msg.payload.([]byte)
		if !ok {
			var err error
			data, err = msgs.Marshal(msg.msgType, msg.payload)
			require.NoError(t, err)
		}
		require.NoError(t, encoder.WriteMessage(conn, at(msg.sec), data))
	}

	require.NoError(t, encoder.Close())
	return buf.Bytes()
}

func writeBag(t *testing.T, path string, messages []testMessage) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, encodeBag(t, messages), 0o644))
}

func readMessages(t *testing.T, messages []testMessage) []*rosbag.RecordMessageData {
	t.Helper()

	bag, err := rosbag.ReadBag(bytes.NewReader(encodeBag(t, messages)))
	require.NoError(t, err)
	return bag.Messages
}

func imuMessage(sec float64, accel, gyro msgs.Vector3) testMessage {
	return testMessage{
		topic:   Inertial.Topic(),
		msgType: msgs.ImuType,
		sec:     sec,
		payload: &msgs.Imu{
			Orientation:        msgs.Quaternion{W: 1},
			LinearAcceleration: accel,
			AngularVelocity:    gyro,
		},
	}
}

func viconMessage(sec float64, rotation msgs.Quaternion, translation msgs.Vector3) testMessage {
	return testMessage{
		topic:   PoseReference.Topic(),
		msgType: msgs.TransformStampedType,
		sec:     sec,
		payload: &msgs.TransformStamped{
			ChildFrameID: "turtlebot",
			Transform: msgs.Transform{
				Translation: translation,
				Rotation:    rotation,
			},
		},
	}
}

func odomMessage(sec float64, pose msgs.Pose, twist msgs.Twist) testMessage {
	return testMessage{
		topic:   Odometry.Topic(),
		msgType: msgs.OdometryType,
		sec:     sec,
		payload: &msgs.Odometry{
			Pose:  msgs.PoseWithCovariance{Pose: pose},
			Twist: msgs.TwistWithCovariance{Twist: twist},
		},
	}
}

func aprilMessage(sec float64, detections ...msgs.AprilTagDetection) testMessage {
	return testMessage{
		topic:   Fiducial.Topic(),
		msgType: msgs.AprilTagDetectionArrayType,
		sec:     sec,
		payload: &msgs.AprilTagDetectionArray{Detections: detections},
	}
}

func detection(id int32, size float64, pose msgs.Pose) msgs.AprilTagDetection {
	return msgs.AprilTagDetection{
		ID:   id,
		Size: size,
		Pose: msgs.PoseStamped{Pose: pose},
	}
}
