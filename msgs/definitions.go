package msgs

import (
	"fmt"
	"strings"

	"github.com/lherman-cs/bag2mat/rosbag"
)

const (
	ImuType                    = "sensor_msgs/Imu"
	TransformStampedType       = "geometry_msgs/TransformStamped"
	OdometryType               = "nav_msgs/Odometry"
	AprilTagDetectionArrayType = "apriltags_ros/AprilTagDetectionArray"
)

const definitionSeparator = "================================================================================"

const (
	headerMsg = `uint32 seq
time stamp
string frame_id`

	vector3Msg = `float64 x
float64 y
float64 z`

	pointMsg = `float64 x
float64 y
float64 z`

	quaternionMsg = `float64 x
float64 y
float64 z
float64 w`

	poseMsg = `Point position
Quaternion orientation`

	poseStampedMsg = `Header header
Pose pose`

	poseWithCovarianceMsg = `Pose pose
float64[36] covariance`

	twistMsg = `Vector3  linear
Vector3  angular`

	twistWithCovarianceMsg = `Twist twist
float64[36] covariance`

	transformMsg = `Vector3 translation
Quaternion rotation`

	imuMsg = `Header header
geometry_msgs/Quaternion orientation
float64[9] orientation_covariance # Row major about x, y, z axes
geometry_msgs/Vector3 angular_velocity
float64[9] angular_velocity_covariance # Row major about x, y, z axes
geometry_msgs/Vector3 linear_acceleration
float64[9] linear_acceleration_covariance # Row major x, y z`

	transformStampedMsg = `Header header
string child_frame_id # the frame id of the child frame
Transform transform`

	odometryMsg = `Header header
string child_frame_id
geometry_msgs/PoseWithCovariance pose
geometry_msgs/TwistWithCovariance twist`

	aprilTagDetectionArrayMsg = `AprilTagDetection[] detections`

	aprilTagDetectionMsg = `int32 id
float64 size
geometry_msgs/PoseStamped pose`
)

type section struct {
	msgType string
	text    string
}

func definition(main string, deps ...section) string {
	var sb strings.Builder
	sb.WriteString(main)
	sb.WriteString("\n")
	for _, dep := range deps {
		fmt.Fprintf(&sb, "%s\nMSG: %s\n%s\n", definitionSeparator, dep.msgType, dep.text)
	}
	return sb.String()
}

// Definitions maps each supported type to its full definition, dependencies
// included, in the layout rosbag record stores in connection headers.
var Definitions = map[string]string{
	ImuType: definition(imuMsg,
		section{"std_msgs/Header", headerMsg},
		section{"geometry_msgs/Quaternion", quaternionMsg},
		section{"geometry_msgs/Vector3", vector3Msg},
	),
	TransformStampedType: definition(transformStampedMsg,
		section{"std_msgs/Header", headerMsg},
		section{"geometry_msgs/Transform", transformMsg},
		section{"geometry_msgs/Vector3", vector3Msg},
		section{"geometry_msgs/Quaternion", quaternionMsg},
	),
	OdometryType: definition(odometryMsg,
		section{"std_msgs/Header", headerMsg},
		section{"geometry_msgs/PoseWithCovariance", poseWithCovarianceMsg},
		section{"geometry_msgs/Pose", poseMsg},
		section{"geometry_msgs/Point", pointMsg},
		section{"geometry_msgs/Quaternion", quaternionMsg},
		section{"geometry_msgs/TwistWithCovariance", twistWithCovarianceMsg},
		section{"geometry_msgs/Twist", twistMsg},
		section{"geometry_msgs/Vector3", vector3Msg},
	),
	AprilTagDetectionArrayType: definition(aprilTagDetectionArrayMsg,
		section{"apriltags_ros/AprilTagDetection", aprilTagDetectionMsg},
		section{"geometry_msgs/PoseStamped", poseStampedMsg},
		section{"std_msgs/Header", headerMsg},
		section{"geometry_msgs/Pose", poseMsg},
		section{"geometry_msgs/Point", pointMsg},
		section{"geometry_msgs/Quaternion", quaternionMsg},
	),
}

// NewConnectionHeader returns the connection header of msgType published on topic.
func NewConnectionHeader(topic, msgType string) (*rosbag.ConnectionHeader, error) {
	text, ok := Definitions[msgType]
	if !ok {
		return nil, fmt.Errorf("unknown message type %s", msgType)
	}

	def, err := rosbag.ParseMessageDefinition(msgType, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", msgType, err)
	}

	return &rosbag.ConnectionHeader{
		Topic:             topic,
		Type:              msgType,
		MD5Sum:            "*",
		Definition:        text,
		MessageDefinition: *def,
	}, nil
}

// Marshal serializes v as msgType.
func Marshal(msgType string, v interface{}) ([]byte, error) {
	hdr, err := NewConnectionHeader("", msgType)
	if err != nil {
		return nil, err
	}
	return rosbag.Marshal(&hdr.MessageDefinition, v)
}
