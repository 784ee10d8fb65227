// Package msgs holds the ROS message types bag2mat extracts, with the rosbag tags
// the decoder matches against the message definitions stored in a bag.
package msgs

import (
	"time"
)

type Header struct {
	Seq     uint32    `rosbag:"seq"`
	Stamp   time.Time `rosbag:"stamp"`
	FrameID string    `rosbag:"frame_id"`
}

type Vector3 struct {
	X float64 `rosbag:"x"`
	Y float64 `rosbag:"y"`
	Z float64 `rosbag:"z"`
}

type Point struct {
	X float64 `rosbag:"x"`
	Y float64 `rosbag:"y"`
	Z float64 `rosbag:"z"`
}

type Quaternion struct {
	X float64 `rosbag:"x"`
	Y float64 `rosbag:"y"`
	Z float64 `rosbag:"z"`
	W float64 `rosbag:"w"`
}

type Pose struct {
	Position    Point      `rosbag:"position"`
	Orientation Quaternion `rosbag:"orientation"`
}

type PoseStamped struct {
	Header Header `rosbag:"header"`
	Pose   Pose   `rosbag:"pose"`
}

// PoseWithCovariance carries a row-major 6x6 covariance.
type PoseWithCovariance struct {
	Pose       Pose      `rosbag:"pose"`
	Covariance []float64 `rosbag:"covariance"`
}

type Twist struct {
	Linear  Vector3 `rosbag:"linear"`
	Angular Vector3 `rosbag:"angular"`
}

type TwistWithCovariance struct {
	Twist      Twist     `rosbag:"twist"`
	Covariance []float64 `rosbag:"covariance"`
}

type Transform struct {
	Translation Vector3    `rosbag:"translation"`
	Rotation    Quaternion `rosbag:"rotation"`
}

// Imu is sensor_msgs/Imu.
type Imu struct {
	Header                       Header     `rosbag:"header"`
	Orientation                  Quaternion `rosbag:"orientation"`
	OrientationCovariance        []float64  `rosbag:"orientation_covariance"`
	AngularVelocity              Vector3    `rosbag:"angular_velocity"`
	AngularVelocityCovariance    []float64  `rosbag:"angular_velocity_covariance"`
	LinearAcceleration           Vector3    `rosbag:"linear_acceleration"`
	LinearAccelerationCovariance []float64  `rosbag:"linear_acceleration_covariance"`
}

// TransformStamped is geometry_msgs/TransformStamped.
type TransformStamped struct {
	Header       Header    `rosbag:"header"`
	ChildFrameID string    `rosbag:"child_frame_id"`
	Transform    Transform `rosbag:"transform"`
}

// Odometry is nav_msgs/Odometry.
type Odometry struct {
	Header       Header              `rosbag:"header"`
	ChildFrameID string              `rosbag:"child_frame_id"`
	Pose         PoseWithCovariance  `rosbag:"pose"`
	Twist        TwistWithCovariance `rosbag:"twist"`
}

// AprilTagDetection is apriltags_ros/AprilTagDetection.
type AprilTagDetection struct {
	ID   int32       `rosbag:"id"`
	Size float64     `rosbag:"size"`
	Pose PoseStamped `rosbag:"pose"`
}

// AprilTagDetectionArray is apriltags_ros/AprilTagDetectionArray.
type AprilTagDetectionArray struct {
	Detections []AprilTagDetection `rosbag:"detections"`
}
