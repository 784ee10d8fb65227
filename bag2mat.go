// Package bag2mat extracts IMU, Vicon, odometry and AprilTag messages from a ROS
// bag into the data_imu, data_vicon, data_odom and data_april matrices of a
// MAT-file, one row per sample, time first.
package bag2mat

import (
	"errors"
	"fmt"

	"github.com/lherman-cs/bag2mat/msgs"
)

var (
	ErrUsage        = errors.New("usage error")
	ErrLogOpen      = errors.New("could not read the rosbag")
	ErrOutputCreate = errors.New("could not create the mat file")
	ErrShape        = errors.New("unable to create matrix")
	ErrArrayWrite   = errors.New("could not write matrix")
	ErrOutputClose  = errors.New("could not close the mat file")
)

// Category is a kind of sample extracted into its own matrix.
type Category int

const (
	Inertial Category = iota
	PoseReference
	Odometry
	Fiducial

	numCategories
)

// Categories lists every category in the order matrices are written.
var Categories = []Category{Inertial, PoseReference, Odometry, Fiducial}

var categoryInfo = [numCategories]struct {
	label    string
	variable string
	topic    string
	msgType  string
	width    int
}{
	Inertial:      {"IMU", "data_imu", "/mobile_base/sensors/imu_data_raw", msgs.ImuType, 7},
	PoseReference: {"VICON", "data_vicon", "/vicon/turtlebot/body", msgs.TransformStampedType, 8},
	Odometry:      {"ODOM", "data_odom", "/odom", msgs.OdometryType, 14},
	Fiducial:      {"APRILTAG", "data_april", "/tag_detections", msgs.AprilTagDetectionArrayType, 10},
}

func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryInfo[c].label
}

// Variable is the name of the category matrix in the MAT-file.
func (c Category) Variable() string { return categoryInfo[c].variable }

// Topic is the only topic the category is read from.
func (c Category) Topic() string { return categoryInfo[c].topic }

// Type is the message type expected on Topic.
func (c Category) Type() string { return categoryInfo[c].msgType }

// Width is the number of columns of the category matrix.
func (c Category) Width() int { return categoryInfo[c].width }

func categoryOf(topic string) (Category, bool) {
	for _, c := range Categories {
		if c.Topic() == topic {
			return c, true
		}
	}
	return 0, false
}
