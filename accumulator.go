package bag2mat

import (
	"fmt"
	"log"

	"github.com/lherman-cs/bag2mat/matfile"
	"github.com/lherman-cs/bag2mat/msgs"
	"github.com/lherman-cs/bag2mat/rosbag"
)

// VariableWriter stores named matrices. *matfile.Writer implements it.
type VariableWriter interface {
	PutVariable(m *matfile.Matrix) error
}

// Accumulator collects the samples of every category as flat row-major buffers.
type Accumulator struct {
	buffers [numCategories][]float64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Rows returns the number of samples collected for c.
func (acc *Accumulator) Rows(c Category) int {
	return len(acc.buffers[c]) / c.Width()
}

// Buffer returns the row-major samples collected for c.
func (acc *Accumulator) Buffer(c Category) []float64 {
	return acc.buffers[c]
}

// Add appends the samples carried by m. It reports false when m belongs to no
// category: unknown topic, unexpected type, or a payload that doesn't decode.
func (acc *Accumulator) Add(m *rosbag.RecordMessageData) bool {
	payload, ok := decodePayload(m)
	if !ok {
		return false
	}

	t := rosbag.ToSec(m.Time)
	switch p := payload.(type) {
	case *msgs.Imu:
		acc.buffers[Inertial] = append(acc.buffers[Inertial], t,
			p.LinearAcceleration.X, p.LinearAcceleration.Y, p.LinearAcceleration.Z,
			p.AngularVelocity.X, p.AngularVelocity.Y, p.AngularVelocity.Z,
		)
	case *msgs.TransformStamped:
		rotation, translation := p.Transform.Rotation, p.Transform.Translation
		acc.buffers[PoseReference] = append(acc.buffers[PoseReference], t,
			rotation.X, rotation.Y, rotation.Z, rotation.W,
			translation.X, translation.Y, translation.Z,
		)
	case *msgs.Odometry:
		pose, twist := p.Pose.Pose, p.Twist.Twist
		acc.buffers[Odometry] = append(acc.buffers[Odometry], t,
			pose.Orientation.X, pose.Orientation.Y, pose.Orientation.Z, pose.Orientation.W,
			pose.Position.X, pose.Position.Y, pose.Position.Z,
			twist.Angular.X, twist.Angular.Y, twist.Angular.Z,
			twist.Linear.X, twist.Linear.Y, twist.Linear.Z,
		)
	case *msgs.AprilTagDetectionArray:
		// every detection of the array shares the record time
		for _, tag := range p.Detections {
			pose := tag.Pose.Pose
			acc.buffers[Fiducial] = append(acc.buffers[Fiducial], t,
				float64(tag.ID), tag.Size,
				pose.Orientation.X, pose.Orientation.Y, pose.Orientation.Z, pose.Orientation.W,
				pose.Position.X, pose.Position.Y, pose.Position.Z,
			)
		}
	default:
		return false
	}

	return true
}

func decodePayload(m *rosbag.RecordMessageData) (interface{}, bool) {
	c, ok := categoryOf(m.Topic())
	if !ok || m.Type() != c.Type() {
		return nil, false
	}

	var payload interface{}
	switch c {
	case Inertial:
		payload = &msgs.Imu{}
	case PoseReference:
		payload = &msgs.TransformStamped{}
	case Odometry:
		payload = &msgs.Odometry{}
	case Fiducial:
		payload = &msgs.AprilTagDetectionArray{}
	}

	if err := m.UnmarshallTo(payload); err != nil {
		return nil, false
	}
	return payload, true
}

// Write stores one matrix per category into w, in the order of Categories.
// Each buffer is released once its matrix is written.
func (acc *Accumulator) Write(w VariableWriter) error {
	for _, c := range Categories {
		rows := acc.Rows(c)
		if err := acc.writeCategory(w, c); err != nil {
			return err
		}
		log.Printf("Done processing %s data (%d rows)", c, rows)
	}
	return nil
}

func (acc *Accumulator) writeCategory(w VariableWriter, c Category) error {
	m, err := Reshape(c.Variable(), acc.buffers[c], c.Width())
	if err != nil {
		return fmt.Errorf("%s data: %w", c, err)
	}

	if err := w.PutVariable(m); err != nil {
		return fmt.Errorf("%w %s for %s data: %w", ErrArrayWrite, c.Variable(), c, err)
	}

	acc.buffers[c] = nil
	return nil
}
