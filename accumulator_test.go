package bag2mat

import (
	"errors"
	"strings"
	"testing"

	"github.com/lherman-cs/bag2mat/matfile"
	"github.com/lherman-cs/bag2mat/msgs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accumulate(t *testing.T, messages ...testMessage) (*Accumulator, int) {
	t.Helper()

	acc := NewAccumulator()
	var added int
	for _, m := range readMessages(t, messages) {
		if acc.Add(m) {
			added++
		}
	}
	return acc, added
}

func TestAccumulatorImu(t *testing.T) {
	acc, added := accumulate(t,
		imuMessage(1, msgs.Vector3{X: 0.1, Y: 0.2, Z: 0.3}, msgs.Vector3{X: 0.01, Y: 0.02, Z: 0.03}),
	)

	require.Equal(t, 1, added)
	require.Equal(t, 1, acc.Rows(Inertial))
	assert.Equal(t, []float64{1.0, 0.1, 0.2, 0.3, 0.01, 0.02, 0.03}, acc.Buffer(Inertial))

	for _, c := range []Category{PoseReference, Odometry, Fiducial} {
		assert.Zero(t, acc.Rows(c), c.String())
	}
}

func TestAccumulatorColumnOrder(t *testing.T) {
	pose := msgs.Pose{
		Position:    msgs.Point{X: 5, Y: 6, Z: 7},
		Orientation: msgs.Quaternion{X: 1, Y: 2, Z: 3, W: 4},
	}

	acc, added := accumulate(t,
		viconMessage(2, msgs.Quaternion{X: 1, Y: 2, Z: 3, W: 4}, msgs.Vector3{X: 5, Y: 6, Z: 7}),
		odomMessage(3, pose, msgs.Twist{
			Linear:  msgs.Vector3{X: 11, Y: 12, Z: 13},
			Angular: msgs.Vector3{X: 8, Y: 9, Z: 10},
		}),
		aprilMessage(4, detection(21, 0.16, pose)),
	)

	require.Equal(t, 3, added)
	assert.Equal(t, []float64{2, 1, 2, 3, 4, 5, 6, 7}, acc.Buffer(PoseReference))
	assert.Equal(t, []float64{3, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}, acc.Buffer(Odometry))
	assert.Equal(t, []float64{4, 21, 0.16, 1, 2, 3, 4, 5, 6, 7}, acc.Buffer(Fiducial))
}

func TestAccumulatorDetectionsShareTime(t *testing.T) {
	acc, _ := accumulate(t,
		aprilMessage(1.5,
			detection(1, 0.1, msgs.Pose{Position: msgs.Point{X: 1}}),
			detection(2, 0.2, msgs.Pose{Position: msgs.Point{X: 2}}),
			detection(3, 0.3, msgs.Pose{Position: msgs.Point{X: 3}}),
		),
		aprilMessage(2),
	)

	require.Equal(t, 3, acc.Rows(Fiducial))

	m, err := Reshape(Fiducial.Variable(), acc.Buffer(Fiducial), Fiducial.Width())
	require.NoError(t, err)
	for r := 0; r < m.Rows; r++ {
		row := m.Row(r)
		assert.Equal(t, 1.5, row[0])
		assert.Equal(t, float64(r+1), row[1])
		assert.Equal(t, float64(r+1), row[7])
	}
}

func TestAccumulatorChronologicalOrder(t *testing.T) {
	gyro := msgs.Vector3{}
	// recorded out of order, categories interleaved
	acc, added := accumulate(t,
		imuMessage(3, msgs.Vector3{X: 3}, gyro),
		viconMessage(2.5, msgs.Quaternion{W: 1}, msgs.Vector3{X: 25}),
		imuMessage(1, msgs.Vector3{X: 1}, gyro),
		viconMessage(0.5, msgs.Quaternion{W: 1}, msgs.Vector3{X: 5}),
		imuMessage(2, msgs.Vector3{X: 2}, gyro),
	)

	require.Equal(t, 5, added)

	imu, err := Reshape("data_imu", acc.Buffer(Inertial), Inertial.Width())
	require.NoError(t, err)
	for r, expected := range []float64{1, 2, 3} {
		assert.Equal(t, expected, imu.At(r, 0))
		assert.Equal(t, expected, imu.At(r, 1))
	}

	vicon, err := Reshape("data_vicon", acc.Buffer(PoseReference), PoseReference.Width())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0, 0, 0, 1, 5, 0, 0}, vicon.Row(0))
	assert.Equal(t, []float64{2.5, 0, 0, 0, 1, 25, 0, 0}, vicon.Row(1))
}

func TestAccumulatorSkipsNonMatching(t *testing.T) {
	good := imuMessage(1, msgs.Vector3{X: 1}, msgs.Vector3{})

	wrongType := good
	wrongType.topic = Odometry.Topic()

	unknownTopic := good
	unknownTopic.topic = "/camera/imu"

	truncated := good
	truncated.payload = []byte{1, 2, 3}

	acc, added := accumulate(t, good, wrongType, unknownTopic, truncated)

	assert.Equal(t, 1, added)
	assert.Equal(t, 1, acc.Rows(Inertial))
	assert.Zero(t, acc.Rows(Odometry))
}

func TestAccumulatorSkipsMismatchedDefinition(t *testing.T) {
	// the recorder's definition of the type lacks most of the fields of msgs.Imu
	headerOnly := testMessage{
		topic:      Inertial.Topic(),
		msgType:    msgs.ImuType,
		definition: "Header header\n" + strings.Repeat("=", 80) + "\nMSG: std_msgs/Header\nuint32 seq\ntime stamp\nstring frame_id\n",
		sec:        1,
		payload:    make([]byte, 16),
	}

	acc, added := accumulate(t, headerOnly)
	assert.Zero(t, added)
	assert.Zero(t, acc.Rows(Inertial))

	// the same topic and type with the full definition still decodes
	acc, added = accumulate(t, headerOnly, imuMessage(2, msgs.Vector3{X: 1}, msgs.Vector3{}))
	assert.Equal(t, 1, added)
	assert.Equal(t, []float64{2, 1, 0, 0, 0, 0, 0}, acc.Buffer(Inertial))
}

type recordingWriter struct {
	matrices []*matfile.Matrix
	failOn   string
}

var errDiskFull = errors.New("disk full")

func (w *recordingWriter) PutVariable(m *matfile.Matrix) error {
	if m.Name == w.failOn {
		return errDiskFull
	}
	w.matrices = append(w.matrices, m)
	return nil
}

func TestAccumulatorWrite(t *testing.T) {
	acc, _ := accumulate(t,
		imuMessage(1, msgs.Vector3{X: 0.1, Y: 0.2, Z: 0.3}, msgs.Vector3{X: 0.01, Y: 0.02, Z: 0.03}),
	)

	var w recordingWriter
	require.NoError(t, acc.Write(&w))
	require.Len(t, w.matrices, len(Categories))

	for i, c := range Categories {
		m := w.matrices[i]
		assert.Equal(t, c.Variable(), m.Name)
		assert.Equal(t, c.Width(), m.Cols)
		// buffers are released once written
		assert.Nil(t, acc.Buffer(c))
	}

	assert.Equal(t, 1, w.matrices[0].Rows)
	for _, m := range w.matrices[1:] {
		assert.Zero(t, m.Rows, m.Name)
		assert.Empty(t, m.Data, m.Name)
	}
}

func TestAccumulatorWriteFailure(t *testing.T) {
	acc := NewAccumulator()

	w := recordingWriter{failOn: Odometry.Variable()}
	err := acc.Write(&w)

	require.ErrorIs(t, err, ErrArrayWrite)
	require.ErrorIs(t, err, errDiskFull)
	assert.Contains(t, err.Error(), "data_odom")
	// matrices written before the failure stay written
	assert.Len(t, w.matrices, 2)
}

func TestCategory(t *testing.T) {
	widths := map[string]int{"data_imu": 7, "data_vicon": 8, "data_odom": 14, "data_april": 10}
	for _, c := range Categories {
		assert.Equal(t, widths[c.Variable()], c.Width(), c.String())

		found, ok := categoryOf(c.Topic())
		require.True(t, ok)
		assert.Equal(t, c, found)
	}

	_, ok := categoryOf("/tf")
	assert.False(t, ok)
	assert.Equal(t, "Category(9)", Category(9).String())
}
