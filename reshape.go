package bag2mat

import (
	"fmt"

	"github.com/lherman-cs/bag2mat/matfile"
)

// Reshape turns buf, rows of width values laid one after another, into a
// column-major matrix named name. An empty buf gives a 0 x width matrix.
func Reshape(name string, buf []float64, width int) (*matfile.Matrix, error) {
	if width <= 0 || len(buf)%width != 0 {
		return nil, fmt.Errorf("%w: %d values don't make rows of %d", ErrShape, len(buf), width)
	}

	rows := len(buf) / width
	m, err := matfile.NewMatrix(name, rows, width)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShape, err)
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < width; c++ {
			m.Data[r+c*rows] = buf[r*width+c]
		}
	}
	return m, nil
}
