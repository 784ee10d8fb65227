package bag2mat

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/lherman-cs/bag2mat/matfile"
	"github.com/lherman-cs/bag2mat/rosbag"
)

const matExt = ".mat"

type matWriter interface {
	VariableWriter
	Close() error
}

var createMat = func(path string, opts ...matfile.Option) (matWriter, error) {
	return matfile.Create(path, opts...)
}

// OutputPath returns the MAT-file path for a bag: same directory and base name,
// extension replaced by .mat.
func OutputPath(bagPath string) string {
	dir, file := filepath.Split(bagPath)
	return dir + strings.TrimSuffix(file, filepath.Ext(file)) + matExt
}

// Run converts the bag at bagPath into the MAT-file given by OutputPath and
// returns that path. On failure no output file is left behind.
func Run(bagPath string, opts ...matfile.Option) (_ string, err error) {
	matPath := OutputPath(bagPath)

	log.Printf("BAG path is: %s", bagPath)
	log.Printf("MAT path is: %s", matPath)
	log.Print("Reading in rosbag file...")

	bag, err := rosbag.OpenBag(bagPath)
	if err != nil {
		return "", fmt.Errorf("%w %s: %w", ErrLogOpen, bagPath, err)
	}
	for _, hdr := range bag.Connections {
		if derr := hdr.DefinitionErr(); derr != nil {
			log.Printf("Skipping messages on %s: %v", hdr.Topic, derr)
		}
	}

	w, err := createMat(matPath, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrOutputCreate, err)
	}
	defer func() {
		if err == nil {
			return
		}
		// the writer may already be closed, the partial file goes either way
		_ = w.Close()
		if rerr := os.Remove(matPath); rerr != nil && !os.IsNotExist(rerr) {
			log.Printf("could not remove %s: %v", matPath, rerr)
		}
	}()

	acc := NewAccumulator()
	var extracted int
	for _, m := range bag.Messages {
		if acc.Add(m) {
			extracted++
		}
	}
	log.Printf("Done processing bag (%d of %d messages extracted)", extracted, len(bag.Messages))

	if err := acc.Write(w); err != nil {
		return "", err
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrOutputClose, err)
	}
	return matPath, nil
}
