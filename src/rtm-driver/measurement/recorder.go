package measurement

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

// DefaultDirectory for measurement files, relative to the working directory.
const DefaultDirectory = "measurements"

const timestampFormat = "2006-01-02_15-04-05"

var ErrNotRecording = errors.New("no measurement in progress")

// Sample is one row of a measurement file.
type Sample struct {
	X int `csv:"x" json:"x"`
	Y int `csv:"y" json:"y"`
	Z int `csv:"z" json:"z"`
}

// Recorder appends raster samples to a timestamped CSV file.
type Recorder struct {
	fs        afero.Fs
	clock     clockwork.Clock
	directory string

	mutex sync.Mutex
	path  string
	file  afero.File
	rows  int
}

func NewRecorder(fs afero.Fs, clock clockwork.Clock, directory string) *Recorder {
	if directory == "" {
		directory = DefaultDirectory
	}
	return &Recorder{
		fs:        fs,
		clock:     clock,
		directory: directory,
	}
}

// Start creates a new measurement file with a header row and returns its
// path. A running recording is finished first.
func (recorder *Recorder) Start() (string, error) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()

	if recorder.file != nil {
		recorder.file.Close()
		recorder.file = nil
	}

	if err := recorder.fs.MkdirAll(recorder.directory, 0o755); err != nil {
		return "", fmt.Errorf("could not create measurement directory: %w", err)
	}

	name := fmt.Sprintf("measurement_%s.csv", recorder.clock.Now().Format(timestampFormat))
	path := filepath.Join(recorder.directory, name)

	exists, err := afero.Exists(recorder.fs, path)
	if err != nil {
		return "", err
	}

	file, err := recorder.fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("could not open measurement file: %w", err)
	}

	if !exists {
		if err := gocsv.Marshal([]Sample{}, file); err != nil {
			file.Close()
			return "", fmt.Errorf("could not write measurement header: %w", err)
		}
	}

	recorder.path = path
	recorder.file = file
	recorder.rows = 0
	return path, nil
}

// Append writes one sample.
func (recorder *Recorder) Append(sample Sample) error {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()

	if recorder.file == nil {
		return ErrNotRecording
	}
	if err := gocsv.MarshalWithoutHeaders([]Sample{sample}, recorder.file); err != nil {
		return fmt.Errorf("could not write sample: %w", err)
	}
	recorder.rows++
	return nil
}

// Finish closes the measurement file. It returns the number of rows written.
func (recorder *Recorder) Finish() (int, error) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()

	if recorder.file == nil {
		return 0, ErrNotRecording
	}
	err := recorder.file.Close()
	recorder.file = nil
	return recorder.rows, err
}

// Path of the current or last measurement file.
func (recorder *Recorder) Path() string {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.path
}

// Recording reports whether a file is open.
func (recorder *Recorder) Recording() bool {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.file != nil
}
