package sink

import (
	"bufio"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sergev/snap/acquisition"
)

// Format is the layout of a capture file
type Format int

const (
	FormatUnknown Format = iota
	FormatBinary         // raw logic rows, or little-endian float32 voltages
	FormatCSV            // one line per sample
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "BIN"
	case FormatCSV:
		return "CSV"
	default:
		return "Unknown"
	}
}

// DetectFormat picks the format from the file extension, case-insensitively
func DetectFormat(filename string) Format {
	ext := filepath.Ext(filename)
	if ext == "" {
		return FormatUnknown
	}
	switch strings.ToLower(ext[1:]) {
	case "bin", "raw":
		return FormatBinary
	case "csv":
		return FormatCSV
	default:
		return FormatUnknown
	}
}

// File writes a capture to disk
type File struct {
	name   string
	format Format
	file   *os.File
	w      *bufio.Writer
	csv    *csv.Writer
	header acquisition.Header
	index  uint64
}

// NewFile checks the extension; the file is created when the stream begins
func NewFile(filename string) (*File, error) {
	format := DetectFormat(filename)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unknown capture format for %s: use .bin or .csv", filename)
	}
	return &File{name: filename, format: format}, nil
}

// Name returns the file path
func (f *File) Name() string {
	return f.name
}

func (f *File) BeginStream(h acquisition.Header) error {
	file, err := os.Create(f.name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", f.name, err)
	}
	f.file = file
	f.w = bufio.NewWriter(file)
	f.header = h
	f.index = 0

	if f.format != FormatCSV {
		return nil
	}
	f.csv = csv.NewWriter(f.w)
	row := []string{"sample"}
	if h.Mode == acquisition.Oscilloscope {
		name := "voltage"
		if len(h.Channels) > 0 {
			name = h.Channels[0].Name
		}
		row = append(row, "time", name)
	} else {
		for _, ch := range h.Channels {
			row = append(row, ch.Name)
		}
	}
	return f.csv.Write(row)
}

func (f *File) DeliverLogic(data []byte, unitSize int) error {
	if f.format == FormatBinary {
		_, err := f.w.Write(data)
		f.index += uint64(len(data))
		return err
	}
	row := make([]string, 1+len(f.header.Channels))
	for _, b := range data {
		row[0] = strconv.FormatUint(f.index, 10)
		for i, ch := range f.header.Channels {
			row[i+1] = strconv.Itoa(int(b>>uint(ch.Index)) & 1)
		}
		if err := f.csv.Write(row); err != nil {
			return err
		}
		f.index++
	}
	return nil
}

func (f *File) DeliverAnalog(samples []float32, channel string) error {
	if f.format == FormatBinary {
		var buf [4]byte
		for _, v := range samples {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			if _, err := f.w.Write(buf[:]); err != nil {
				return err
			}
		}
		f.index += uint64(len(samples))
		return nil
	}
	period := 0.0
	if f.header.SampleRate > 0 {
		period = 1 / float64(f.header.SampleRate)
	}
	row := make([]string, 3)
	for _, v := range samples {
		row[0] = strconv.FormatUint(f.index, 10)
		row[1] = strconv.FormatFloat(float64(f.index)*period, 'g', 9, 64)
		row[2] = strconv.FormatFloat(float64(v), 'f', 4, 32)
		if err := f.csv.Write(row); err != nil {
			return err
		}
		f.index++
	}
	return nil
}

func (f *File) EndOfStream() error {
	if f.file == nil {
		return nil
	}
	file := f.file
	f.file = nil

	var err error
	if f.csv != nil {
		f.csv.Flush()
		err = f.csv.Error()
	}
	if err == nil {
		err = f.w.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", f.name, err)
	}
	return nil
}
