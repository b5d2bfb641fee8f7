package host

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FileADC reads one integer conversion from a file, e.g. an IIO
// in_voltage0_raw node under /sys/bus/iio/devices.
type FileADC struct {
	Path string
}

func (a FileADC) Read() (int, error) {
	raw, err := os.ReadFile(a.Path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", a.Path, err)
	}
	return n, nil
}
