package collect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher reads previously captured command output from disk. The
// device address is the file path; the controller identifier is the file
// name without its extension.
type FileFetcher struct{}

// Fetch implements [Fetcher].
func (FileFetcher) Fetch(ctx context.Context, dev Device) (Output, error) {
	controller := strings.TrimSuffix(filepath.Base(dev.Address), filepath.Ext(dev.Address))
	if dev.Name != "" {
		controller = dev.Name
	}
	if err := ctx.Err(); err != nil {
		return Output{Controller: controller}, err
	}

	data, err := os.ReadFile(dev.Address)
	if err != nil {
		return Output{Controller: controller}, fmt.Errorf("read captured output: %w", err)
	}
	return Output{Text: string(data), Controller: controller}, nil
}

// FileDevices returns one device per captured output file.
func FileDevices(paths []string) []Device {
	devices := make([]Device, len(paths))
	for i, p := range paths {
		devices[i] = Device{Address: p}
	}
	return devices
}
