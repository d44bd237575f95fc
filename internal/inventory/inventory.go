// Package inventory loads the list of controllers a fleet report visits.
//
// Three file formats are accepted, chosen by extension:
//
//	.json        [{"IP_ADDRESS": "10.0.0.10", "USERNAME": "admin", "PASSWORD": "..."}]
//	.yaml, .yml  controllers: [{address: 10.0.0.10, port: 22, username: admin}]
//	.toml        [[controller]] tables with the same keys as YAML
//
// JSON is the historical credentials.json layout and is read verbatim.
// YAML and TOML files get ${VAR} expansion like the main config file.
// Entries without credentials use the SSH defaults at connect time.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nugget/apreport/internal/collect"
	"github.com/nugget/apreport/internal/config"
)

// Entry is one controller in an inventory file.
type Entry struct {
	Name     string `yaml:"name" toml:"name"`
	Address  string `yaml:"address" toml:"address"`
	Port     int    `yaml:"port" toml:"port"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// credentialsEntry is the credentials.json layout.
type credentialsEntry struct {
	Address  string `json:"IP_ADDRESS"`
	Username string `json:"USERNAME"`
	Password string `json:"PASSWORD"`
	Port     int    `json:"PORT,omitempty"`
}

// Load reads an inventory file and returns its devices in file order.
func Load(path string) ([]collect.Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	entries, err := decode(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}

	var errs []error
	devices := make([]collect.Device, 0, len(entries))
	for i, e := range entries {
		e.Address = strings.TrimSpace(e.Address)
		if e.Address == "" {
			errs = append(errs, fmt.Errorf("entry %d: address is required", i))
			continue
		}
		if e.Port < 0 || e.Port > 65535 {
			errs = append(errs, fmt.Errorf("entry %d (%s): port %d out of range", i, e.Address, e.Port))
			continue
		}
		devices = append(devices, e.Device())
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	return devices, nil
}

func decode(ext string, data []byte) ([]Entry, error) {
	switch strings.ToLower(ext) {
	case ".json":
		var raw []credentialsEntry
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		entries := make([]Entry, len(raw))
		for i, r := range raw {
			entries[i] = Entry{Address: r.Address, Port: r.Port, Username: r.Username, Password: r.Password}
		}
		return entries, nil

	case ".yaml", ".yml":
		var doc struct {
			Controllers []Entry `yaml:"controllers"`
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &doc); err != nil {
			return nil, err
		}
		return doc.Controllers, nil

	case ".toml":
		var doc struct {
			Controller []Entry `toml:"controller"`
		}
		md, err := toml.Decode(os.ExpandEnv(string(data)), &doc)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys: %v", undecoded)
		}
		return doc.Controller, nil

	default:
		return nil, fmt.Errorf("unsupported inventory format %q (valid: .json, .yaml, .yml, .toml)", ext)
	}
}

// Device converts the entry to a collection target.
func (e Entry) Device() collect.Device {
	return collect.Device{
		Address: e.Address,
		Port:    e.Port,
		Name:    e.Name,
		Credentials: collect.Credentials{
			Username: e.Username,
			Password: e.Password,
		},
	}
}

// FromConfig converts controllers listed in the main config file.
func FromConfig(controllers []config.ControllerConfig) []collect.Device {
	devices := make([]collect.Device, 0, len(controllers))
	for _, c := range controllers {
		devices = append(devices, Entry{
			Address:  c.Address,
			Port:     c.Port,
			Username: c.Username,
			Password: c.Password,
		}.Device())
	}
	return devices
}
