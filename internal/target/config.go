// Package target describes the deployment environment of the generated
// packet module. Every environment-specific difference between kernel and
// user-space builds lives in one Config record; the lowering engine is
// shared.
package target

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/wp4c/internal/errors"
	"github.com/orizon-lang/wp4c/internal/naming"
)

// Config is the target record.
type Config struct {
	Name string `json:"name"`

	// Includes go at the top of the implementation artifact, HeaderIncludes
	// at the top of the header artifact.
	Includes       []string `json:"includes"`
	HeaderIncludes []string `json:"header_includes"`

	// Entry routine and its parameters.
	EntryName string `json:"entry_name"`
	PacketArg string `json:"packet_arg"`
	LengthArg string `json:"length_arg"`
	PortArg   string `json:"port_arg"`

	ForwardCode string `json:"forward_code"`
	DropCode    string `json:"drop_code"`
	AbortCode   string `json:"abort_code"`

	// Module lifecycle glue. The body lines are emitted inside the init and
	// exit routines; the init routine also loads the default actions.
	InitName   string   `json:"init_name"`
	ExitName   string   `json:"exit_name"`
	ModuleInit []string `json:"module_init"`
	ModuleExit []string `json:"module_exit"`

	// ExportTables exports the table mutation routines to other modules.
	ExportTables bool `json:"export_tables"`

	License       string `json:"license"`
	Author        string `json:"author,omitempty"`
	Description   string `json:"description"`
	ModuleVersion string `json:"module_version"`

	// ABIVersion is the table/packet ABI this target implements. Programs may
	// require a semver range of it.
	ABIVersion string `json:"abi_version"`

	// Trace emits printk tracing of extracted fields and rejected packets.
	Trace bool `json:"trace"`

	// DropExterns are extern functions that drop the packet.
	DropExterns []string `json:"drop_externs"`

	// InputPortField is the input metadata field that receives PortArg.
	InputPortField string `json:"input_port_field"`
}

// Default returns the in-kernel target.
func Default() *Config {
	return &Config{
		Name:           "wp4-kernel",
		Includes:       []string{"<linux/kernel.h>", "<linux/module.h>", "<linux/init.h>", "<linux/string.h>"},
		HeaderIncludes: []string{"<linux/types.h>"},
		EntryName:      "wp4_packet_in",
		PacketArg:      "p_uc_data",
		LengthArg:      "wp4_ul_size",
		PortArg:        "port",
		ForwardCode:    "0",
		DropCode:       "1",
		AbortCode:      "1",
		InitName:       "wp4_init",
		ExitName:       "wp4_exit",
		ModuleInit:     []string{`printk(KERN_INFO "WP4: module loaded\n");`},
		ModuleExit:     []string{`printk(KERN_INFO "WP4: module unloaded\n");`},
		ExportTables:   true,
		License:        "GPL",
		Description:    "WP4",
		ModuleVersion:  "0.1",
		ABIVersion:     "1.0.0",
		Trace:          true,
		DropExterns:    []string{"mark_to_drop", "drop"},
		InputPortField: "input_port",
	}
}

// Load reads a target record from path on top of the defaults. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse target file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the record for values that would produce broken C.
func (c *Config) Validate() error {
	for _, id := range []struct{ field, value string }{
		{"entry_name", c.EntryName},
		{"packet_arg", c.PacketArg},
		{"length_arg", c.LengthArg},
		{"port_arg", c.PortArg},
		{"init_name", c.InitName},
		{"exit_name", c.ExitName},
	} {
		if id.value == "" || naming.Sanitize(id.value) != id.value {
			return errors.InvalidConfig(id.field, id.value, "not a C identifier")
		}
	}
	for _, code := range []struct{ field, value string }{
		{"forward_code", c.ForwardCode},
		{"drop_code", c.DropCode},
		{"abort_code", c.AbortCode},
	} {
		if strings.TrimSpace(code.value) == "" {
			return errors.InvalidConfig(code.field, code.value, "empty return code")
		}
	}
	if _, err := semver.NewVersion(c.ModuleVersion); err != nil {
		return errors.InvalidConfig("module_version", c.ModuleVersion, err.Error())
	}
	if _, err := semver.StrictNewVersion(c.ABIVersion); err != nil {
		return errors.InvalidConfig("abi_version", c.ABIVersion, err.Error())
	}
	return nil
}

// CheckABI verifies that the target satisfies a program's ABI requirement,
// a semver constraint such as "^1.0". An empty requirement always holds.
func (c *Config) CheckABI(requirement string) error {
	if strings.TrimSpace(requirement) == "" {
		return nil
	}
	con, err := semver.NewConstraint(requirement)
	if err != nil {
		return errors.InvalidConfig("requires_abi", requirement, err.Error())
	}
	v, err := semver.NewVersion(c.ABIVersion)
	if err != nil {
		return errors.InvalidConfig("abi_version", c.ABIVersion, err.Error())
	}
	if ok, reasons := con.Validate(v); !ok {
		msgs := make([]string, 0, len(reasons))
		for _, r := range reasons {
			msgs = append(msgs, r.Error())
		}
		return errors.NotOnTarget(fmt.Sprintf("ABI %s (%s)", requirement, strings.Join(msgs, "; ")))
	}
	return nil
}

// IsDropExtern reports whether calling the named extern drops the packet.
func (c *Config) IsDropExtern(name string) bool {
	for _, n := range c.DropExterns {
		if n == name {
			return true
		}
	}
	return false
}

// Fingerprint is a stable encoding of the record, used in cache keys.
func (c *Config) Fingerprint() []byte {
	data, err := json.Marshal(c)
	if err != nil {
		errors.Bug("target: cannot encode config: %v", err)
	}
	return data
}
