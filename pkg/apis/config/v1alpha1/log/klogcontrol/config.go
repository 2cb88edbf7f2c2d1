// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package klogcontrol

import (
	"sort"
	"strconv"
)

// Config holds the klog settings a buffer manager process may adjust.
// Unset settings leave klog defaults or environment overrides in place.
//
// +k8s:deepcopy-gen=true
type Config struct {
	// ToStderr directs log messages to stderr instead of log files.
	// +optional
	ToStderr *bool `json:"logtostderr,omitempty"`
	// SkipHeaders omits the klog header (severity, timestamp, location).
	// +optional
	SkipHeaders *bool `json:"skip_headers,omitempty"`
	// StderrThreshold sets the severity above which messages go to stderr.
	// +optional
	StderrThreshold *string `json:"stderrthreshold,omitempty"`
	// Verbosity sets the klog verbosity level.
	// +optional
	Verbosity *int `json:"v,omitempty"`
	// VModule sets per-file verbosity levels.
	// +optional
	VModule *string `json:"vmodule,omitempty"`
}

// Setting is a single klog flag with its value.
type Setting struct {
	Flag  string
	Value string
}

// Settings returns the configured settings sorted by flag name.
func (c *Config) Settings() []Setting {
	if c == nil {
		return nil
	}

	var settings []Setting
	add := func(flag string, value *string) {
		if value != nil {
			settings = append(settings, Setting{Flag: flag, Value: *value})
		}
	}

	add("logtostderr", formatBool(c.ToStderr))
	add("skip_headers", formatBool(c.SkipHeaders))
	add("stderrthreshold", c.StderrThreshold)
	if c.Verbosity != nil {
		v := strconv.Itoa(*c.Verbosity)
		add("v", &v)
	}
	add("vmodule", c.VModule)

	sort.Slice(settings, func(i, j int) bool { return settings[i].Flag < settings[j].Flag })

	return settings
}

// HeadersOff returns true if klog writes headerless messages to stderr.
func (c *Config) HeadersOff() bool {
	return c != nil && c.ToStderr != nil && *c.ToStderr &&
		c.SkipHeaders != nil && *c.SkipHeaders
}

func formatBool(b *bool) *string {
	if b == nil {
		return nil
	}
	s := strconv.FormatBool(*b)
	return &s
}
