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

// Package klogcontrol applies klog backend settings at runtime.
package klogcontrol

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"k8s.io/klog/v2"

	cfgapi "github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1/log/klogcontrol"
)

// EnvPrefix prefixes environment variables overriding klog flags, for
// instance LOGGER_V=4 or LOGGER_SKIP_HEADERS=true.
const EnvPrefix = "LOGGER_"

var (
	ErrUnknownFlag = fmt.Errorf("klogcontrol: unknown klog flag")

	flags = flag.NewFlagSet("klog", flag.ContinueOnError)
)

// Configure applies the settings of cfg to klog.
func Configure(cfg *cfgapi.Config) error {
	var errs *multierror.Error

	for _, s := range cfg.Settings() {
		if err := Set(s.Flag, s.Value); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

// Set sets a single klog flag.
func Set(name, value string) error {
	if flags.Lookup(name) == nil {
		return fmt.Errorf("%w %q", ErrUnknownFlag, name)
	}
	if err := flags.Set(name, value); err != nil {
		return fmt.Errorf("klogcontrol: failed to set %s=%q: %w", name, value, err)
	}
	return nil
}

// Value returns the current value of a klog flag.
func Value(name string) (string, bool) {
	f := flags.Lookup(name)
	if f == nil {
		return "", false
	}
	return f.Value.String(), true
}

func envName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func init() {
	flags.SetOutput(io.Discard)
	klog.InitFlags(flags)

	flags.VisitAll(func(f *flag.Flag) {
		name := envName(f.Name)
		value, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		if err := Set(f.Name, value); err != nil {
			klog.Errorf("ignoring $%s: %v", name, err)
		}
	})
}
