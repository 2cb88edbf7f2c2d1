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

package utils

import (
	"fmt"
	"strings"
)

// ParseEnabled parses a string as a boolean on/off state.
func ParseEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "enable", "enabled", "true", "yes", "1":
		return true, nil
	case "off", "disable", "disabled", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid enabled state %q", value)
}

// PrettySize returns a human readable representation of a size in bytes.
func PrettySize(value int64) string {
	units := []string{"k", "M", "G", "T"}
	coeff := int64(1024)

	if value < coeff {
		return fmt.Sprintf("%d", value)
	}

	for i, u := range units {
		if value < coeff*1024 || i == len(units)-1 {
			if value%coeff == 0 {
				return fmt.Sprintf("%d%s", value/coeff, u)
			}
			return fmt.Sprintf("%.2f%s", float64(value)/float64(coeff), u)
		}
		coeff *= 1024
	}

	return fmt.Sprintf("%d", value)
}
