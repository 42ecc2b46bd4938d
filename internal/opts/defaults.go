/*
 * Copyright 2022 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package opts

import (
	"os"
	"strconv"
	"strings"
)

const (
	_DefaultMaxParallel = 4 // concurrent method compilations in a batch
)

var (
	DefaultOSRMode             = parseModeOrDefault("TREEJIT_OSR_MODE", InvoluntaryOSR)
	EnableOSR                  = parseBoolOrDefault("TREEJIT_ENABLE_OSR", true)
	DisableOSRSharedSlots      = parseBoolOrDefault("TREEJIT_DISABLE_OSR_SHARED_SLOTS", false)
	ProcessHugeMethods         = parseBoolOrDefault("TREEJIT_PROCESS_HUGE_METHODS", false)
	FoldLoopToggles            = parseBoolOrDefault("TREEJIT_FOLD_LOOP_TOGGLES", false)
	DisableGlRegDepElimination = parseBoolOrDefault("TREEJIT_DISABLE_GLREGDEP_ELIMINATION", false)
	MaxParallel                = parseOrDefault("TREEJIT_MAX_PARALLEL", _DefaultMaxParallel, 0)
	Trace                      = parseListOrDefault("TREEJIT_TRACE")
)

func parseOrDefault(key string, def int, min int) int {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseUint(env, 0, 64); err != nil {
		panic("treejit: invalid value for " + key)
	} else if ret := int(val); ret <= min {
		panic("treejit: value too small for " + key)
	} else {
		return ret
	}
}

func parseBoolOrDefault(key string, def bool) bool {
	if env := os.Getenv(key); env == "" {
		return def
	} else if val, err := strconv.ParseBool(env); err != nil {
		panic("treejit: invalid value for " + key)
	} else {
		return val
	}
}

func parseModeOrDefault(key string, def OSRMode) OSRMode {
	switch env := os.Getenv(key); strings.ToLower(env) {
	case "":
		return def
	case "voluntary":
		return VoluntaryOSR
	case "involuntary":
		return InvoluntaryOSR
	default:
		panic("treejit: invalid value for " + key)
	}
}

func parseListOrDefault(key string) map[string]bool {
	ret := make(map[string]bool)
	env := os.Getenv(key)

	/* comma separated component names */
	for _, v := range strings.Split(env, ",") {
		if v = strings.TrimSpace(v); v != "" {
			ret[strings.ToLower(v)] = true
		}
	}

	return ret
}
