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
	"strings"
)

// OSRMode selects which instructions become OSR transition points.
type OSRMode uint8

const (
	// VoluntaryOSR only tracks the explicit induce-OSR helper calls.
	VoluntaryOSR OSRMode = iota

	// InvoluntaryOSR tracks every instruction that may transfer control to the interpreter.
	InvoluntaryOSR
)

func (self OSRMode) String() string {
	switch self {
	case VoluntaryOSR:
		return "voluntary"
	case InvoluntaryOSR:
		return "involuntary"
	default:
		return "unknown"
	}
}

type Options struct {
	OSRMode                    OSRMode
	EnableOSR                  bool
	DisableOSRSharedSlots      bool
	ProcessHugeMethods         bool
	FoldLoopToggles            bool
	DisableGlRegDepElimination bool
	MaxParallel                int
	Trace                      map[string]bool
}

// SupportsSharedSlots reports whether the shared-slot section of the OSR metadata carries any mapping.
func (self *Options) SupportsSharedSlots() bool {
	return self.EnableOSR && !self.DisableOSRSharedSlots
}

// Tracing checks if tracing is enabled for the named component.
func (self *Options) Tracing(component string) bool {
	return self.Trace["all"] || self.Trace[strings.ToLower(component)]
}

func (self *Options) SetTrace(component string, enabled bool) {
	if self.Trace == nil {
		self.Trace = make(map[string]bool)
	}
	self.Trace[strings.ToLower(component)] = enabled
}

func GetDefaultOptions() Options {
	trace := make(map[string]bool, len(Trace))
	for k, v := range Trace {
		trace[k] = v
	}
	return Options{
		OSRMode:                    DefaultOSRMode,
		EnableOSR:                  EnableOSR,
		DisableOSRSharedSlots:      DisableOSRSharedSlots,
		ProcessHugeMethods:         ProcessHugeMethods,
		FoldLoopToggles:            FoldLoopToggles,
		DisableGlRegDepElimination: DisableGlRegDepElimination,
		MaxParallel:                MaxParallel,
		Trace:                      trace,
	}
}
