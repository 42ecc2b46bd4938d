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

package treejit

import (
	"fmt"

	"github.com/cloudwego/treejit/internal/opts"
)

// Option is the property setter function for opts.Options.
type Option func(*opts.Options)

const (
	// VoluntaryOSR only lets the explicit induce-OSR helper calls transition to the interpreter.
	VoluntaryOSR = opts.VoluntaryOSR

	// InvoluntaryOSR lets every instruction of an OSR point transition to the interpreter.
	InvoluntaryOSR = opts.InvoluntaryOSR
)

// WithOSRMode selects which instructions are recorded in the shared slot map.
//
// The default value of this option is "InvoluntaryOSR".
func WithOSRMode(mode opts.OSRMode) Option {
	switch mode {
	case VoluntaryOSR, InvoluntaryOSR:
		return func(o *opts.Options) { o.OSRMode = mode }
	default:
		panic(fmt.Sprintf("treejit: invalid OSR mode: %d", mode))
	}
}

// WithOSR enables or disables OSR entirely. Without OSR the metadata only
// carries empty sections.
func WithOSR(enable bool) Option {
	return func(o *opts.Options) { o.EnableOSR = enable }
}

// WithSharedSlots controls whether symbols sharing an interpreter slot are
// tracked in the metadata. Methods with shared slots cannot transition to the
// interpreter when this is disabled.
func WithSharedSlots(enable bool) Option {
	return func(o *opts.Options) { o.DisableOSRSharedSlots = !enable }
}

// WithTrace enables the debug trace of the named components, "all" enables
// every component.
func WithTrace(components ...string) Option {
	return func(o *opts.Options) {
		for _, v := range components {
			o.SetTrace(v, true)
		}
	}
}

// WithFoldLoopToggles enables moving the "x = x ^ 1" stores out of single
// block loops with a constant trip count.
//
// The default value of this option is "false".
func WithFoldLoopToggles(enable bool) Option {
	return func(o *opts.Options) { o.FoldLoopToggles = enable }
}

// WithProcessHugeMethods lifts the node count limit above which the
// optimizer skips building use-def information.
func WithProcessHugeMethods(enable bool) Option {
	return func(o *opts.Options) { o.ProcessHugeMethods = enable }
}

// WithMaxParallel sets how many methods of a batch are compiled concurrently.
//
// The default value of this option is "4".
func WithMaxParallel(n int) Option {
	if n <= 0 {
		panic(fmt.Sprintf("treejit: invalid parallelism: %d", n))
	} else {
		return func(o *opts.Options) { o.MaxParallel = n }
	}
}

// SetOSRMode sets the default OSR mode for all compilations from now on.
//
// This value can also be configured with the `TREEJIT_OSR_MODE` environment
// variable.
//
// Returns the old opts.DefaultOSRMode value.
func SetOSRMode(mode opts.OSRMode) opts.OSRMode {
	mode, opts.DefaultOSRMode = opts.DefaultOSRMode, mode
	return mode
}

// SetSharedSlots sets whether shared slots are tracked by default.
//
// This value can also be configured with the `TREEJIT_DISABLE_OSR_SHARED_SLOTS`
// environment variable.
//
// Returns the old value.
func SetSharedSlots(enable bool) bool {
	enable, opts.DisableOSRSharedSlots = !opts.DisableOSRSharedSlots, !enable
	return enable
}

// SetMaxParallel sets the default batch parallelism.
//
// This value can also be configured with the `TREEJIT_MAX_PARALLEL`
// environment variable.
//
// Returns the old opts.MaxParallel value.
func SetMaxParallel(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("treejit: invalid parallelism: %d", n))
	}
	n, opts.MaxParallel = opts.MaxParallel, n
	return n
}

// NewOptions returns the default options with every option applied.
func NewOptions(options ...Option) opts.Options {
	o := opts.GetDefaultOptions()
	for _, fn := range options {
		fn(&o)
	}
	return o
}
