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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptions_ParseOrDefault(t *testing.T) {
	t.Setenv("TREEJIT_TEST_INT", "")
	require.Equal(t, 7, parseOrDefault("TREEJIT_TEST_INT", 7, 0))
	t.Setenv("TREEJIT_TEST_INT", "0x10")
	require.Equal(t, 16, parseOrDefault("TREEJIT_TEST_INT", 7, 0))
	t.Setenv("TREEJIT_TEST_INT", "1")
	require.PanicsWithValue(t, "treejit: value too small for TREEJIT_TEST_INT", func() { parseOrDefault("TREEJIT_TEST_INT", 7, 1) })
	t.Setenv("TREEJIT_TEST_INT", "abc")
	require.PanicsWithValue(t, "treejit: invalid value for TREEJIT_TEST_INT", func() { parseOrDefault("TREEJIT_TEST_INT", 7, 0) })
}

func TestOptions_ParseMode(t *testing.T) {
	t.Setenv("TREEJIT_TEST_MODE", "Involuntary")
	require.Equal(t, InvoluntaryOSR, parseModeOrDefault("TREEJIT_TEST_MODE", VoluntaryOSR))
	t.Setenv("TREEJIT_TEST_MODE", "sometimes")
	require.Panics(t, func() { parseModeOrDefault("TREEJIT_TEST_MODE", VoluntaryOSR) })
}

func TestOptions_Tracing(t *testing.T) {
	t.Setenv("TREEJIT_TEST_TRACE", " deadTrees, OSR ,")
	opts := Options{Trace: parseListOrDefault("TREEJIT_TEST_TRACE")}
	require.True(t, opts.Tracing("DeadTrees"))
	require.True(t, opts.Tracing("osr"))
	require.False(t, opts.Tracing("isolatedStores"))
	opts.SetTrace("all", true)
	require.True(t, opts.Tracing("isolatedStores"))
}

func TestOptions_SupportsSharedSlots(t *testing.T) {
	opts := GetDefaultOptions()
	opts.EnableOSR, opts.DisableOSRSharedSlots = true, false
	require.True(t, opts.SupportsSharedSlots())
	opts.DisableOSRSharedSlots = true
	require.False(t, opts.SupportsSharedSlots())
}
