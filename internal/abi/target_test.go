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

package abi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTarget_Host(t *testing.T) {
	host := Host()
	require.NotZero(t, host.ReferenceSize)
	require.Equal(t, 2*host.ReferenceSize, host.OSRFrameHeaderSize)
	require.NotEmpty(t, Describe())
}

func TestTarget_SlotSize(t *testing.T) {
	require.Equal(t, int32(8), AMD64.SlotSize(1))
	require.Equal(t, int32(8), AMD64.SlotSize(8))
	require.Equal(t, int32(16), AMD64.SlotSize(12))
	require.Equal(t, int32(8), X86.SlotSize(8))
	require.Equal(t, int32(4), X86.SlotSize(2))
}
