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

package main

import (
    `bytes`
    `encoding/binary`
    `testing`

    `github.com/stretchr/testify/require`
)

func blob(words ...uint32) []byte {
    buf := make([]byte, 4 * len(words))
    for i, v := range words {
        binary.LittleEndian.PutUint32(buf[i * 4:], v)
    }
    return buf
}

var sample = blob(
    36, 8, 1,
    0x10, 1, 0xffffffff, 24, 0, 4,
    12, 1, 0x80,
)

func TestDump(t *testing.T) {
    buf := bytes.NewBuffer(nil)
    require.NoError(t, dump(buf, sample, "", false))
    require.Contains(t, buf.String(), "MetaData(scratch=8, mappings=1, frames=1)")
    require.Contains(t, buf.String(), "catch[-1] = 0x80")
}

func TestDump_Lookup(t *testing.T) {
    buf := bytes.NewBuffer(nil)
    require.NoError(t, dump(buf, sample, "0x20", false))
    require.Equal(t, "0x20: mapping at 0x10, 1 slot(s)\n    site=-1 osr=24 scratch=0 size=4\n", buf.String())
    buf.Reset()
    require.NoError(t, dump(buf, sample, "8", false))
    require.Equal(t, "0x8: no shared slots\n", buf.String())
}

func TestDump_Raw(t *testing.T) {
    buf := bytes.NewBuffer(nil)
    require.NoError(t, dump(buf, sample, "", true))
    require.Contains(t, buf.String(), "ScratchBufferSize: (uint32) 8")
    require.Contains(t, buf.String(), "OSRBufferOffset: (int32) 24")
    require.NotContains(t, buf.String(), "MetaData(scratch=")
    buf.Reset()
    require.NoError(t, dump(buf, sample, "0x10", true))
    require.Contains(t, buf.String(), "PC: (int32) 16")
}

func TestDump_Errors(t *testing.T) {
    require.Error(t, dump(bytes.NewBuffer(nil), sample[:10], "", false))
    require.Error(t, dump(bytes.NewBuffer(nil), sample, "pc", false))
}
