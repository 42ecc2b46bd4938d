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

package compile

import (
    `sync/atomic`

    `github.com/cloudwego/treejit/internal/opt`
)

var (
    CompiledCount  atomic.Int64
    AbandonedCount atomic.Int64
    CodeSize       atomic.Int64
    MetaDataSize   atomic.Int64
)

var PassCount [opt.NumKinds]atomic.Int64

func recordResult(res *Result) {
    CompiledCount.Add(1)
    CodeSize.Add(int64(len(res.Binary.Code)))
    MetaDataSize.Add(int64(len(res.MetaData)))

    /* transformations of every pass */
    for i, n := range res.Stats.Performed {
        PassCount[i].Add(int64(n))
    }
}
