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

package debug

import (
	"github.com/cloudwego/treejit/internal/compile"
	"github.com/cloudwego/treejit/internal/opt"
)

// A Stats records statistics about the compiler.
type Stats struct {
	Methods MethodStats
	Memory  MemStats
	Passes  map[string]int
}

// A MethodStats records how many methods were compiled or left to the interpreter.
type MethodStats struct {
	Compiled  int
	Abandoned int
}

// A MemStats records the sizes of what the compiler produced.
type MemStats struct {
	Code     int
	MetaData int
}

// GetStats returns statistics of the compiler.
func GetStats() Stats {
	ret := Stats{
		Methods: MethodStats{
			Compiled:  int(compile.CompiledCount.Load()),
			Abandoned: int(compile.AbandonedCount.Load()),
		},
		Memory: MemStats{
			Code:     int(compile.CodeSize.Load()),
			MetaData: int(compile.MetaDataSize.Load()),
		},
		Passes: make(map[string]int, opt.NumKinds),
	}
	for i := range compile.PassCount {
		ret.Passes[opt.Kind(i).String()] = int(compile.PassCount[i].Load())
	}
	return ret
}
