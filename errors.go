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
)

// CompilationError aborts the compilation of a single method. The method is
// left to the interpreter, other compilations are not affected.
type CompilationError struct {
	Method string
	Reason string
	Cause  error
}

func (self CompilationError) Error() string {
	if self.Cause != nil {
		return fmt.Sprintf("CompilationError(%s): %s: %v", self.Method, self.Reason, self.Cause)
	} else {
		return fmt.Sprintf("CompilationError(%s): %s", self.Method, self.Reason)
	}
}

func (self CompilationError) Unwrap() error {
	return self.Cause
}

// MetaDataError occurs when decoding a malformed OSR metadata blob.
type MetaDataError struct {
	Offset int
	Note   string
}

func (self MetaDataError) Error() string {
	return fmt.Sprintf("MetaDataError at offset %d: %s", self.Offset, self.Note)
}
