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
    `context`

    `github.com/cloudwego/treejit`
    `github.com/cloudwego/treejit/internal/opts`
    `github.com/cloudwego/treejit/internal/osr`
    `github.com/pkg/errors`
    `golang.org/x/sync/errgroup`
)

// Outcome is the result of one compilation of a batch. Err is set when the
// method was abandoned, in which case Result is nil.
type Outcome struct {
    Result *Result
    Err    error
}

// Batch compiles independent methods concurrently, at most parallel at a time,
// or opts.MaxParallel if parallel is not positive. An abandoned method does
// not affect the others, any other failure stops the whole batch.
func (self *Compiler) Batch(ctx context.Context, jobs []*osr.CompilationData, parallel int) ([]Outcome, error) {
    ret := make([]Outcome, len(jobs))
    grp, ctx := errgroup.WithContext(ctx)

    /* bound the parallelism */
    if parallel <= 0 {
        parallel = opts.MaxParallel
    }

    /* compile everything */
    grp.SetLimit(parallel)
    for i, cd := range jobs {
        i, cd := i, cd
        grp.Go(func() error {
            var ce treejit.CompilationError
            res, err := self.Compile(ctx, cd)

            /* abandoned methods stay interpreted */
            if err != nil && !errors.As(err, &ce) {
                return err
            }
            ret[i] = Outcome { Result: res, Err: err }
            return nil
        })
    }

    /* wait for all of them */
    if err := grp.Wait(); err != nil {
        return nil, errors.Wrap(err, "batch compilation")
    }
    return ret, nil
}
