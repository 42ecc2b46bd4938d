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
    `flag`
    `fmt`
    `io`
    `log`
    `os`
    `strconv`

    `github.com/cloudwego/treejit`
    `github.com/davecgh/go-spew/spew`
)

var (
    InputFile string
    LookupPC  string
    Raw       bool
)

var dumper = spew.ConfigState {
    Indent         : "    ",
    DisableMethods : true,
}

func init() {
    flag.StringVar(&InputFile, "in", "", "metadata blob to decode")
    flag.StringVar(&LookupPC, "pc", "", "only print the mapping in effect at this PC")
    flag.BoolVar(&Raw, "raw", false, "dump the decoded structure instead of the summary")
}

func checkArgs() {
    if InputFile == "" {
        flag.Usage()
        os.Exit(1)
    }
}

func dump(w io.Writer, buf []byte, pc string, raw bool) error {
    md, err := treejit.DecodeMetaData(buf)
    if err != nil {
        return err
    }

    /* the whole metadata */
    if pc == "" {
        if raw {
            dumper.Fdump(w, md)
        } else {
            fmt.Fprintln(w, md)
        }
        return nil
    }

    /* a single mapping */
    v, err := strconv.ParseInt(pc, 0, 32)
    if err != nil {
        return fmt.Errorf("invalid PC %q: %w", pc, err)
    }
    if p := md.Lookup(int32(v)); p == nil {
        fmt.Fprintf(w, "%#x: no shared slots\n", v)
    } else if raw {
        dumper.Fdump(w, p)
    } else {
        fmt.Fprintf(w, "%#x: mapping at %#x, %d slot(s)\n", v, p.PC, len(p.Slots))
        for _, s := range p.Slots {
            fmt.Fprintf(w, "    site=%d osr=%d scratch=%d size=%d\n", s.InlinedSiteIndex, s.OSRBufferOffset, s.ScratchBufferOffset, s.SymSize)
        }
    }
    return nil
}

func main() {
    flag.Parse()
    checkArgs()
    buf, err := os.ReadFile(InputFile)
    if err != nil {
        log.Fatalln(fmt.Errorf("read %s failed: %w", InputFile, err))
    }
    if err = dump(os.Stdout, buf, LookupPC, Raw); err != nil {
        log.Fatalln(fmt.Errorf("decode %s failed: %+v", InputFile, err))
    }
}
