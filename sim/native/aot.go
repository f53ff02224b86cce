// Copyright 2025 The Silica Authors
// This file is part of Silica.
//
// Silica is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Silica is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Silica. If not, see <http://www.gnu.org/licenses/>.

package native

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/silica-hdl/go-silica/bir"
	"github.com/silica-hdl/go-silica/bridge"
	"github.com/silica-hdl/go-silica/flatten"
)

// genVersion is bumped whenever Source output changes shape, so stale cache
// artifacts stop matching.
const genVersion = 1

// HashDesign returns the hex Keccak-256 of the design's canonical JSON.
// The generated module bakes this in, and loaders verify it before binding.
func HashDesign(d *bir.Design) (string, error) {
	blob, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(blob)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Source renders the program as a self-contained main package suitable for
// a -buildmode=plugin build. The output imports nothing beyond math/bits and
// defines three symbols: Evaluate, Sample and DesignHash.
func Source(p *flatten.Program) ([]byte, error) {
	return render(p, 0, nil, nil)
}

// FuseSource renders the program like Source plus a RunCycles entry point
// driving whole clock cycles with the given bridges decoded inline: RAM and
// ROM read data is injected before each rising edge and committed RAM
// writes are mirrored after it, with no per-cycle calls back into the host.
// settlePasses bounds the fixed-point iteration of a cyclic program,
// matching the interpreter's cap.
func FuseSource(p *flatten.Program, settlePasses int, rams []bridge.RAMBinding, roms []bridge.ROMBinding) ([]byte, error) {
	if settlePasses < 1 {
		settlePasses = 1
	}
	return render(p, settlePasses, rams, roms)
}

func render(p *flatten.Program, settlePasses int, rams []bridge.RAMBinding, roms []bridge.ROMBinding) ([]byte, error) {
	hash, err := HashDesign(p.Design)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "// Code generated by silica for design %q. DO NOT EDIT.\n\n", p.Design.Name)
	b.WriteString("package main\n\nimport \"math/bits\"\n\n")
	b.WriteString(aotHelpers)
	if len(roms) > 0 {
		b.WriteString(aotROMHelper)
	}

	writeEvalFunc(&b, "Evaluate", p, p.Comb)
	var seq []flatten.Op
	for i := range p.Domains {
		for j := range p.Domains[i].Regs {
			seq = append(seq, p.Domains[i].Regs[j].Ops...)
		}
	}
	writeEvalFunc(&b, "Sample", p, seq)
	if settlePasses > 0 {
		writeRunFunc(&b, p, settlePasses, rams, roms)
	}

	fmt.Fprintf(&b, "// DesignHash identifies the design this module was generated from.\n")
	fmt.Fprintf(&b, "func DesignHash() string { return %q }\n", hash)
	return b.Bytes(), nil
}

// writeRunFunc emits the fused cycle loop. The body replays the
// interpreter's tick order exactly: park the clocks low and settle, inject
// bridge read data, record domain clock levels, raise the clocks and
// settle, sample, commit domains that rose, settle once more, then mirror
// committed RAM writes out.
func writeRunFunc(b *bytes.Buffer, p *flatten.Program, passes int, rams []bridge.RAMBinding, roms []bridge.ROMBinding) {
	settle := func() {
		if p.Cyclic && passes > 1 {
			fmt.Fprintf(b, "\t\tfor pass := 0; pass < %d; pass++ {\n", passes)
			b.WriteString("\t\t\tEvaluate(sig, tmp, next, mems)\n")
			b.WriteString("\t\t}\n")
		} else {
			b.WriteString("\t\tEvaluate(sig, tmp, next, mems)\n")
		}
	}
	b.WriteString("// RunCycles advances n full clock cycles with the attached memory\n")
	b.WriteString("// bridges decoded inline.\n")
	b.WriteString("func RunCycles(n uint64, sig, tmp, next, prev []uint64, mems, rams [][]uint64, roms [][]byte) {\n")
	b.WriteString("\tfor ; n > 0; n-- {\n")
	for _, c := range p.Clocks {
		fmt.Fprintf(b, "\t\tsig[%d] = 0\n", c)
	}
	settle()
	for i, r := range rams {
		fmt.Fprintf(b, "\t\tsig[%d] = memrd(rams[%d], sig[%d]) & %#x\n", r.RData, i, r.RAddr, r.DataMask)
	}
	for i, r := range roms {
		fmt.Fprintf(b, "\t\tsig[%d] = romrd(roms[%d], sig[%d], %d) & %#x\n", r.Data, i, r.Addr, r.Stride, r.DataMask)
	}
	for i := range p.Domains {
		fmt.Fprintf(b, "\t\tprev[%d] = sig[%d]\n", i, p.Domains[i].Clock)
	}
	for _, c := range p.Clocks {
		fmt.Fprintf(b, "\t\tsig[%d] = 1\n", c)
	}
	settle()
	b.WriteString("\t\tSample(sig, tmp, next, mems)\n")
	for i := range p.Domains {
		dom := &p.Domains[i]
		fmt.Fprintf(b, "\t\tif prev[%d] == 0 && sig[%d] != 0 {\n", i, dom.Clock)
		for _, reg := range dom.Regs {
			fmt.Fprintf(b, "\t\t\tsig[%d] = next[%d]\n", reg.Target, reg.Slot)
		}
		b.WriteString("\t\t}\n")
	}
	settle()
	for i, r := range rams {
		if !r.Writable {
			continue
		}
		fmt.Fprintf(b, "\t\tif sig[%d] != 0 {\n", r.WE)
		fmt.Fprintf(b, "\t\t\tif a := sig[%d]; a < uint64(len(rams[%d])) {\n", r.WAddr, i)
		fmt.Fprintf(b, "\t\t\t\trams[%d][a] = sig[%d]\n", i, r.WData)
		b.WriteString("\t\t\t}\n")
		b.WriteString("\t\t}\n")
	}
	b.WriteString("\t}\n}\n\n")
}

const aotHelpers = `func divq(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func modq(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return a % b
}

func shlq(a, n uint64) uint64 {
	if n >= 64 {
		return 0
	}
	return a << n
}

func shrq(a, n uint64) uint64 {
	if n >= 64 {
		return 0
	}
	return a >> n
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func muxq(c, a, b uint64) uint64 {
	if c != 0 {
		return a
	}
	return b
}

func parity(a uint64) uint64 {
	return uint64(bits.OnesCount64(a) & 1)
}

func memrd(m []uint64, a uint64) uint64 {
	if a >= uint64(len(m)) {
		return 0
	}
	return m[a]
}

`

const aotROMHelper = `func romrd(b []byte, addr uint64, stride int) uint64 {
	if addr >= uint64(len(b)/stride) {
		return 0
	}
	off := addr * uint64(stride)
	var v uint64
	for i := stride - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[off+uint64(i)])
	}
	return v
}

`

func writeEvalFunc(b *bytes.Buffer, name string, p *flatten.Program, ops []flatten.Op) {
	fmt.Fprintf(b, "func %s(sig, tmp, next []uint64, mems [][]uint64) {\n", name)
	for i := range ops {
		writeOp(b, p, &ops[i])
	}
	b.WriteString("}\n\n")
}

func writeOp(b *bytes.Buffer, p *flatten.Program, op *flatten.Op) {
	ref := func(r flatten.Ref) string {
		switch r.Kind {
		case flatten.RefSignal:
			return fmt.Sprintf("sig[%d]", r.Index)
		case flatten.RefTemp:
			return fmt.Sprintf("tmp[%d]", r.Index)
		case flatten.RefNext:
			return fmt.Sprintf("next[%d]", r.Index)
		default:
			return fmt.Sprintf("%#x", p.Consts[r.Index])
		}
	}

	var expr string
	switch op.Code {
	case flatten.OpCopy:
		expr = ref(op.A)
	case flatten.OpAdd:
		expr = ref(op.A) + " + " + ref(op.B)
	case flatten.OpSub:
		expr = ref(op.A) + " - " + ref(op.B)
	case flatten.OpMul:
		expr = ref(op.A) + " * " + ref(op.B)
	case flatten.OpDiv:
		expr = fmt.Sprintf("divq(%s, %s)", ref(op.A), ref(op.B))
	case flatten.OpMod:
		expr = fmt.Sprintf("modq(%s, %s)", ref(op.A), ref(op.B))
	case flatten.OpAnd:
		expr = ref(op.A) + " & " + ref(op.B)
	case flatten.OpOr:
		expr = ref(op.A) + " | " + ref(op.B)
	case flatten.OpXor:
		expr = ref(op.A) + " ^ " + ref(op.B)
	case flatten.OpNot:
		expr = "^" + ref(op.A)
	case flatten.OpShl:
		expr = fmt.Sprintf("shlq(%s, %s)", ref(op.A), ref(op.B))
	case flatten.OpShr:
		expr = fmt.Sprintf("shrq(%s, %s)", ref(op.A), ref(op.B))
	case flatten.OpEq:
		expr = fmt.Sprintf("b2u(%s == %s)", ref(op.A), ref(op.B))
	case flatten.OpNe:
		expr = fmt.Sprintf("b2u(%s != %s)", ref(op.A), ref(op.B))
	case flatten.OpLt:
		expr = fmt.Sprintf("b2u(%s < %s)", ref(op.A), ref(op.B))
	case flatten.OpLe:
		expr = fmt.Sprintf("b2u(%s <= %s)", ref(op.A), ref(op.B))
	case flatten.OpGt:
		expr = fmt.Sprintf("b2u(%s > %s)", ref(op.A), ref(op.B))
	case flatten.OpGe:
		expr = fmt.Sprintf("b2u(%s >= %s)", ref(op.A), ref(op.B))
	case flatten.OpRedXor:
		expr = fmt.Sprintf("parity(%s)", ref(op.A))
	case flatten.OpMux:
		expr = fmt.Sprintf("muxq(%s, %s, %s)", ref(op.C), ref(op.A), ref(op.B))
	case flatten.OpSlice:
		if op.Shift == 0 {
			expr = ref(op.A)
		} else {
			expr = fmt.Sprintf("%s >> %d", ref(op.A), op.Shift)
		}
	case flatten.OpConcat:
		if op.Shift == 0 {
			expr = fmt.Sprintf("%s | %s", ref(op.Dst), ref(op.A))
		} else {
			expr = fmt.Sprintf("%s<<%d | %s", ref(op.Dst), op.Shift, ref(op.A))
		}
	case flatten.OpMemRead:
		expr = fmt.Sprintf("memrd(mems[%d], %s)", op.Mem, ref(op.A))
	}

	if op.Mask == ^uint64(0) {
		fmt.Fprintf(b, "\t%s = %s\n", ref(op.Dst), expr)
	} else {
		fmt.Fprintf(b, "\t%s = (%s) & %#x\n", ref(op.Dst), expr, op.Mask)
	}
}
