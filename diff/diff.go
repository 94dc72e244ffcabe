// Package diff implements C6: the Differ. It produces a stream of
// Copy/Insert/Repeat instructions that transform source bytes into target
// bytes, using a parallel chunk matcher followed by an insert-to-repeat
// rewriter. The algorithm is ported in semantics (including the offset-32
// sentinel heuristic) from
// original_source/src/nSuite/src/BufferTools.cpp's BFT::DiffBuffers, per
// spec §4.6 and Design Notes Open Question 3.
package diff

import (
	"sync"

	"github.com/yatta-sync/yatta"
	"github.com/yatta-sync/yatta/buffer"
	"github.com/yatta-sync/yatta/codec"
	"github.com/yatta-sync/yatta/instruction"
	"github.com/yatta-sync/yatta/memrange"
	"github.com/yatta-sync/yatta/workerpool"
	"golang.org/x/xerrors"
)

// windowSize is the fixed chunk size (W in §4.6) consumed by one matching
// job.
const windowSize = 4096

// minMatch is the minimum extended match length worth recording (the
// sentinel test at offset 32 implies a 32-byte floor).
const minMatch = 32

// Diff computes a framed "yatta diff" artifact that, applied to source via
// patch.Patch, reproduces target exactly. pool parallelizes both phases of
// the algorithm; pass a pool sized for the caller's concurrency budget.
func Diff(source, target memrange.MemoryRange, pool *workerpool.Pool) (*buffer.Buffer, error) {
	if source.Empty() && target.Empty() {
		return nil, yatta.ErrEmptyInput
	}

	instructions, err := matchWindows(source, target, pool)
	if err != nil {
		return nil, err
	}
	instructions = rewriteRepeats(instructions, pool)

	// Serialize in current (unordered-across-windows) order: each
	// instruction carries its own absolute target index, so the patcher
	// does not depend on vector order.
	body := buffer.New()
	for _, inst := range instructions {
		inst.Encode(body)
	}

	// An empty target legitimately produces zero instructions (e.g.
	// truncating a file to nothing); codec.Compress rejects an empty buffer
	// outright, so build
	// the "yatta compress" frame for a zero-length payload directly rather
	// than treating an empty instruction stream as a compression failure.
	var compressed *buffer.Buffer
	if body.Empty() {
		compressed = buffer.New()
		h := make([]byte, yatta.MagicSize)
		copy(h, yatta.MagicCompress)
		compressed.Append(h)
		compressed.AppendUint64(0)
	} else {
		var err error
		compressed, err = codec.Compress(body.Range())
		if err != nil {
			return nil, xerrors.Errorf("compressing instruction stream: %w", err)
		}
	}

	out := buffer.New()
	header := make([]byte, yatta.MagicSize)
	copy(header, yatta.MagicDiff)
	out.Append(header)
	out.AppendUint64(uint64(target.Size()))
	out.Append(compressed.Bytes())
	out.Shrink()
	return out, nil
}

// matchInfo records one matched region found within a window: data from
// [srcStart, srcStart+length) equals [tgtStart, tgtStart+length).
type matchInfo struct {
	length   int
	srcStart int
	tgtStart int
}

// matchWindows implements Phase 1: advance src/tgt cursors in lockstep over
// windowSize-aligned chunks, submitting one matching job per chunk to pool,
// and merging results (guarded by a single mutex, per spec §4.6/§5) into a
// single instruction slice.
func matchWindows(source, target memrange.MemoryRange, pool *workerpool.Pool) ([]instruction.Instruction, error) {
	srcSize, tgtSize := source.Size(), target.Size()

	var mu sync.Mutex
	var instructions []instruction.Instruction

	srcCur, tgtCur := 0, 0
	for srcCur < srcSize && tgtCur < tgtSize {
		window := windowSize
		if rem := srcSize - srcCur; rem < window {
			window = rem
		}
		if rem := tgtSize - tgtCur; rem < window {
			window = rem
		}

		srcBase, tgtBase := srcCur, tgtCur
		srcSlice := source.Bytes()[srcBase : srcBase+window]
		tgtSlice := target.Bytes()[tgtBase : tgtBase+window]

		pool.Submit(func() {
			insts := matchOneWindow(srcSlice, tgtSlice, window, srcBase, tgtBase)
			mu.Lock()
			instructions = append(instructions, insts...)
			mu.Unlock()
		})

		srcCur += window
		tgtCur += window
	}
	pool.Wait()

	if tgtCur < tgtSize {
		instructions = append(instructions, instruction.Insert{
			TargetIndex: uint64(tgtCur),
			Data:        append([]byte(nil), target.Bytes()[tgtCur:tgtSize]...),
		})
	}

	return instructions, nil
}

// matchOneWindow performs the per-window work described in §4.6 steps 1-5:
// find the best series of matches between srcSlice and tgtSlice (both of
// length window), then emit Copy instructions for matches and Insert
// instructions for the gaps between them. srcBase/tgtBase are the absolute
// offsets this window starts at, used to produce absolute instruction
// indices.
func matchOneWindow(srcSlice, tgtSlice []byte, window, srcBase, tgtBase int) []instruction.Instruction {
	var bestSeries []matchInfo
	bestContinuous := 0
	bestMatchCount := window

	for i1 := 0; i1+8 < window; i1 += 8 {
		wordA := le64(srcSlice[i1 : i1+8])

		var series []matchInfo
		largestContinuous := 0

		for i2 := 0; i2+8 < window; i2 += 8 {
			wordB := le64(tgtSlice[i2 : i2+8])
			if wordA != wordB {
				continue
			}

			offset := 8
			if i1+32 < window && i2+32 < window && srcSlice[i1+32] == tgtSlice[i2+32] {
				for i1+offset < window && i2+offset < window && srcSlice[i1+offset] == tgtSlice[i2+offset] {
					offset++
				}
				if offset >= minMatch {
					series = append(series, matchInfo{length: offset, srcStart: srcBase + i1, tgtStart: tgtBase + i2})
					if offset > largestContinuous {
						largestContinuous = offset
					}
				}
			}
			// The for-loop header advances i2 by a further 8 at the end of
			// this iteration; this mirrors the reference algorithm's extra
			// `index2 += offset` inside the match branch, which compounds
			// with the loop's own stride rather than replacing it.
			i2 += offset
		}

		if largestContinuous > bestContinuous && len(series) <= bestMatchCount {
			bestContinuous = largestContinuous
			bestMatchCount = len(series)
			bestSeries = series
		}
		if bestContinuous >= window {
			break
		}
	}

	var out []instruction.Instruction
	if len(bestSeries) == 0 {
		out = append(out, instruction.Insert{
			TargetIndex: uint64(tgtBase),
			Data:        append([]byte(nil), tgtSlice...),
		})
		return out
	}

	lastMatchEnd := tgtBase
	for _, m := range bestSeries {
		if gap := m.tgtStart - lastMatchEnd; gap > 0 {
			start := lastMatchEnd - tgtBase
			out = append(out, instruction.Insert{
				TargetIndex: uint64(lastMatchEnd),
				Data:        append([]byte(nil), tgtSlice[start:start+gap]...),
			})
		}
		out = append(out, instruction.Copy{
			TargetIndex: uint64(m.tgtStart),
			SourceBegin: uint64(m.srcStart),
			SourceEnd:   uint64(m.srcStart + m.length),
		})
		lastMatchEnd = m.tgtStart + m.length
	}

	if tail := (tgtBase + window) - lastMatchEnd; tail > 0 {
		start := lastMatchEnd - tgtBase
		out = append(out, instruction.Insert{
			TargetIndex: uint64(lastMatchEnd),
			Data:        append([]byte(nil), tgtSlice[start:start+tail]...),
		})
	}
	return out
}

// le64 reads the first 8 bytes of b as a little-endian uint64, matching
// memrange's pinned native order.
func le64(b []byte) uint64 {
	_ = b[7]
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// rewriteRepeats implements Phase 2: for every Insert longer than 36 bytes,
// scan for runs of a repeated byte and split them out into Repeat
// instructions, per §4.6.
func rewriteRepeats(instructions []instruction.Instruction, pool *workerpool.Pool) []instruction.Instruction {
	n := len(instructions)
	// Each job writes only to its own slot; pool.Wait() establishes the
	// happens-before edge for the merge below, so no lock guards results.
	results := make([]struct {
		replacement instruction.Instruction
		extra       []instruction.Instruction
	}, n)

	for i := 0; i < n; i++ {
		i := i
		inst := instructions[i]
		results[i].replacement = inst
		pool.Submit(func() {
			insert, ok := inst.(instruction.Insert)
			if !ok || len(insert.Data) <= 36 {
				return
			}

			var extra []instruction.Instruction
			data := insert.Data
			index := insert.TargetIndex

			for {
				max := len(data) - 37
				if max < 0 {
					break
				}
				found := false
				for x := 0; x < max; x++ {
					valueAtX := data[x]
					if data[x+36] != valueAtX {
						continue
					}
					y := x + 1
					for y < max && data[y] == valueAtX {
						y++
					}
					length := y - x
					if length > 36 {
						extra = append(extra, instruction.Insert{
							TargetIndex: index,
							Data:        append([]byte(nil), data[:x]...),
						})
						extra = append(extra, instruction.Repeat{
							TargetIndex: index + uint64(x),
							Count:       uint64(length),
							Value:       valueAtX,
						})
						index = index + uint64(x) + uint64(length)
						data = append([]byte(nil), data[y:]...)
						found = true
						break
					}
					x = y - 1
					break
				}
				if !found {
					break
				}
			}

			results[i].replacement = instruction.Insert{TargetIndex: index, Data: data}
			results[i].extra = extra
		})
	}
	pool.Wait()

	out := make([]instruction.Instruction, 0, n)
	for _, r := range results {
		out = append(out, r.replacement)
		out = append(out, r.extra...)
	}
	return out
}
