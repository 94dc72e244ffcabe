// Package vdir implements C8: an in-memory model of a directory tree (an
// ordered set of {relative path, byte payload} entries) with framed
// package/unpackage and framed directory-level diff/patch built on top of
// codec, diff, and patch. Directory-level fan-out (one goroutine per file)
// uses golang.org/x/sync/errgroup, the same pattern the teacher uses to
// install/build multiple packages concurrently
// (internal/install.Ctx.Packages, internal/batch.Ctx.Build); per-file diffs
// further parallelize internally through diff's workerpool, while per-file
// patching is sequential.
package vdir

import (
	"bytes"
	"path/filepath"
	"sort"
	"sync"

	"github.com/yatta-sync/yatta"
	"github.com/yatta-sync/yatta/buffer"
	"github.com/yatta-sync/yatta/codec"
	"github.com/yatta-sync/yatta/diff"
	"github.com/yatta-sync/yatta/internal/fsutil"
	"github.com/yatta-sync/yatta/memrange"
	"github.com/yatta-sync/yatta/observer"
	"github.com/yatta-sync/yatta/patch"
	"github.com/yatta-sync/yatta/workerpool"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// VirtualFile is one entry in a VDir: a relative path plus its byte
// payload. RelativePath always uses forward slashes and never starts with a
// separator.
type VirtualFile struct {
	RelativePath string
	Payload      *buffer.Buffer
}

// VDir is an ordered, in-memory model of a directory tree. Files is kept
// sorted lexicographically by RelativePath (Open Question 1 in the design
// notes, resolved in favor of lexicographic order) by every constructor and
// mutator in this package, so Hash and Package are stable across runs.
type VDir struct {
	Files []VirtualFile
}

// New returns an empty VDir.
func New() *VDir {
	return &VDir{}
}

func (v *VDir) sortFiles() {
	sort.Slice(v.Files, func(i, j int) bool { return v.Files[i].RelativePath < v.Files[j].RelativePath })
}

func (v *VDir) indexOf(path string) int {
	for i, f := range v.Files {
		if f.RelativePath == path {
			return i
		}
	}
	return -1
}

// Stats reports aggregate counters for a package/unpackage operation,
// recovered from original_source's DRT::CompressDirectory/DecompressDirectory
// optional byteCount/fileCount out-parameters (expressed here as a return
// value rather than an out pointer, per Go idiom).
type Stats struct {
	Files int
	Bytes int64
}

func statsOf(v *VDir) Stats {
	s := Stats{Files: len(v.Files)}
	for _, f := range v.Files {
		s.Bytes += int64(f.Payload.Size())
	}
	return s
}

// matchesExclusion implements the exclusion rule: case-sensitive exact
// equality of the relative path, or extension equality when the exclusion
// pattern starts with '.'.
func matchesExclusion(relativePath string, exclusions []string) bool {
	for _, excl := range exclusions {
		if excl == "" {
			continue
		}
		if relativePath == excl {
			return true
		}
		if excl[0] == '.' && len(relativePath) >= len(excl) && relativePath[len(relativePath)-len(excl):] == excl {
			return true
		}
	}
	return false
}

// LoadFolder walks the filesystem rooted at root and builds a VDir from
// every regular file whose relative path does not match an exclusion
// pattern.
func LoadFolder(root string, exclusions []string, obs *observer.Observer) (*VDir, error) {
	entries, err := fsutil.Enumerate(root)
	if err != nil {
		return nil, xerrors.Errorf("enumerating %s: %w", root, err)
	}

	v := New()
	for _, e := range entries {
		if matchesExclusion(e.RelativePath, exclusions) {
			continue
		}
		full := filepath.Join(root, filepath.FromSlash(e.RelativePath))
		data, err := fsutil.ReadFile(full)
		if err != nil {
			return nil, xerrors.Errorf("reading %s: %w", full, err)
		}
		v.Files = append(v.Files, VirtualFile{RelativePath: e.RelativePath, Payload: buffer.FromBytes(data)})
		obs.Logf("loaded %s (%d bytes)", e.RelativePath, len(data))
	}
	v.sortFiles()
	return v, nil
}

// StoreFolder writes every entry in v to disk under root, creating parent
// directories as needed.
func (v *VDir) StoreFolder(root string, obs *observer.Observer) error {
	for _, f := range v.Files {
		full := filepath.Join(root, filepath.FromSlash(f.RelativePath))
		if err := fsutil.WriteFile(full, f.Payload.Bytes(), 0o644); err != nil {
			return xerrors.Errorf("writing %s: %w", full, err)
		}
		obs.Logf("stored %s (%d bytes)", f.RelativePath, f.Payload.Size())
	}
	return nil
}

// inferFolderName reproduces original_source's DRT::CompressDirectory
// parent-climbing loop: when root's last path component is empty (root is
// "/" or similarly degenerate), climb parents until a non-empty component
// is found, instead of returning an empty archive name.
func inferFolderName(root string) string {
	cur := filepath.Clean(root)
	for i := 0; i < 64; i++ {
		base := filepath.Base(cur)
		if base != "" && base != "." && base != string(filepath.Separator) {
			return base
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return "root"
}

// Package implements the flat-archive operation: the VDir's entries are
// concatenated in enumeration order into a plain buffer, compressed, and
// framed behind a "yatta package" header carrying the archive's folder
// name. root is consulted only to infer a folder name when folderName is
// empty.
func Package(v *VDir, root, folderName string) (*buffer.Buffer, Stats, error) {
	if folderName == "" {
		folderName = inferFolderName(root)
	}

	flat := buffer.New()
	for _, f := range v.Files {
		path := []byte(f.RelativePath)
		flat.AppendUint64(uint64(len(path)))
		flat.Append(path)
		payload := f.Payload.Bytes()
		flat.AppendUint64(uint64(len(payload)))
		flat.Append(payload)
	}

	out := buffer.New()
	header := make([]byte, yatta.MagicSize)
	copy(header, yatta.MagicPackage)
	out.Append(header)
	name := []byte(folderName)
	out.AppendUint64(uint64(len(name)))
	out.Append(name)

	compressed, err := compressOrEmptyFrame(flat)
	if err != nil {
		return nil, Stats{}, err
	}
	out.Append(compressed.Bytes())
	out.Shrink()
	return out, statsOf(v), nil
}

// Unpackage reverses Package: it verifies the header, decompresses the flat
// archive, and walks its records into a new VDir.
func Unpackage(src memrange.MemoryRange) (*VDir, Stats, error) {
	raw := src.Bytes()
	if len(raw) < yatta.MagicSize+8 {
		return nil, Stats{}, xerrors.Errorf("package frame: %w", yatta.ErrTruncated)
	}
	if err := verifyMagic(raw[:yatta.MagicSize], yatta.MagicPackage); err != nil {
		return nil, Stats{}, err
	}
	nameLen, err := memrange.ReadAs[uint64](src, yatta.MagicSize)
	if err != nil {
		return nil, Stats{}, xerrors.Errorf("reading folder name length: %w", err)
	}
	cursor := yatta.MagicSize + 8 + int(nameLen)
	if cursor > len(raw) {
		return nil, Stats{}, xerrors.Errorf("package frame: %w", yatta.ErrTruncated)
	}

	body, err := src.Slice(cursor, len(raw)-cursor)
	if err != nil {
		return nil, Stats{}, xerrors.Errorf("package body: %w", yatta.ErrTruncated)
	}
	flat, err := codec.Decompress(body)
	if err != nil {
		return nil, Stats{}, err
	}

	v := New()
	r := newCursor(flat.Bytes())
	for !r.done() {
		pathLen, err := r.readUint64()
		if err != nil {
			return nil, Stats{}, err
		}
		path, err := r.readBytes(int(pathLen))
		if err != nil {
			return nil, Stats{}, err
		}
		payloadLen, err := r.readUint64()
		if err != nil {
			return nil, Stats{}, err
		}
		payload, err := r.readBytes(int(payloadLen))
		if err != nil {
			return nil, Stats{}, err
		}
		v.Files = append(v.Files, VirtualFile{RelativePath: string(path), Payload: buffer.FromBytes(payload)})
	}
	v.sortFiles()
	return v, statsOf(v), nil
}

// PatchFileEntry is one record inside a framed "yatta patch" directory
// delta: a relative path, the operation to perform (U/N/D), the hashes the
// apply side uses to gate and verify the operation, and the serialized
// instruction stream a U or N entry replays through patch.Patch.
type PatchFileEntry struct {
	RelativePath string
	Op           byte
	SourceHash   uint64
	TargetHash   uint64
	Instructions []byte
}

// MakeDelta computes the framed "yatta patch" directory delta that
// transforms v into newV: common files whose payload hash differs get a U
// entry, files present only in newV get an N entry, files present only in v
// get a D entry. Per-file diffing fans out across golang.org/x/sync/errgroup,
// with each diff itself parallelized internally by pool.
func MakeDelta(v, newV *VDir, pool *workerpool.Pool) (*buffer.Buffer, error) {
	oldIndex := make(map[string]*VirtualFile, len(v.Files))
	for i := range v.Files {
		oldIndex[v.Files[i].RelativePath] = &v.Files[i]
	}
	newIndex := make(map[string]*VirtualFile, len(newV.Files))
	for i := range newV.Files {
		newIndex[newV.Files[i].RelativePath] = &newV.Files[i]
	}

	var common, added, removed []string
	for path := range oldIndex {
		if _, ok := newIndex[path]; ok {
			common = append(common, path)
		} else {
			removed = append(removed, path)
		}
	}
	for path := range newIndex {
		if _, ok := oldIndex[path]; !ok {
			added = append(added, path)
		}
	}
	sort.Strings(common)
	sort.Strings(added)
	sort.Strings(removed)

	empty := memrange.New(nil)
	var mu sync.Mutex
	var entries []PatchFileEntry
	var eg errgroup.Group

	for _, path := range common {
		path := path
		oldFile, newFile := oldIndex[path], newIndex[path]
		oldHash, newHash := oldFile.Payload.Hash(), newFile.Payload.Hash()
		if oldHash == newHash {
			continue
		}
		eg.Go(func() error {
			d, err := diff.Diff(oldFile.Payload.Range(), newFile.Payload.Range(), pool)
			if err != nil {
				return xerrors.Errorf("diffing %s: %w", path, err)
			}
			mu.Lock()
			entries = append(entries, PatchFileEntry{
				RelativePath: path, Op: yatta.OpUpdate,
				SourceHash: oldHash, TargetHash: newHash,
				Instructions: d.Bytes(),
			})
			mu.Unlock()
			return nil
		})
	}
	for _, path := range added {
		path := path
		newFile := newIndex[path]
		eg.Go(func() error {
			var d *buffer.Buffer
			if newFile.Payload.Empty() {
				// diff.Diff rejects an (empty, empty) pair outright; an
				// added zero-byte file needs no instructions at all.
				d = emptyDiffFrame()
			} else {
				var err error
				d, err = diff.Diff(empty, newFile.Payload.Range(), pool)
				if err != nil {
					return xerrors.Errorf("diffing %s: %w", path, err)
				}
			}
			mu.Lock()
			entries = append(entries, PatchFileEntry{
				RelativePath: path, Op: yatta.OpNew,
				SourceHash: memrange.New(nil).Hash(), TargetHash: newFile.Payload.Hash(),
				Instructions: d.Bytes(),
			})
			mu.Unlock()
			return nil
		})
	}
	for _, path := range removed {
		oldFile := oldIndex[path]
		mu.Lock()
		entries = append(entries, PatchFileEntry{
			RelativePath: path, Op: yatta.OpDelete,
			SourceHash: oldFile.Payload.Hash(), TargetHash: memrange.New(nil).Hash(),
		})
		mu.Unlock()
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Op != entries[j].Op {
			return opOrder(entries[i].Op) < opOrder(entries[j].Op)
		}
		return entries[i].RelativePath < entries[j].RelativePath
	})

	body := buffer.New()
	for _, e := range entries {
		encodeEntry(body, e)
	}
	compressed, err := compressOrEmptyFrame(body)
	if err != nil {
		return nil, err
	}

	out := buffer.New()
	header := make([]byte, yatta.MagicSize)
	copy(header, yatta.MagicPatch)
	out.Append(header)
	out.AppendUint64(uint64(len(entries)))
	out.Append(compressed.Bytes())
	out.Shrink()
	return out, nil
}

func opOrder(op byte) int {
	switch op {
	case yatta.OpUpdate:
		return 0
	case yatta.OpNew:
		return 1
	default:
		return 2
	}
}

func encodeEntry(dst *buffer.Buffer, e PatchFileEntry) {
	path := []byte(e.RelativePath)
	dst.AppendUint64(uint64(len(path)))
	dst.Append(path)
	dst.Append([]byte{e.Op})
	dst.AppendUint64(e.SourceHash)
	dst.AppendUint64(e.TargetHash)
	dst.AppendUint64(uint64(len(e.Instructions)))
	dst.Append(e.Instructions)
}

func decodeEntry(r *cursor) (PatchFileEntry, error) {
	var e PatchFileEntry
	pathLen, err := r.readUint64()
	if err != nil {
		return e, err
	}
	path, err := r.readBytes(int(pathLen))
	if err != nil {
		return e, err
	}
	opByte, err := r.readByte()
	if err != nil {
		return e, err
	}
	sourceHash, err := r.readUint64()
	if err != nil {
		return e, err
	}
	targetHash, err := r.readUint64()
	if err != nil {
		return e, err
	}
	instrLen, err := r.readUint64()
	if err != nil {
		return e, err
	}
	instructions, err := r.readBytes(int(instrLen))
	if err != nil {
		return e, err
	}
	e.RelativePath = string(path)
	e.Op = opByte
	e.SourceHash = sourceHash
	e.TargetHash = targetHash
	e.Instructions = instructions
	return e, nil
}

// SkipNote records an idempotent apply branch: a U entry already at its
// target hash, an N entry already present with the target's hash, or a D
// entry already absent. Callers can inspect this even without an observer
// attached, per the spec's requirement that apply_delta return an
// aggregate result.
type SkipNote struct {
	RelativePath string
	Reason       string
}

// ApplyResult aggregates the outcome of ApplyDelta: how many entries
// actually mutated the VDir/filesystem, and which entries were skipped as
// already applied.
type ApplyResult struct {
	EntriesApplied int
	Skipped        []SkipNote
}

// ApplyDelta applies a framed "yatta patch" directory delta produced by
// MakeDelta to v in place, writing changes under root. Entries are applied
// in three passes — all U, then all N, then all D — per the ordering
// guarantee that after a successful call v's relative-path set equals
// (old ∪ added) \ removed. Per-entry application fans out across
// golang.org/x/sync/errgroup within each pass; a version or hash mismatch
// does not stop the other entries of that pass, which all still run, but
// the first error is returned once the pass finishes and the later passes
// are skipped, leaving v reflecting whichever entries had succeeded.
func (v *VDir) ApplyDelta(diffSrc memrange.MemoryRange, root string, obs *observer.Observer) (*ApplyResult, error) {
	raw := diffSrc.Bytes()
	if len(raw) < yatta.MagicSize+8 {
		return nil, xerrors.Errorf("patch frame: %w", yatta.ErrTruncated)
	}
	if err := verifyMagic(raw[:yatta.MagicSize], yatta.MagicPatch); err != nil {
		return nil, err
	}
	entryCount, err := memrange.ReadAs[uint64](diffSrc, yatta.MagicSize)
	if err != nil {
		return nil, xerrors.Errorf("reading entry count: %w", err)
	}

	body, err := diffSrc.Slice(yatta.MagicSize+8, len(raw)-(yatta.MagicSize+8))
	if err != nil {
		return nil, xerrors.Errorf("patch body: %w", yatta.ErrTruncated)
	}
	decompressed, err := codec.Decompress(body)
	if err != nil {
		return nil, err
	}

	r := newCursor(decompressed.Bytes())
	entries := make([]PatchFileEntry, 0, entryCount)
	for i := uint64(0); i < entryCount; i++ {
		e, err := decodeEntry(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	result := &ApplyResult{}
	defer v.sortFiles()
	var resultMu sync.Mutex
	// filesMu guards every read and write of v.Files across concurrently
	// running apply goroutines; patch.Patch and the on-disk write happen
	// outside it so the expensive CPU/IO work still overlaps across files.
	var filesMu sync.Mutex

	runPass := func(op byte, apply func(PatchFileEntry) (skipped bool, reason string, err error)) error {
		var eg errgroup.Group
		for _, e := range entries {
			if e.Op != op {
				continue
			}
			e := e
			eg.Go(func() error {
				skipped, reason, err := apply(e)
				if err != nil {
					return xerrors.Errorf("applying %c %s: %w", e.Op, e.RelativePath, err)
				}
				resultMu.Lock()
				if skipped {
					result.Skipped = append(result.Skipped, SkipNote{RelativePath: e.RelativePath, Reason: reason})
					obs.Logf("%s: %s", e.RelativePath, reason)
				} else {
					result.EntriesApplied++
					obs.Logf("applied %c %s", e.Op, e.RelativePath)
				}
				resultMu.Unlock()
				return nil
			})
		}
		return eg.Wait()
	}

	if err := runPass(yatta.OpUpdate, func(e PatchFileEntry) (bool, string, error) {
		return v.applyUpdate(e, root, &filesMu)
	}); err != nil {
		return result, err
	}
	if err := runPass(yatta.OpNew, func(e PatchFileEntry) (bool, string, error) {
		return v.applyNew(e, root, &filesMu)
	}); err != nil {
		return result, err
	}
	if err := runPass(yatta.OpDelete, func(e PatchFileEntry) (bool, string, error) {
		return v.applyDelete(e, root, &filesMu)
	}); err != nil {
		return result, err
	}

	return result, nil
}

func (v *VDir) applyUpdate(e PatchFileEntry, root string, mu *sync.Mutex) (skipped bool, reason string, err error) {
	mu.Lock()
	idx := v.indexOf(e.RelativePath)
	if idx == -1 {
		mu.Unlock()
		return false, "", xerrors.Errorf("%s: %w", e.RelativePath, yatta.ErrFileMissing)
	}
	oldPayload := v.Files[idx].Payload
	current := oldPayload.Hash()
	if current == e.TargetHash {
		mu.Unlock()
		return true, "already up to date", nil
	}
	if current != e.SourceHash {
		mu.Unlock()
		return false, "", xerrors.Errorf("%s: current hash %x != expected %x: %w", e.RelativePath, current, e.SourceHash, yatta.ErrVersionMismatch)
	}
	mu.Unlock()

	diffRange := memrange.New(e.Instructions)
	newPayload, err := patch.Patch(oldPayload.Range(), diffRange)
	if err != nil {
		return false, "", err
	}
	if got := newPayload.Hash(); got != e.TargetHash {
		return false, "", xerrors.Errorf("%s: result hash %x != expected %x: %w", e.RelativePath, got, e.TargetHash, yatta.ErrHashMismatch)
	}

	full := filepath.Join(root, filepath.FromSlash(e.RelativePath))
	if err := fsutil.WriteFile(full, newPayload.Bytes(), 0o644); err != nil {
		return false, "", err
	}

	mu.Lock()
	v.Files[idx].Payload = newPayload
	mu.Unlock()
	return false, "", nil
}

func (v *VDir) applyNew(e PatchFileEntry, root string, mu *sync.Mutex) (skipped bool, reason string, err error) {
	mu.Lock()
	if idx := v.indexOf(e.RelativePath); idx != -1 && v.Files[idx].Payload.Hash() == e.TargetHash {
		mu.Unlock()
		return true, "already up to date", nil
	}
	mu.Unlock()

	diffRange := memrange.New(e.Instructions)
	newPayload, err := patch.Patch(memrange.New(nil), diffRange)
	if err != nil {
		return false, "", err
	}
	if got := newPayload.Hash(); got != e.TargetHash {
		return false, "", xerrors.Errorf("%s: result hash %x != expected %x: %w", e.RelativePath, got, e.TargetHash, yatta.ErrHashMismatch)
	}

	full := filepath.Join(root, filepath.FromSlash(e.RelativePath))
	if err := fsutil.WriteFile(full, newPayload.Bytes(), 0o644); err != nil {
		return false, "", err
	}

	mu.Lock()
	v.Files = append(v.Files, VirtualFile{RelativePath: e.RelativePath, Payload: newPayload})
	mu.Unlock()
	return false, "", nil
}

func (v *VDir) applyDelete(e PatchFileEntry, root string, mu *sync.Mutex) (skipped bool, reason string, err error) {
	mu.Lock()
	defer mu.Unlock()
	idx := v.indexOf(e.RelativePath)
	if idx == -1 {
		return true, "already absent", nil
	}
	if v.Files[idx].Payload.Hash() != e.SourceHash {
		return false, "", xerrors.Errorf("%s: current hash != expected source hash: %w", e.RelativePath, yatta.ErrVersionMismatch)
	}

	full := filepath.Join(root, filepath.FromSlash(e.RelativePath))
	if err := fsutil.RemoveFile(full); err != nil {
		return false, "", err
	}
	v.Files = append(v.Files[:idx], v.Files[idx+1:]...)
	return false, "", nil
}

// compressOrEmptyFrame compresses body, except that codec.Compress rejects
// empty input (ErrEmptyInput) while an empty package/delta body is
// otherwise legitimate (a zero-file directory, or a delta with no changes).
// For that case it builds the "yatta compress" frame for a zero-length
// payload directly: codec.Decompress only reads as many bytes as the
// declared uncompressed size, so an absent lz4 payload behind a
// zero-uncompressed-size header is a valid frame, not a truncated one.
func compressOrEmptyFrame(body *buffer.Buffer) (*buffer.Buffer, error) {
	if !body.Empty() {
		return codec.Compress(body.Range())
	}
	out := buffer.New()
	header := make([]byte, yatta.MagicSize)
	copy(header, yatta.MagicCompress)
	out.Append(header)
	out.AppendUint64(0)
	return out, nil
}

// emptyDiffFrame builds a framed "yatta diff" artifact for the degenerate
// case of an empty source patched to an empty target: zero instructions,
// target size zero. patch.Patch on this frame returns a zero-length buffer
// unconditionally.
func emptyDiffFrame() *buffer.Buffer {
	compressed, _ := compressOrEmptyFrame(buffer.New())
	out := buffer.New()
	header := make([]byte, yatta.MagicSize)
	copy(header, yatta.MagicDiff)
	out.Append(header)
	out.AppendUint64(0)
	out.Append(compressed.Bytes())
	out.Shrink()
	return out
}

func verifyMagic(header []byte, want string) error {
	nul := bytes.IndexByte(header, 0)
	if nul == -1 {
		nul = len(header)
	}
	if string(header[:nul]) != want {
		return xerrors.Errorf("magic %q != %q: %w", header[:nul], want, yatta.ErrBadMagic)
	}
	return nil
}

// cursor is a minimal forward-only byte reader used to decode the flat
// package and directory-patch streams, mirroring instruction.byteReader's
// role for the instruction stream.
type cursor struct {
	data []byte
	pos  int
}

func newCursor(data []byte) *cursor { return &cursor{data: data} }

func (c *cursor) done() bool { return c.pos >= len(c.data) }

func (c *cursor) readByte() (byte, error) {
	if c.pos+1 > len(c.data) {
		return 0, xerrors.Errorf("reading byte at %d: %w", c.pos, yatta.ErrTruncated)
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) readUint64() (uint64, error) {
	v, err := c.readBytes(8)
	if err != nil {
		return 0, err
	}
	r := memrange.New(v)
	return memrange.ReadAs[uint64](r, 0)
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.data) {
		return nil, xerrors.Errorf("reading %d bytes at %d: %w", n, c.pos, yatta.ErrTruncated)
	}
	out := c.data[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}
