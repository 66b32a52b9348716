// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

// Mode selects how an Archive is opened, mirroring libzip2.py's ZipFile
// mode argument, per spec.md §5.
type Mode byte

const (
	ModeRead      Mode = 'r'
	ModeWrite     Mode = 'w'
	ModeExclusive Mode = 'x'
	ModeAppend    Mode = 'a'
)

// Options configures an Archive's defaults, generalizing the teacher's
// Template into a mutable session instead of a one-shot batch build, per
// spec.md §5's ambient configuration surface.
type Options struct {
	// Compression is the default CompressType for new members that don't
	// set one explicitly.
	Compression uint16

	// CompressLevel is the default level hint passed to the compressor.
	CompressLevel *int

	// AllowZip64 permits promoting a member or the archive trailer to
	// ZIP64 when a 32-bit field would overflow. Disabled structures that
	// need it fail with ErrLargeZipFile.
	AllowZip64 bool

	// StrictTimestamps disables the 1980/2107 clamping FromFileInfo
	// otherwise applies.
	StrictTimestamps bool

	// MetadataEncoding selects the decoder used for names/comments that
	// don't carry the UTF-8 flag bit. Empty means CP-437.
	MetadataEncoding string
}

// Archive is an open ZIP container: a catalog of entries plus, depending
// on Mode, a readable or writable (or both, for append) underlying file,
// per spec.md §5.
type Archive struct {
	mu sync.Mutex

	mode     Mode
	file     *os.File
	ownFile  bool
	source   *sharedSource
	cat      *catalog
	comment  []byte
	opts     Options
	closed   bool
	warnings []string

	// cdStart is where the next Close call should begin writing the
	// central directory: the current end of member data.
	cdStart int64
}

// Open opens an existing archive for reading, per spec.md §5's mode "r".
func Open(name string, opts Options) (*Archive, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ar, err := openRead(f, true, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return ar, nil
}

// OpenReader opens an already-open file for reading without taking
// ownership of it, matching libzip2.py's ability to wrap a caller-owned
// file-like object.
func OpenReader(f *os.File, opts Options) (*Archive, error) {
	return openRead(f, false, opts)
}

func openRead(f *os.File, own bool, opts Options) (*Archive, error) {
	rec, err := findEndRecord(f)
	if err != nil {
		return nil, err
	}
	cat, _, err := loadCatalog(f, rec, opts.MetadataEncoding)
	if err != nil {
		return nil, err
	}
	ar := &Archive{
		mode:     ModeRead,
		file:     f,
		ownFile:  own,
		cat:      cat,
		comment:  rec.comment,
		opts:     opts,
		warnings: cat.duplicateWarnings,
	}
	ar.source = newSharedSource(f, func() error {
		if own {
			return f.Close()
		}
		return nil
	})
	// The archive holds its own reference, dropped by Close, so closing a
	// member view never closes the file under the archive.
	ar.source.acquireRead()
	return ar, nil
}

// Create opens a new archive for writing, truncating any existing file,
// per spec.md §5's mode "w".
func Create(name string, opts Options) (*Archive, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}
	return newWriteArchive(f, opts), nil
}

// CreateExclusive opens a new archive, failing if the file already
// exists, per spec.md §5's mode "x".
func CreateExclusive(name string, opts Options) (*Archive, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return newWriteArchive(f, opts), nil
}

func newWriteArchive(f *os.File, opts Options) *Archive {
	ar := &Archive{mode: ModeWrite, file: f, ownFile: true, cat: newCatalog(), opts: opts}
	// Writable archives close the file themselves in Close, so releasing a
	// member writer or reader never closes it.
	ar.source = newSharedSource(f, nil)
	return ar
}

// OpenAppend opens an archive for appending, per spec.md §5's mode "a": if
// the file already holds a valid catalog, new members are written
// starting at the old central directory's offset, overwriting it; the
// trailer is rewritten on Close. An empty or missing file behaves like
// Create.
func OpenAppend(name string, opts Options) (*Archive, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	ar := &Archive{mode: ModeAppend, file: f, ownFile: true, opts: opts}
	if info.Size() == 0 {
		ar.cat = newCatalog()
		ar.source = newSharedSource(f, nil)
		return ar, nil
	}

	rec, err := findEndRecord(f)
	if err != nil {
		// Not a zip file: per libzip2.py's ZipFile.__init__, mode "a"
		// tolerates this by starting an empty catalog at the file's
		// current end rather than failing.
		ar.cat = newCatalog()
		ar.cdStart = info.Size()
		ar.source = newSharedSource(f, nil)
		return ar, nil
	}
	cat, cdOffset, err := loadCatalog(f, rec, opts.MetadataEncoding)
	if err != nil {
		f.Close()
		return nil, err
	}
	ar.cat = cat
	ar.comment = rec.comment
	ar.cdStart = cdOffset
	ar.warnings = cat.duplicateWarnings
	ar.source = newSharedSource(f, nil)
	if _, err := f.Seek(cdOffset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return ar, nil
}

// Entries returns the archive's members in central-directory order.
func (ar *Archive) Entries() []*Entry {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	out := make([]*Entry, len(ar.cat.entries))
	copy(out, ar.cat.entries)
	return out
}

// Info looks up a member by name.
func (ar *Archive) Info(name string) (*Entry, bool) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	e, ok := ar.cat.byName[name]
	return e, ok
}

// Comment returns the archive-level comment.
func (ar *Archive) Comment() []byte {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.comment
}

// SetComment sets the archive-level comment, truncating and recording a
// warning if it exceeds 65535 bytes, per spec.md §5.
func (ar *Archive) SetComment(c []byte) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if len(c) > uint16max {
		ar.warnings = append(ar.warnings, "archive comment truncated to 65535 bytes")
		c = c[:uint16max]
	}
	ar.comment = c
}

// Warnings returns non-fatal messages collected while loading or writing
// the archive (duplicate names, truncated comments), standing in for
// libzip2.py's warnings.warn calls, per spec.md §9.
func (ar *Archive) Warnings() []string {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.warnings
}

// localDataOffset reads e's local file header to compute where its
// compressed data begins, validating the signature against the central
// directory's record and that the local name agrees with the central
// directory's OriginalName, per spec.md §4.2/§4.5/§4.6: a disagreement is
// fatal, matching libzip2.py's open() name-consistency check.
func (ar *Archive) localDataOffset(e *Entry) (int64, error) {
	sec := ar.source.newSection(int64(e.HeaderOffset), fileHeaderLen+int64(uint16max)*2)
	fixed := make([]byte, fileHeaderLen)
	if _, err := io.ReadFull(sec, fixed); err != nil {
		return 0, newBadZipFile("truncated local file header")
	}
	if !bytesEqual(fixed[0:4], 'P', 'K', 0x03, 0x04) {
		return 0, newBadZipFile("bad magic number for file header")
	}
	nameLen := int(uint16(fixed[26]) | uint16(fixed[27])<<8)
	extraLen := int(uint16(fixed[28]) | uint16(fixed[29])<<8)

	rawName := make([]byte, nameLen)
	if _, err := io.ReadFull(sec, rawName); err != nil {
		return 0, newBadZipFile("truncated local file header")
	}
	var localName string
	if e.Flags&flagUTF8 != 0 {
		localName = string(rawName)
	} else {
		localName = decodeMetadataName(rawName, ar.opts.MetadataEncoding)
	}
	if localName != e.OriginalName {
		return 0, newBadZipFile("local file header name does not match central directory for " + e.Name)
	}

	return int64(e.HeaderOffset) + fileHeaderLen + int64(nameLen) + int64(extraLen), nil
}

// OpenMember opens a member for streaming/seekable read, per spec.md §4.6.
// password is ignored unless the entry is encrypted.
func (ar *Archive) OpenMember(name string, password []byte) (io.ReadSeekCloser, error) {
	ar.mu.Lock()
	e, ok := ar.cat.byName[name]
	ar.mu.Unlock()
	if !ok {
		return nil, newInvalidArgument("no such member: " + name)
	}
	if err := ar.source.acquireRead(); err != nil {
		return nil, err
	}
	dataStart, err := ar.localDataOffset(e)
	if err != nil {
		ar.source.release(false)
		return nil, err
	}
	rs, err := openReadStream(ar.source, e, dataStart, password)
	if err != nil {
		ar.source.release(false)
		return nil, err
	}
	return &memberReadCloser{rs: rs}, nil
}

type memberReadCloser struct {
	rs *readStream
}

func (m *memberReadCloser) Read(p []byte) (int, error)         { return m.rs.Read(p) }
func (m *memberReadCloser) Seek(o int64, w int) (int64, error) { return m.rs.Seek(o, w) }
func (m *memberReadCloser) Close() error                       { return m.rs.Close() }

// Peek returns the next n decompressed bytes without consuming them, per
// spec.md §4.5/§9's buffered-lookahead supplement.
func (m *memberReadCloser) Peek(n int) ([]byte, error) { return m.rs.Peek(n) }

// CreateMember opens e for writing, appending it to the catalog once
// closed, per spec.md §4.8. The archive must be in a write-capable mode.
func (ar *Archive) CreateMember(e *Entry) (io.WriteCloser, error) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.mode == ModeRead {
		return nil, newInvalidArgument("archive is not open for writing")
	}
	if e.CompressType == 0 && ar.opts.Compression != 0 {
		e.CompressType = ar.opts.Compression
	}
	if e.CompressLevel == nil {
		e.CompressLevel = ar.opts.CompressLevel
	}
	if err := ar.source.acquireWrite(); err != nil {
		return nil, err
	}
	if _, err := ar.file.Seek(ar.cdStart, io.SeekStart); err != nil {
		ar.source.release(true)
		return nil, err
	}
	ws, err := openWriteStream(ar.file, e, ar.opts.AllowZip64, e.ForceZip64,
		func(fin *Entry) {
			ar.mu.Lock()
			if _, dup := ar.cat.byName[fin.Name]; dup {
				ar.warnings = append(ar.warnings, "duplicate name: "+fin.Name)
			}
			ar.cat.add(fin)
			ar.mu.Unlock()
		},
		func() error {
			pos, err := ar.file.Seek(0, io.SeekCurrent)
			ar.mu.Lock()
			if err == nil {
				ar.cdStart = pos
			}
			ar.mu.Unlock()
			return ar.source.release(true)
		})
	if err != nil {
		ar.source.release(true)
		return nil, err
	}
	return ws, nil
}

// Write copies the contents of the file at diskPath into the archive
// under arcname (or the file's base name if arcname is empty), carrying
// over its mode and modification time, per spec.md §9's supplemented
// "Write" convenience matching libzip2.py's ZipFile.write.
func (ar *Archive) Write(diskPath, arcname string) error {
	f, err := os.Open(diskPath)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	e := FromFileInfo(fi, ar.opts.StrictTimestamps)
	if arcname != "" {
		e.OriginalName = arcname
		e.Name = normalizeName(arcname)
		if fi.IsDir() && !strings.HasSuffix(e.Name, "/") {
			e.Name += "/"
		}
	}
	w, err := ar.CreateMember(e)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		if _, err := io.Copy(w, f); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// MkDir records a directory member, validating before mutating the
// catalog so a bad name never leaves a partial entry behind — a
// correction from libzip2.py, which appends to its file list before
// checking writability.
func (ar *Archive) MkDir(name string, mode os.FileMode) error {
	if ar.mode == ModeRead {
		return newInvalidArgument("archive is not open for writing")
	}
	if name == "" {
		return newInvalidArgument("empty directory name")
	}
	e := NewEntry(name)
	if !strings.HasSuffix(e.Name, "/") {
		e.Name += "/"
		e.OriginalName = e.Name
	}
	e.SetMode(mode | os.ModeDir)
	w, err := ar.CreateMember(e)
	if err != nil {
		return err
	}
	return w.Close()
}

// ExtractAll extracts members into dir, restricted to the given names, or
// every member when names is nil. Each name is cleaned as a rooted path
// before it is joined to dir, so leading "/" and ".." elements are dropped
// and no member is written outside dir; full path-traversal hardening is
// out of scope per spec.md §9's Non-goals.
func (ar *Archive) ExtractAll(dir string, names []string) error {
	return ar.ExtractAllWithPassword(dir, names, nil)
}

// ExtractAllWithPassword is ExtractAll, but supplies password to every
// legacy-encrypted member it extracts.
func (ar *Archive) ExtractAllWithPassword(dir string, names []string, password []byte) error {
	ar.mu.Lock()
	all := ar.cat.entries
	byName := ar.cat.byName
	ar.mu.Unlock()

	var targets []*Entry
	if names == nil {
		targets = all
	} else {
		for _, n := range names {
			e, ok := byName[n]
			if !ok {
				return newInvalidArgument("no such member: " + n)
			}
			targets = append(targets, e)
		}
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].HeaderOffset < targets[j].HeaderOffset })

	for _, e := range targets {
		if err := ar.extractOne(dir, e, password); err != nil {
			return err
		}
	}
	return nil
}

func (ar *Archive) extractOne(dir string, e *Entry, password []byte) error {
	clean := path.Clean("/" + e.Name)[1:]
	if clean == "" || clean == "." {
		return nil
	}
	target := path.Join(dir, clean)

	if e.IsDir() {
		return os.MkdirAll(target, 0777)
	}
	if err := os.MkdirAll(path.Dir(target), 0777); err != nil {
		return err
	}
	r, err := ar.OpenMember(e.Name, password)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, e.Mode().Perm())
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

// Close commits the central directory (and, if needed, the ZIP64 end
// record and locator) followed by the classic end-of-central-directory
// record, then releases the underlying file, per spec.md §4.8/§5.
func (ar *Archive) Close() error {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.closed {
		return nil
	}
	ar.closed = true

	if ar.mode == ModeRead {
		return ar.source.release(false)
	}

	if _, err := ar.file.Seek(ar.cdStart, io.SeekStart); err != nil {
		return err
	}
	if err := writeCentralDirectoryAndEnd(ar.file, ar.cdStart, ar.cat.entries, ar.comment, ar.opts.AllowZip64); err != nil {
		return err
	}
	pos, err := ar.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := ar.file.Truncate(pos); err != nil {
		return err
	}
	return ar.file.Close()
}
