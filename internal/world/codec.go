package world

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vcworld/vcworld/internal/data"
	"go.uber.org/zap"
)

// Record is the persisted form of an entity.
type Record struct {
	X     float32
	Y     float32
	Attrs data.Attributes
}

// Save writes the index as a whitespace-delimited text stream: the entity
// count, then x, y and every attribute of each entity, one value per line,
// in traversal order with each cell newest first.
func Save(w io.Writer, idx *Index) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 32)

	buf = strconv.AppendInt(buf, int64(idx.Count()), 10)
	buf = append(buf, '\n')
	if _, err := bw.Write(buf); err != nil {
		return fmt.Errorf("%w: write count: %w", ErrIOFailure, err)
	}

	var werr error
	idx.Each(func(e *Entity) bool {
		buf = appendRecord(buf[:0], e.x, e.y, &e.attrs)
		_, werr = bw.Write(buf)
		return werr == nil
	})
	if werr != nil {
		return fmt.Errorf("%w: write record: %w", ErrIOFailure, werr)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %w", ErrIOFailure, err)
	}
	return nil
}

func appendRecord(buf []byte, x, y float32, attrs *data.Attributes) []byte {
	// Six decimals; coordinates are not round-tripped exactly.
	buf = strconv.AppendFloat(buf, float64(x), 'f', 6, 32)
	buf = append(buf, '\n')
	buf = strconv.AppendFloat(buf, float64(y), 'f', 6, 32)
	buf = append(buf, '\n')
	for _, v := range attrs {
		buf = strconv.AppendInt(buf, int64(v), 10)
		buf = append(buf, '\n')
	}
	return buf
}

// ReadRecords parses a stream written by Save. On malformed or truncated
// input it returns the records read so far together with an error.
func ReadRecords(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	next := func(what string) (string, error) {
		if sc.Scan() {
			return sc.Text(), nil
		}
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("%w: read %s: %w", ErrIOFailure, what, err)
		}
		return "", fmt.Errorf("%w: read %s: %w", ErrIOFailure, what, io.ErrUnexpectedEOF)
	}

	tok, err := next("count")
	if err != nil {
		return nil, err
	}
	count, err := strconv.ParseInt(tok, 10, 32)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: bad entity count %q", ErrIOFailure, tok)
	}

	out := make([]Record, 0, min(int(count), 1<<16))
	for i := 0; i < int(count); i++ {
		rec, err := readRecord(next)
		if err != nil {
			return out, fmt.Errorf("record %d of %d: %w", i, count, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func readRecord(next func(string) (string, error)) (Record, error) {
	var rec Record
	for i, dst := range []*float32{&rec.X, &rec.Y} {
		tok, err := next("position")
		if err != nil {
			return rec, err
		}
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return rec, fmt.Errorf("%w: bad coordinate %d %q", ErrIOFailure, i, tok)
		}
		*dst = float32(v)
	}
	for a := range rec.Attrs {
		tok, err := next("attribute")
		if err != nil {
			return rec, err
		}
		v, err := strconv.ParseInt(tok, 10, 32)
		if err != nil {
			return rec, fmt.Errorf("%w: bad attribute %s %q", ErrIOFailure, data.Attribute(a), tok)
		}
		rec.Attrs[a] = int32(v)
	}
	return rec, nil
}

// Restore creates an entity per record and inserts it with stacking.
// Records are replayed last to first: since a stacking insert pushes the new
// entity on top of its cell and a fresh cell at the front of the traversal
// list, the replay rebuilds both orders exactly as Save wrote them.
// Entities whose insert fails are released. Restore returns the number of
// entities inserted.
func Restore(idx *Index, records []Record) int {
	n := 0
	for i := len(records) - 1; i >= 0; i-- {
		rec := &records[i]
		e := idx.arena.CreateWith(rec.X, rec.Y, rec.Attrs)
		if err := idx.insert(e, true); err != nil {
			idx.log.Debug("dropped record on restore",
				zap.Float32("x", rec.X), zap.Float32("y", rec.Y), zap.Error(err))
			_ = idx.arena.Release(e.id)
			continue
		}
		n++
	}
	return n
}

// Load reads a stream written by Save into idx and returns the number of
// entities inserted. A malformed stream still restores every complete
// record before the damage and reports an error wrapping ErrIOFailure.
func Load(r io.Reader, idx *Index) (int, error) {
	records, err := ReadRecords(r)
	n := Restore(idx, records)
	return n, err
}

// SaveFile writes the index to path through a temporary file, so a failed
// save leaves any previous file intact.
func SaveFile(path string, idx *Index) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrIOFailure, path, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err := Save(f, idx); err != nil {
		return err
	}
	if err := f.Chmod(fileMode(path)); err != nil {
		return fmt.Errorf("%w: chmod %s: %w", ErrIOFailure, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIOFailure, path, err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("%w: rename %s: %w", ErrIOFailure, path, err)
	}
	return nil
}

// fileMode keeps the permissions of an existing world file; new files are
// world-readable.
func fileMode(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}

// LoadFile loads the world file at path into idx. A missing file is
// reported with an error matching both ErrIOFailure and os.ErrNotExist.
func LoadFile(path string, idx *Index) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %w", ErrIOFailure, path, err)
	}
	defer f.Close()

	n, err := Load(f, idx)
	if err != nil {
		return n, fmt.Errorf("load %s: %w", path, err)
	}
	return n, nil
}
