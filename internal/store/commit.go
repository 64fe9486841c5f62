package store

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dart-isr/donor-geo/internal/match"
	"github.com/dart-isr/donor-geo/internal/model"
	"github.com/dart-isr/donor-geo/internal/partition"
)

// Output describes everything a run writes. Zero-valued parts are skipped:
// a nil Dataset leaves the master alone, an empty LayersDir skips layers and
// an empty ReviewPath skips the review file.
type Output struct {
	MasterPath string
	Dataset    *model.MasterDataset

	LayersDir string
	Layers    partition.Layers
	Formats   []string

	ReviewPath string
	Ambiguous  []match.AmbiguousMatchError
}

// Staged holds outputs written to temporary locations beside their targets.
type Staged struct {
	out Output

	masterTmp  string
	layersTmp  string
	reviewTmp  string
	LayerFiles []string
}

// Stage writes every output to a temporary sibling of its final path. On
// error the partial files are removed and nothing visible has changed.
func Stage(out Output) (*Staged, error) {
	s := &Staged{out: out}

	if out.Dataset != nil {
		tmp, err := stageFile(out.MasterPath, func(w *bufio.Writer) error {
			return WriteMaster(w, out.Dataset)
		})
		if err != nil {
			s.Abort()
			return nil, persistErr("stage master", out.MasterPath, err)
		}
		s.masterTmp = tmp
	}

	if out.LayersDir != "" {
		parent := filepath.Dir(filepath.Clean(out.LayersDir))
		if err := os.MkdirAll(parent, 0o755); err != nil {
			s.Abort()
			return nil, persistErr("stage layers", out.LayersDir, err)
		}
		tmp, err := os.MkdirTemp(parent, filepath.Base(out.LayersDir)+".staging-*")
		if err != nil {
			s.Abort()
			return nil, persistErr("stage layers", out.LayersDir, err)
		}
		s.layersTmp = tmp
		files, err := WriteLayers(tmp, out.Layers, out.Formats)
		if err != nil {
			s.Abort()
			return nil, persistErr("stage layers", out.LayersDir, err)
		}
		s.LayerFiles = files
	}

	if out.ReviewPath != "" {
		tmp, err := stageFile(out.ReviewPath, func(w *bufio.Writer) error {
			return WriteReview(w, out.Ambiguous)
		})
		if err != nil {
			s.Abort()
			return nil, persistErr("stage review", out.ReviewPath, err)
		}
		s.reviewTmp = tmp
	}
	return s, nil
}

// Commit renames the staged outputs into place: master first, then the
// layers directory swap, then the review file. The master is the source of
// truth; layers can always be rebuilt from it.
func (s *Staged) Commit() error {
	if s.masterTmp != "" {
		if err := os.Rename(s.masterTmp, s.out.MasterPath); err != nil {
			s.Abort()
			return persistErr("commit master", s.out.MasterPath, err)
		}
		s.masterTmp = ""
	}

	if s.layersTmp != "" {
		if err := swapDir(s.layersTmp, s.out.LayersDir); err != nil {
			s.Abort()
			return persistErr("commit layers", s.out.LayersDir, err)
		}
		s.layersTmp = ""
	}

	if s.reviewTmp != "" {
		if err := os.Rename(s.reviewTmp, s.out.ReviewPath); err != nil {
			s.Abort()
			return persistErr("commit review", s.out.ReviewPath, err)
		}
		s.reviewTmp = ""
	}
	return nil
}

// Abort removes whatever is still staged. It is safe to call more than once.
func (s *Staged) Abort() {
	for _, p := range []*string{&s.masterTmp, &s.reviewTmp} {
		if *p != "" {
			if err := os.Remove(*p); err != nil && !errors.Is(err, os.ErrNotExist) {
				zap.L().Warn("store: remove staged file", zap.String("path", *p), zap.Error(err))
			}
			*p = ""
		}
	}
	if s.layersTmp != "" {
		if err := os.RemoveAll(s.layersTmp); err != nil {
			zap.L().Warn("store: remove staged layers", zap.String("path", s.layersTmp), zap.Error(err))
		}
		s.layersTmp = ""
	}
}

// stageFile writes a temporary file in target's directory and returns its path.
func stageFile(target string, fill func(w *bufio.Writer) error) (string, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	_ = f.Close()

	if err := writeFile(tmp, fill); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// swapDir replaces dst with src. An existing dst is moved aside first and
// restored if the final rename fails.
func swapDir(src, dst string) error {
	old := ""
	if _, err := os.Stat(dst); err == nil {
		old = dst + ".old-" + strconv.FormatInt(time.Now().UnixNano(), 36)
		if err := os.Rename(dst, old); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.Rename(src, dst); err != nil {
		if old != "" {
			if rerr := os.Rename(old, dst); rerr != nil {
				zap.L().Error("store: restore previous layers failed",
					zap.String("path", old), zap.Error(rerr))
			}
		}
		return err
	}

	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			zap.L().Warn("store: remove previous layers", zap.String("path", old), zap.Error(err))
		}
	}
	return nil
}
