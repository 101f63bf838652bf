package schedule

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"schedsync/internal/fsutil"
	appLog "schedsync/internal/log"
)

// Reference image file names inside DataDir.
const (
	MondayTimesFile = "mondayTimes.jpg"
	OtherTimesFile  = "otherTimes.jpg"
)

// TimesPath returns where the reference image name is stored.
func (r *Repository) TimesPath(name string) string {
	return filepath.Join(r.opts.DataDir, name)
}

// UpdateReferenceTimes downloads the two class-period images. With
// do_not_update_times set and both images present it keeps them.
func (r *Repository) UpdateReferenceTimes(ctx context.Context) Outcome {
	out := r.begin(KindTimes)
	flag := r.running[KindTimes]
	if !flag.CompareAndSwap(false, true) {
		out.Err = ErrSyncRunning
		out.settle(r.opts.Now())
		return out
	}
	defer flag.Store(false)

	images := []struct{ name, url string }{
		{MondayTimesFile, r.opts.MondayTimesURL},
		{OtherTimesFile, r.opts.OtherTimesURL},
	}

	keep := r.settings.Get().DoNotUpdateTimes
	for _, img := range images {
		if !keep || !exists(r.TimesPath(img.name)) {
			keep = false
			break
		}
	}

	for _, img := range images {
		res := Result{Name: img.name}
		if keep {
			out.Results = append(out.Results, res)
			continue
		}
		if err := r.downloadTimes(ctx, img.url, img.name); err != nil {
			res.fail(err)
			appLog.Error("reference times download failed", err, "file", img.name)
		} else {
			res.Files = 1
		}
		out.Results = append(out.Results, res)
	}

	out.settle(r.opts.Now())
	r.record(ctx, out)
	return out
}

func (r *Repository) downloadTimes(ctx context.Context, url, name string) error {
	if url == "" {
		return fmt.Errorf("%s: no url configured", name)
	}
	data, err := r.fetcher.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFile(r.TimesPath(name), data, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist) && err == nil
}
