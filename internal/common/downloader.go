package common

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/alitto/pond/v2"
	"github.com/cavaliergopher/grab/v3"
)

// FetchRequest describes a single file to pull from a remote origin.
type FetchRequest struct {
	URL         string // Source URL.
	Destination string // Absolute destination path.
	SHA1        string // Optional expected SHA-1 (hex), verified during download.
}

// FetchResult is the outcome of one FetchRequest.
type FetchResult struct {
	*FetchRequest
	Size int64
}

// Fetcher runs HTTP downloads against a bounded worker pool, fanning the
// results back in once every request has completed. It is the module's
// sole point of concurrency (§5): a release manifest's N missing package
// tarballs are fetched in parallel here, then extracted sequentially by
// the caller.
type Fetcher struct {
	pool   pond.ResultPool[*FetchResult]
	client *grab.Client
}

// NewFetcher creates a Fetcher bounded to maxParallel concurrent downloads.
// maxParallel below 1 is treated as 1.
func NewFetcher(httpClient *http.Client, maxParallel int) *Fetcher {
	if maxParallel < 1 {
		maxParallel = 1
	}
	pool := pond.NewResultPool[*FetchResult](maxParallel, pond.WithoutPanicRecovery())

	return &Fetcher{
		pool:   pool,
		client: &grab.Client{HTTPClient: httpClient},
	}
}

// Shutdown stops the Fetcher's worker pool, waiting for in-flight downloads
// to complete.
func (f *Fetcher) Shutdown() {
	f.pool.StopAndWait()
}

// FetchAll downloads every request in parallel and blocks until all have
// completed (or one fails). A failure of any individual request propagates
// as a fatal error and aborts the whole batch — there is no per-fetch
// retry (§5).
func (f *Fetcher) FetchAll(ctx context.Context, requests []*FetchRequest) ([]*FetchResult, error) {
	group := f.pool.NewGroupContext(ctx)

	for _, req := range requests {
		group.SubmitErr(func() (*FetchResult, error) {
			return f.fetchOne(ctx, req)
		})
	}

	return group.Wait()
}

func (f *Fetcher) fetchOne(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if err := MkdirAll(filepath.Dir(req.Destination)); err != nil {
		return nil, err
	}

	grabReq, err := grab.NewRequest(req.Destination, req.URL)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", req.URL, err)
	}
	grabReq = grabReq.WithContext(ctx)

	if req.SHA1 != "" {
		expected, err := hex.DecodeString(req.SHA1)
		if err != nil {
			return nil, fmt.Errorf("invalid expected sha1 for %s: %w", req.URL, err)
		}
		grabReq.SetChecksum(newSHA1Hasher(), expected, true)
	}

	resp := f.client.Do(grabReq)
	<-resp.Done

	if resp.Err() != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(req.Destination), resp.Err())
	}

	slog.Debug("fetched", "file", filepath.Base(req.Destination), "bytes", resp.Size())

	return &FetchResult{FetchRequest: req, Size: resp.Size()}, nil
}
