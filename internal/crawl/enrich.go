package crawl

import (
	"context"
	"errors"
	"sync"
	"time"

	"tubecrawl/internal/contracts"
	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/fetch"
	"tubecrawl/internal/models"
	"tubecrawl/internal/parsing"
	"tubecrawl/internal/utils/logging"

	"golang.org/x/time/rate"
)

// Enrichment modes.
const (
	ModeTags       = "tags"
	ModeUpdateTags = "update-tags"
	ModeComments   = "comments"
)

// EnrichConfig holds the enrichment-walker options.
type EnrichConfig struct {
	Mode            string
	Concurrency     int
	Timeout         time.Duration
	MaxRetries      int
	HostDelay       time.Duration
	Resume          bool
	PreferredScheme string
}

// RunEnrich fetches per-video detail pages to fill tags or comment counts.
// Hosts run in parallel; videos on the same host run sequentially with an
// inter-request delay.
func RunEnrich(ctx context.Context, s contracts.Store, cfg EnrichConfig) error {
	vs := s.VideoStore()

	if err := markStageStart(s, stageEnrich); err != nil {
		return err
	}

	var (
		videos []*models.Video
		err    error
	)
	switch cfg.Mode {
	case ModeTags:
		videos, err = vs.ListVideosForTags(false)
	case ModeUpdateTags:
		videos, err = vs.ListVideosForTags(true)
	case ModeComments:
		videos, err = vs.ListVideosForComments(cfg.Resume)
	default:
		return errors.New("unknown enrichment mode " + cfg.Mode)
	}
	if err != nil {
		return err
	}
	if len(videos) == 0 {
		logging.I("No videos to enrich in mode %q", cfg.Mode)
		return markStageDone(s, stageEnrich)
	}

	byHost := make(map[string][]*models.Video)
	var hostOrder []string
	for _, v := range videos {
		if _, seen := byHost[v.Host]; !seen {
			hostOrder = append(hostOrder, v.Host)
		}
		byHost[v.Host] = append(byHost[v.Host], v)
	}
	logging.I("Enriching %d video(s) across %d host(s) in mode %q", len(videos), len(hostOrder), cfg.Mode)

	client := fetch.New(cfg.Timeout, cfg.MaxRetries, cfg.PreferredScheme)

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		conc    = max(cfg.Concurrency, 1)
		errChan = make(chan error, len(hostOrder))
		sem     = make(chan struct{}, conc)
		wg      sync.WaitGroup
	)

	for _, host := range hostOrder {
		wg.Add(1)
		go func(host string, videos []*models.Video) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() {
				<-sem
			}()

			if walkCtx.Err() != nil {
				return
			}
			if err := enrichHostVideos(walkCtx, vs, client, cfg, host, videos); err != nil {
				errChan <- err
				cancel()
			}
		}(host, byHost[host])
	}

	wg.Wait()
	close(errChan)

	var allErrs []error
	for e := range errChan {
		allErrs = append(allErrs, e)
	}
	if len(allErrs) > 0 {
		return errors.Join(allErrs...)
	}
	logging.I("Enrichment finished for %d video(s) in mode %q", len(videos), cfg.Mode)
	return markStageDone(s, stageEnrich)
}

func enrichHostVideos(ctx context.Context, vs contracts.VideoStore, client *fetch.Client, cfg EnrichConfig, host string, videos []*models.Video) error {
	delay := cfg.HostDelay
	if delay <= 0 {
		delay = consts.DefaultHostDelay
	}
	limiter := rate.NewLimiter(rate.Every(delay), 1)

	for _, v := range videos {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		body, _, err := client.HostJSON(ctx, host, "videos/"+v.ID)
		if err != nil {
			if errors.Is(err, fetch.ErrNoNetwork) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			if reason := terminalReason(err); reason != "" {
				logging.D(1, "Video %q@%q invalidated: %s", v.ID, host, reason)
				if err := vs.UpdateVideoInvalid(v.ID, host, reason); err != nil {
					return err
				}
				continue
			}
			if err := vs.UpdateVideoError(v.ID, host, faultMsg(err)); err != nil {
				return err
			}
			continue
		}

		entry, ok := body.(map[string]any)
		if !ok {
			if err := vs.UpdateVideoError(v.ID, host, "unexpected response shape"); err != nil {
				return err
			}
			continue
		}

		switch cfg.Mode {
		case ModeTags, ModeUpdateTags:
			tagsJSON, _ := parsing.TagsJSON(entry)
			if tagsJSON == "" {
				tagsJSON = "[]"
			}
			if err := vs.UpdateVideoTags(v.ID, host, tagsJSON); err != nil {
				return err
			}
		case ModeComments:
			n, _ := parsing.CommentsCount(entry)
			if err := vs.UpdateVideoComments(v.ID, host, n); err != nil {
				return err
			}
		}
	}
	return nil
}

// terminalReason maps a fetch fault onto a terminal invalidation reason, or
// "" when the fault is retryable.
func terminalReason(err error) string {
	switch {
	case fetch.IsNotFound(err):
		return consts.InvalidNotFound
	case fetch.IsCertExpired(err):
		return consts.InvalidCertExpired
	case fetch.IsTLS(err):
		return consts.InvalidTLSError
	case fetch.IsTimeout(err):
		return consts.InvalidTimeout
	default:
		return ""
	}
}
