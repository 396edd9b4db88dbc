package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"tubecrawl/internal/contracts"
	"tubecrawl/internal/database"
	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/fetch"
	"tubecrawl/internal/models"
	"tubecrawl/internal/parsing"
	"tubecrawl/internal/repo"
	"tubecrawl/internal/utils/logging"

	"golang.org/x/sync/semaphore"
)

// VideoConfig holds the video-walker options.
type VideoConfig struct {
	ExcludeFile        string
	Concurrency        int
	ChannelConcurrency int64
	Timeout            time.Duration
	MaxRetries         int
	NewOnly            bool
	StopAfterFullPages int
	Sort               string
	MaxInstances       int
	MaxChannels        int
	MaxVideosPages     int
	ErrorsOnly         bool
	Resume             bool
	ExistingDBPath     string
	PreferredScheme    string
}

// RunVideos enumerates videos for every eligible channel.
func RunVideos(ctx context.Context, s contracts.Store, cfg VideoConfig) error {
	vs := s.VideoStore()

	if err := markStageStart(s, stageVideos); err != nil {
		return err
	}

	hosts, err := s.HostStore().ListHosts()
	if err != nil {
		return err
	}
	excluded, err := parsing.LoadExcludeSet(ctx, cfg.ExcludeFile, cfg.Timeout)
	if err != nil {
		return err
	}
	hosts = parsing.FilterHosts(hosts, excluded)
	if cfg.MaxInstances > 0 && len(hosts) > cfg.MaxInstances {
		hosts = hosts[:cfg.MaxInstances]
	}

	channels, err := s.ChannelStore().ListChannelsWithVideos(1, hosts)
	if err != nil {
		return err
	}
	if cfg.MaxChannels > 0 && len(channels) > cfg.MaxChannels {
		channels = channels[:cfg.MaxChannels]
	}
	if len(channels) == 0 {
		logging.I("No eligible channels for the video walk")
		return markStageDone(s, stageVideos)
	}

	if err := vs.PrepareVideoProgress(channels, cfg.Resume); err != nil {
		return err
	}

	statuses := []string{consts.StatusPending, consts.StatusInProgress}
	if cfg.ErrorsOnly {
		statuses = []string{consts.StatusError}
	}
	items, err := vs.ListVideoWorkItems(statuses)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		logging.I("No video work remaining for %d channel(s)", len(channels))
		return markStageDone(s, stageVideos)
	}
	logging.I("Walking videos for %d channel(s) across %d host(s)", len(items), len(hosts))

	// Optional read-only reference store for incremental runs against a
	// previous crawl's database.
	var refStore contracts.VideoStore
	if cfg.ExistingDBPath != "" {
		refDB, err := database.OpenReadOnly(cfg.ExistingDBPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := refDB.Close(); err != nil {
				logging.E("Failed to close reference database: %v", err)
			}
		}()
		refStore = repo.InitStores(refDB.DB).VideoStore()
	}

	byHost := make(map[string][]models.VideoWorkItem)
	var hostOrder []string
	for _, item := range items {
		if _, seen := byHost[item.Host]; !seen {
			hostOrder = append(hostOrder, item.Host)
		}
		byHost[item.Host] = append(byHost[item.Host], item)
	}

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
		go func(host string, work []models.VideoWorkItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() {
				<-sem
			}()

			if walkCtx.Err() != nil {
				return
			}
			if err := walkHostVideos(walkCtx, s, refStore, client, cfg, host, work); err != nil {
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

	if total, ok, err := s.StateStore().GetState(consts.StateVideosNewTotal); err != nil {
		return err
	} else if ok {
		logging.I("Video walk finished, %s new video(s) stored so far", total)
	}
	return markStageDone(s, stageVideos)
}

// walkHostVideos walks one host's channels, at most ChannelConcurrency of
// them in flight at once.
func walkHostVideos(ctx context.Context, s contracts.Store, refStore contracts.VideoStore, client *fetch.Client, cfg VideoConfig, host string, work []models.VideoWorkItem) error {
	chanSem := semaphore.NewWeighted(max(cfg.ChannelConcurrency, 1))

	var (
		errChan = make(chan error, len(work))
		wg      sync.WaitGroup
	)

	for _, item := range work {
		if err := chanSem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(item models.VideoWorkItem) {
			defer wg.Done()
			defer chanSem.Release(1)

			if err := walkChannelVideos(ctx, s, refStore, client, cfg, item); err != nil {
				errChan <- err
			}
		}(item)
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
	return nil
}

// walkChannelVideos pages one channel's video listing in offset order.
// Per-channel faults set the progress row to error; only no-network
// failures propagate.
func walkChannelVideos(ctx context.Context, s contracts.Store, refStore contracts.VideoStore, client *fetch.Client, cfg VideoConfig, item models.VideoWorkItem) error {
	var (
		vs   = s.VideoStore()
		host = item.Host
	)

	start := 0
	if item.Status == consts.StatusInProgress || item.Status == consts.StatusError {
		start = item.LastStart
	}
	if err := vs.UpdateVideoProgress(host, item.ChannelID, consts.StatusInProgress, start, ""); err != nil {
		return err
	}

	var (
		pagesFetched  int
		fullPagesSeen int
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		endpoint := fmt.Sprintf("video-channels/%s/videos?start=%d&count=%d&sort=%s",
			url.PathEscape(item.ChannelName), start, consts.PageSize, url.QueryEscape(cfg.Sort))
		body, scheme, err := client.HostJSON(ctx, host, endpoint)
		if err != nil {
			if errors.Is(err, fetch.ErrNoNetwork) {
				return err
			}
			msg := faultMsg(err)
			logging.W("Channel %q@%q video page at offset %d failed: %s", item.ChannelName, host, start, msg)
			return vs.UpdateVideoProgress(host, item.ChannelID, consts.StatusError, start, msg)
		}
		pagesFetched++

		entries, total, hasTotal := parsing.PageItems(body)

		var (
			pageIDs  []string
			known    map[string]struct{}
			allKnown = len(entries) > 0
		)
		for _, entry := range entries {
			if v := parsing.VideoFromEntry(host, entry); v != nil {
				pageIDs = append(pageIDs, v.ID)
			}
		}

		if cfg.NewOnly && len(pageIDs) > 0 {
			known, err = vs.ListExistingVideoIDs(host, item.ChannelID, pageIDs)
			if err != nil {
				return err
			}
			if refStore != nil {
				refKnown, err := refStore.ListExistingVideoIDs(host, item.ChannelID, pageIDs)
				if err != nil {
					return err
				}
				for id := range refKnown {
					known[id] = struct{}{}
				}
			}
		}

		batch := make([]*models.Video, 0, len(entries))
		for _, entry := range entries {
			v := parsing.VideoFromEntry(host, entry)
			if v == nil {
				continue
			}
			if _, skip := known[v.ID]; skip {
				continue
			}
			allKnown = false

			v.ChannelID = item.ChannelID
			if v.ChannelName == "" {
				v.ChannelName = item.ChannelName
			}
			v.URL = parsing.ResolveAssetURL(scheme, host, v.URL)
			v.ThumbnailURL = parsing.ResolveAssetURL(scheme, host, v.ThumbnailURL)
			batch = append(batch, v)
		}

		if len(batch) > 0 {
			if _, err := vs.UpsertVideos(batch); err != nil {
				return err
			}
			if err := s.StateStore().IncrementState(consts.StateVideosNewTotal, int64(len(batch))); err != nil {
				return err
			}
		}

		start += consts.PageSize
		if err := vs.UpdateVideoProgress(host, item.ChannelID, consts.StatusInProgress, start, ""); err != nil {
			return err
		}

		// Incremental early stop: consecutive pages of already-known ids
		// mean the sorted history beyond this point was walked before.
		if cfg.NewOnly && cfg.StopAfterFullPages > 0 {
			if allKnown {
				fullPagesSeen++
				if fullPagesSeen >= cfg.StopAfterFullPages {
					break
				}
			} else {
				fullPagesSeen = 0
			}
		}

		if hasTotal && int64(start) >= total {
			break
		}
		if len(entries) < consts.PageSize {
			break
		}
		if cfg.MaxVideosPages > 0 && pagesFetched >= cfg.MaxVideosPages {
			break
		}
	}

	if err := vs.UpdateVideoProgress(host, item.ChannelID, consts.StatusDone, 0, ""); err != nil {
		return err
	}
	logging.D(1, "Channel %q@%q video listing walked (%d page(s))", item.ChannelName, host, pagesFetched)
	return nil
}
