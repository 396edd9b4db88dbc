package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tubecrawl/internal/contracts"
	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/fetch"
	"tubecrawl/internal/models"
	"tubecrawl/internal/parsing"
	"tubecrawl/internal/utils/logging"
)

// ChannelConfig holds the channel-walker options.
type ChannelConfig struct {
	ExcludeFile     string
	Concurrency     int
	Timeout         time.Duration
	MaxRetries      int
	NewOnly         bool
	MaxInstances    int
	MaxChannels     int
	Resume          bool
	PreferredScheme string
}

// RunChannels enumerates video channels for every registered host.
func RunChannels(ctx context.Context, s contracts.Store, cfg ChannelConfig) error {
	cs := s.ChannelStore()

	if err := markStageStart(s, stageChannels); err != nil {
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
	if len(hosts) == 0 {
		logging.I("No hosts to walk")
		return markStageDone(s, stageChannels)
	}

	if err := cs.PrepareChannelProgress(hosts, cfg.Resume); err != nil {
		return err
	}
	items, err := cs.ListChannelWorkItems()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		logging.I("No channel work remaining for %d host(s)", len(hosts))
		return markStageDone(s, stageChannels)
	}
	logging.I("Walking channels on %d host(s), %d with work remaining", len(hosts), len(items))

	client := fetch.New(cfg.Timeout, cfg.MaxRetries, cfg.PreferredScheme)
	chanBudget := newBudget(cfg.MaxChannels)

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		conc    = max(cfg.Concurrency, 1)
		errChan = make(chan error, len(items))
		sem     = make(chan struct{}, conc)
		wg      sync.WaitGroup
	)

	for _, item := range items {
		if chanBudget.empty() {
			break
		}

		wg.Add(1)
		go func(item models.ChannelWorkItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() {
				<-sem
			}()

			if walkCtx.Err() != nil {
				return
			}
			if err := walkHostChannels(walkCtx, s, client, cfg, chanBudget, item); err != nil {
				errChan <- err
				cancel()
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
	logging.I("Channel walk finished for %d host(s)", len(items))
	return markStageDone(s, stageChannels)
}

// walkHostChannels pages one host's channel listing. Per-host faults mark
// the host and its progress row; only no-network failures propagate.
func walkHostChannels(ctx context.Context, s contracts.Store, client *fetch.Client, cfg ChannelConfig, chanBudget *budget, item models.ChannelWorkItem) error {
	var (
		cs   = s.ChannelStore()
		hs   = s.HostStore()
		host = item.Host
	)

	start := 0
	if item.Status == consts.StatusInProgress {
		start = item.LastStart
	}
	if err := cs.UpdateChannelProgress(host, consts.StatusInProgress, start); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if chanBudget.empty() {
			break
		}

		body, scheme, err := client.HostJSON(ctx, host, fmt.Sprintf("video-channels?start=%d&count=%d", start, consts.PageSize))
		if err != nil {
			if errors.Is(err, fetch.ErrNoNetwork) {
				return err
			}
			msg := faultMsg(err)
			logging.W("Host %q channel page at offset %d failed: %s", host, start, msg)
			if markErr := hs.MarkHostError(host, consts.ErrSourceChannels, msg); markErr != nil {
				return markErr
			}
			return cs.UpdateChannelProgress(host, consts.StatusError, start)
		}

		items, total, hasTotal := parsing.PageItems(body)

		batch := make([]*models.Channel, 0, len(items))
		for _, entry := range items {
			// Federation mirrors list remote channels too, keep only
			// rows originating on this host. No derivable origin means
			// the row is local.
			if origin := parsing.HostFromEntry(entry); origin != "" && origin != host {
				continue
			}
			c := parsing.ChannelFromEntry(host, entry)
			if c == nil {
				continue
			}
			c.URL = parsing.ResolveAssetURL(scheme, host, c.URL)
			c.AvatarURL = parsing.ResolveAssetURL(scheme, host, c.AvatarURL)
			batch = append(batch, c)
		}

		if cfg.NewOnly && len(batch) > 0 {
			ids := make([]string, len(batch))
			for i, c := range batch {
				ids[i] = c.ID
			}
			existing, err := cs.ListExistingChannelIDs(host, ids)
			if err != nil {
				return err
			}
			kept := batch[:0]
			for _, c := range batch {
				if _, known := existing[c.ID]; !known {
					kept = append(kept, c)
				}
			}
			batch = kept
		}

		if grant := chanBudget.take(len(batch)); grant < len(batch) {
			batch = batch[:grant]
		}
		if len(batch) > 0 {
			if err := cs.UpsertChannels(batch); err != nil {
				return err
			}
		}

		start += consts.PageSize
		if err := cs.UpdateChannelProgress(host, consts.StatusInProgress, start); err != nil {
			return err
		}

		if chanBudget.empty() {
			break
		}
		if hasTotal && int64(start) >= total {
			break
		}
		if len(items) < consts.PageSize {
			break
		}
	}

	if err := cs.UpdateChannelProgress(host, consts.StatusDone, 0); err != nil {
		return err
	}
	if err := hs.ClearHostError(host); err != nil {
		return err
	}
	logging.D(1, "Host %q channel listing walked", host)
	return nil
}
