package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"tubecrawl/internal/contracts"
	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/fetch"
	"tubecrawl/internal/models"
	"tubecrawl/internal/utils/logging"
)

// HealthConfig holds the health-checker options.
type HealthConfig struct {
	Host            string
	Channels        bool
	ErrorsOnly      bool
	MinAge          time.Duration
	Concurrency     int
	Timeout         time.Duration
	MaxRetries      int
	PreferredScheme string
}

// RunHealth probes hosts with a minimal listing request and records the
// result. With Channels set, each eligible channel's own video listing is
// probed instead. Walk progress is never touched by this path.
func RunHealth(ctx context.Context, s contracts.Store, cfg HealthConfig) error {
	hs := s.HostStore()

	if err := markStageStart(s, stageHealth); err != nil {
		return err
	}

	hosts, err := hs.ListHostsForHealth(cfg.ErrorsOnly, cfg.Host, cfg.MinAge.Milliseconds())
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		logging.I("No hosts due for a health check")
		return markStageDone(s, stageHealth)
	}

	channelsByHost := make(map[string][]*models.Channel)
	if cfg.Channels {
		channels, err := s.ChannelStore().ListChannelsWithVideos(1, hosts)
		if err != nil {
			return err
		}
		for _, c := range channels {
			channelsByHost[c.Host] = append(channelsByHost[c.Host], c)
		}
	}
	logging.I("Health-checking %d host(s)", len(hosts))

	client := fetch.New(cfg.Timeout, cfg.MaxRetries, cfg.PreferredScheme)

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		conc    = max(cfg.Concurrency, 1)
		errChan = make(chan error, len(hosts))
		sem     = make(chan struct{}, conc)
		wg      sync.WaitGroup
	)

	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() {
				<-sem
			}()

			if probeCtx.Err() != nil {
				return
			}
			var err error
			if cfg.Channels {
				err = probeHostChannels(probeCtx, s, client, host, channelsByHost[host])
			} else {
				err = probeHost(probeCtx, hs, client, host)
			}
			if err != nil {
				errChan <- err
				cancel()
			}
		}(host)
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
	logging.I("Health check finished for %d host(s)", len(hosts))
	return markStageDone(s, stageHealth)
}

func probeHost(ctx context.Context, hs contracts.HostStore, client *fetch.Client, host string) error {
	_, _, err := client.HostJSON(ctx, host, "video-channels?start=0&count=1")
	if err != nil {
		if errors.Is(err, fetch.ErrNoNetwork) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		logging.D(1, "Host %q unhealthy: %v", host, err)
		return hs.MarkHostHealth(host, consts.HealthError, faultMsg(err))
	}
	return hs.MarkHostHealth(host, consts.HealthOK, "")
}

// probeHostChannels checks each eligible channel's video listing. Channel
// faults are recorded on the channel and surfaced on the host row.
func probeHostChannels(ctx context.Context, s contracts.Store, client *fetch.Client, host string, channels []*models.Channel) error {
	cs := s.ChannelStore()

	for _, c := range channels {
		if ctx.Err() != nil {
			return nil
		}

		endpoint := fmt.Sprintf("video-channels/%s/videos?start=0&count=1", url.PathEscape(c.Name))
		if _, _, err := client.HostJSON(ctx, host, endpoint); err != nil {
			if errors.Is(err, fetch.ErrNoNetwork) {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			msg := faultMsg(err)
			logging.D(1, "Channel %q@%q unhealthy: %s", c.Name, host, msg)
			if err := cs.MarkChannelHealth(c.ID, host, consts.HealthError, msg); err != nil {
				return err
			}
			if err := s.HostStore().MarkHostError(host, consts.ErrSourceChannelsHealth, msg); err != nil {
				return err
			}
			continue
		}
		if err := cs.MarkChannelHealth(c.ID, host, consts.HealthOK, ""); err != nil {
			return err
		}
	}
	return nil
}
