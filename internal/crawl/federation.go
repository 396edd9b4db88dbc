package crawl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"tubecrawl/internal/contracts"
	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/fetch"
	"tubecrawl/internal/parsing"
	"tubecrawl/internal/utils/logging"
)

// FederationConfig holds the federation-walker options.
type FederationConfig struct {
	WhitelistSrc string
	ExcludeFile  string
	Concurrency  int
	Timeout      time.Duration
	MaxRetries   int
	MaxErrors    int64
	MaxInstances int
	Expand       bool
	CollectGraph bool
	Resume       bool
}

// RunFederation discovers hosts starting from the whitelist and, when
// enabled, expands across the federation graph via following/follower
// pages.
func RunFederation(ctx context.Context, s contracts.Store, cfg FederationConfig) error {
	hs := s.HostStore()

	whitelist, excluded, err := materializeWhitelist(ctx, cfg)
	if err != nil {
		return err
	}

	inScope := make(map[string]struct{}, len(whitelist))
	for _, h := range whitelist {
		inScope[h] = struct{}{}
	}

	if err := s.StateStore().SetState(consts.StateWhitelistURL, cfg.WhitelistSrc); err != nil {
		return err
	}
	if err := s.StateStore().SetState(consts.StateWhitelistCount, strconv.Itoa(len(whitelist))); err != nil {
		return err
	}
	if err := s.StateStore().SetState(consts.StateStartedAt, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		return err
	}

	for _, h := range whitelist {
		if err := hs.EnsureHost(h); err != nil {
			return err
		}
	}

	// Without edge collection or expansion there is nothing to walk, the
	// run only registers the whitelist.
	if !cfg.Expand && !cfg.CollectGraph {
		logging.I("Registered %d whitelisted host(s); expansion and graph collection disabled", len(whitelist))
		return s.StateStore().SetState(consts.StateFinishedAt, strconv.FormatInt(time.Now().UnixMilli(), 10))
	}

	for _, h := range whitelist {
		if err := hs.EnqueueHost(h, 0); err != nil {
			return err
		}
	}

	if !cfg.Resume || cfg.Expand || cfg.CollectGraph {
		var recoveryScope map[string]struct{}
		if !cfg.Expand {
			recoveryScope = inScope
		}
		if err := hs.RecoverQueue(recoveryScope); err != nil {
			return err
		}
	}

	client := fetch.New(cfg.Timeout, cfg.MaxRetries, parsing.PreferredScheme(cfg.WhitelistSrc))

	walkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		conc    = max(cfg.Concurrency, 1)
		errChan = make(chan error, conc)
		wg      sync.WaitGroup
	)

	for i := 0; i < conc; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := federationWorker(walkCtx, hs, client, cfg, inScope, excluded); err != nil {
				errChan <- err
				cancel()
			}
		}()
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

	return s.StateStore().SetState(consts.StateFinishedAt, strconv.FormatInt(time.Now().UnixMilli(), 10))
}

func materializeWhitelist(ctx context.Context, cfg FederationConfig) ([]string, map[string]struct{}, error) {
	hosts, err := parsing.LoadHosts(ctx, cfg.WhitelistSrc, cfg.Timeout)
	if err != nil {
		return nil, nil, err
	}

	excluded, err := parsing.LoadExcludeSet(ctx, cfg.ExcludeFile, cfg.Timeout)
	if err != nil {
		return nil, nil, err
	}
	hosts = parsing.FilterHosts(hosts, excluded)

	if cfg.MaxInstances > 0 && len(hosts) > cfg.MaxInstances {
		hosts = hosts[:cfg.MaxInstances]
	}
	if len(hosts) == 0 {
		return nil, nil, errors.New("empty whitelist")
	}
	return hosts, excluded, nil
}

// federationWorker claims hosts off the retry queue until the queue is
// drained and holds no future deadline.
func federationWorker(ctx context.Context, hs contracts.HostStore, client *fetch.Client, cfg FederationConfig, inScope, excluded map[string]struct{}) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		host, ok, err := hs.ClaimNextHost()
		if err != nil {
			return err
		}
		if !ok {
			nextMS, hasNext, err := hs.NextQueueTime()
			if err != nil {
				return err
			}
			if !hasNext {
				return nil
			}
			wait := time.Until(time.UnixMilli(nextMS))
			if wait < 0 {
				wait = 50 * time.Millisecond
			}
			if err := sleepCtx(ctx, wait); err != nil {
				return nil
			}
			continue
		}

		if err := walkFederationHost(ctx, hs, client, cfg, inScope, excluded, host); err != nil {
			if errors.Is(err, fetch.ErrNoNetwork) || ctx.Err() != nil {
				return err
			}

			count, markErr := hs.MarkHostWalkError(host, faultMsg(err))
			if markErr != nil {
				return markErr
			}
			if count < cfg.MaxErrors {
				delay := time.Duration(count) * consts.RequeueStep
				if delay > consts.RequeueCap {
					delay = consts.RequeueCap
				}
				logging.W("Host %q failed (%v), re-enqueueing after %s (attempt %d/%d)", host, err, delay, count, cfg.MaxErrors)
				if err := hs.EnqueueHost(host, delay.Milliseconds()); err != nil {
					return err
				}
			} else {
				logging.E("Host %q failed permanently after %d attempt(s): %v", host, count, err)
			}
			continue
		}

		if err := hs.MarkHostDone(host); err != nil {
			return err
		}
		logging.D(1, "Host %q federation pages walked", host)
	}
}

// walkFederationHost pages through server/following and server/followers,
// registering and enqueueing in-scope targets.
func walkFederationHost(ctx context.Context, hs contracts.HostStore, client *fetch.Client, cfg FederationConfig, inScope, excluded map[string]struct{}, host string) error {
	for _, side := range []string{"following", "follower"} {
		endpoint := "server/following"
		if side == "follower" {
			endpoint = "server/followers"
		}

		for start := 0; ; start += consts.PageSize {
			if err := ctx.Err(); err != nil {
				return err
			}

			body, _, err := client.HostJSON(ctx, host, fmt.Sprintf("%s?start=%d&count=%d", endpoint, start, consts.PageSize))
			if err != nil {
				return err
			}

			items, total, hasTotal := parsing.PageItems(body)
			for _, entry := range items {
				target := parsing.FollowHost(entry, side)
				if target == "" || target == host {
					continue
				}
				if _, drop := excluded[target]; drop {
					continue
				}

				_, whitelisted := inScope[target]
				if whitelisted || cfg.Expand {
					if err := hs.EnsureHost(target); err != nil {
						return err
					}
					if err := hs.EnqueueHost(target, 0); err != nil {
						return err
					}
				}
				if cfg.CollectGraph {
					src, dst := host, target
					if side == "follower" {
						src, dst = target, host
					}
					if err := hs.InsertEdge(src, dst); err != nil {
						return err
					}
				}
			}

			if hasTotal && int64(start+consts.PageSize) >= total {
				break
			}
			if len(items) < consts.PageSize {
				break
			}
		}
	}
	return nil
}
