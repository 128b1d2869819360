package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"planboard/internal/config"
	"planboard/internal/model"
	"planboard/internal/remote"
	"planboard/internal/source"
	logx "planboard/pkg/logx"
)

const seedTimeout = 30 * time.Second

// backend is the feed the refresher polls and the client remote writes go to.
type backend struct {
	feed   source.Feed
	client remote.Client
}

// buildBackend picks the feed and the remote client.
//
// With remote.driver "http" the configured source kind is read directly, or
// the backend itself when kind is "remote" or empty. With the in-process
// "memory" driver a file or ics source seeds the store once and later
// refreshes read the store back, so edits survive refreshes.
func buildBackend(ctx context.Context, cfg *config.Config, log logx.Logger) (backend, error) {
	resources := mapResources(cfg.Source.Resources)

	seed, err := seedFeed(cfg, log)
	if err != nil {
		return backend{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Remote.Driver)) {
	case "http":
		rc, err := mapRemoteConfig(cfg)
		if err != nil {
			return backend{}, err
		}
		client, err := remote.NewHTTPClient(rc, log)
		if err != nil {
			return backend{}, err
		}
		if seed != nil {
			return backend{feed: seed, client: client}, nil
		}
		return backend{feed: source.RemoteFeed{Client: client, Resources: resources}, client: client}, nil

	case "", "memory":
		var recs []model.Record
		if seed != nil {
			fctx, cancel := context.WithTimeout(ctx, seedTimeout)
			d, err := seed.Fetch(fctx)
			cancel()
			if err != nil {
				return backend{}, fmt.Errorf("seed from %s: %w", seed.Name(), err)
			}
			recs = d.Records
			if len(resources) == 0 {
				resources = d.Resources
			}
			log.Info("memory remote seeded",
				logx.String("feed", seed.Name()),
				logx.Int("records", len(recs)),
				logx.Int("resources", len(resources)),
			)
		}
		mem := remote.NewMemory(recs...)
		return backend{feed: source.RemoteFeed{Client: mem, Resources: resources}, client: mem}, nil

	default:
		return backend{}, fmt.Errorf("unknown remote.driver: %s", cfg.Remote.Driver)
	}
}

func seedFeed(cfg *config.Config, log logx.Logger) (source.Feed, error) {
	src := cfg.Source
	switch strings.ToLower(strings.TrimSpace(src.Kind)) {
	case "", "remote":
		return nil, nil
	case "file":
		return source.FileFeed{Path: strings.TrimSpace(src.Path)}, nil
	case "ics":
		horizon, err := config.DurationOr("source.horizon", src.Horizon, source.DefaultHorizon)
		if err != nil {
			return nil, err
		}
		return source.ICSFeed{
			Calendars: mapCalendars(src.Calendars),
			Horizon:   horizon,
			Log:       log,
		}, nil
	default:
		return nil, fmt.Errorf("unknown source.kind: %s", src.Kind)
	}
}
