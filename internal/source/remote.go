package source

import (
	"context"

	"planboard/internal/model"
	"planboard/internal/remote"
)

// RemoteFeed lists records from the remote backend. Lanes are fixed (from
// configuration or a seeding feed) since the backend only stores items.
type RemoteFeed struct {
	Client    remote.Client
	Resources []model.Resource
}

func (f RemoteFeed) Name() string { return "remote" }

func (f RemoteFeed) Fetch(ctx context.Context) (Data, error) {
	recs, err := f.Client.List(ctx)
	if err != nil {
		return Data{}, err
	}
	return Data{Resources: append([]model.Resource(nil), f.Resources...), Records: recs}, nil
}
