package partner

import (
	"context"
	"net/url"
	"strconv"

	"partner_sync/internal/domain/geiq"
	"partner_sync/internal/domain/referential"
	"partner_sync/internal/reconcile"
)

// Collection paths of the partner API.
const (
	PathRomeCodes         = "referentiel/rome"
	PathAppellations      = "referentiel/appellations"
	PathEmployees         = "geiq/salaries"
	PathContracts         = "geiq/contrats"
	PathPrequalifications = "geiq/prequalifications"
)

var (
	_ referential.Source = (*ReferentialSource)(nil)
	_ geiq.Source        = (*GeiqSource)(nil)
)

type ReferentialSource struct {
	client *Client
}

func NewReferentialSource(client *Client) *ReferentialSource {
	return &ReferentialSource{client: client}
}

func (s *ReferentialSource) RomeCodes(ctx context.Context) ([]reconcile.Record, error) {
	return s.client.FetchAll(ctx, PathRomeCodes, nil)
}

func (s *ReferentialSource) Appellations(ctx context.Context) ([]reconcile.Record, error) {
	return s.client.FetchAll(ctx, PathAppellations, nil)
}

// GeiqSource reads an assessment's collections antenna by antenna and concatenates them.
type GeiqSource struct {
	client *Client
}

func NewGeiqSource(client *Client) *GeiqSource {
	return &GeiqSource{client: client}
}

func (s *GeiqSource) Employees(ctx context.Context, a geiq.Assessment) ([]reconcile.Record, error) {
	return s.perAntenna(ctx, PathEmployees, a)
}

func (s *GeiqSource) Contracts(ctx context.Context, a geiq.Assessment) ([]reconcile.Record, error) {
	return s.perAntenna(ctx, PathContracts, a)
}

func (s *GeiqSource) Prequalifications(ctx context.Context, a geiq.Assessment) ([]reconcile.Record, error) {
	return s.perAntenna(ctx, PathPrequalifications, a)
}

func (s *GeiqSource) perAntenna(ctx context.Context, path string, a geiq.Assessment) ([]reconcile.Record, error) {
	var all []reconcile.Record
	for _, antenna := range a.AntennaIDs {
		records, err := s.client.FetchAll(ctx, path, url.Values{
			"antenne": {strconv.Itoa(antenna)},
			"annee":   {strconv.Itoa(a.CampaignYear)},
		})
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}
