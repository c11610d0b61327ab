package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/lucaspecout/ope-protec/internal/fetchhttp"
	"github.com/lucaspecout/ope-protec/internal/geo"
	"github.com/lucaspecout/ope-protec/internal/risks"
)

const (
	defaultGeorisquesV1URL = "https://www.georisques.gouv.fr/api/v1"
	defaultGeorisquesV2URL = "https://www.georisques.gouv.fr/api/v2"
)

// paginationVariants are the size/page parameter names the v2 API has
// answered to; the working pair is discovered on the first page.
var paginationVariants = [][2]string{
	{"pageSize", "pageNumber"},
	{"size", "page"},
	{"page_size", "page"},
}

// RegistrySource reads the registered risk inventory of the monitored
// communes. Commune names are resolved to INSEE codes through the
// geocoder; the GASPAR v1 endpoint lists the risks per commune. The
// token-gated v2 API, when configured, confirms the inventory through its
// paginated gaspar/risques collection.
type RegistrySource struct {
	fetcher  *fetchhttp.Client
	geocoder geo.Geocoder
	clock    clockwork.Clock
	log      *slog.Logger

	v1URL    string
	v2URL    string
	token    string
	communes []string
	dept     string
}

func NewRegistrySource(fetcher *fetchhttp.Client, geocoder geo.Geocoder, clock clockwork.Clock, log *slog.Logger, token string, communes []string) *RegistrySource {
	if len(communes) == 0 {
		communes = []string{"Grenoble", "Bourgoin-Jallieu", "Vienne", "Voiron"}
	}
	return &RegistrySource{
		fetcher:  fetcher,
		geocoder: geocoder,
		clock:    clock,
		log:      log,
		v1URL:    defaultGeorisquesV1URL,
		v2URL:    defaultGeorisquesV2URL,
		token:    token,
		communes: communes,
		dept:     "38",
	}
}

// WithBaseURLs overrides the upstream endpoints, for tests.
func (s *RegistrySource) WithBaseURLs(v1URL, v2URL string) *RegistrySource {
	s.v1URL = v1URL
	s.v2URL = v2URL
	return s
}

func (s *RegistrySource) Fetch(ctx context.Context) *risks.RiskRegistryPayload {
	now := nowUTC(s.clock)

	if strings.TrimSpace(s.token) == "" {
		return &risks.RiskRegistryPayload{
			Envelope: degraded(s.v2URL, "clé API Géorisques v2 absente", now),
			Mode:     "v2-token-required",
		}
	}

	resolved := s.resolveCommunes(ctx)
	if len(resolved) == 0 {
		return &risks.RiskRegistryPayload{
			Envelope: degraded(s.v2URL, "no monitored commune resolved to an INSEE code", now),
			Mode:     "v2-token",
		}
	}

	codes := make([]string, 0, len(resolved))
	for code := range resolved {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	byCommune, err := s.fetchGasparRisks(ctx, codes)
	if err != nil {
		return &risks.RiskRegistryPayload{
			Envelope: degraded(s.v1URL, err.Error(), now),
			Mode:     "v2-token",
		}
	}

	payload := &risks.RiskRegistryPayload{
		Envelope: online(s.v2URL, now),
		Mode:     "v2-token",
	}
	total := 0
	for _, code := range codes {
		riskNames := dedupeSorted(byCommune[code])
		total += len(riskNames)
		payload.Communes = append(payload.Communes, risks.CommuneRisks{
			Code:        code,
			Name:        resolved[code],
			Risks:       riskNames,
			RiskTotal:   len(riskNames),
			DangerLabel: dangerLabel(len(riskNames)),
		})
	}
	payload.Total = total

	if v2Total, err := s.countV2Risks(ctx); err != nil {
		s.log.Warn("georisques v2 risques collection unavailable", "err", err)
	} else if v2Total > payload.Total {
		payload.Total = v2Total
	}
	return payload
}

// resolveCommunes maps the monitored commune names to INSEE codes.
// Unresolvable names are skipped.
func (s *RegistrySource) resolveCommunes(ctx context.Context) map[string]string {
	resolved := make(map[string]string, len(s.communes))
	for _, name := range s.communes {
		label := strings.TrimSpace(name)
		if label == "" {
			continue
		}
		commune, err := s.geocoder.ResolveCommune(ctx, label, s.dept)
		if err != nil {
			s.log.Debug("commune resolution failed", "name", label, "err", err)
			continue
		}
		if commune.Code != "" {
			resolved[commune.Code] = label
		}
	}
	return resolved
}

func (s *RegistrySource) fetchGasparRisks(ctx context.Context, codes []string) (map[string][]string, error) {
	query := url.Values{}
	query.Set("code_insee", strings.Join(codes, ","))
	query.Set("page_size", "100")

	var response struct {
		Data []struct {
			LibelleRisque string `json:"libelle_risque"`
			Libelle       string `json:"libelle"`
			CodeInsee     string `json:"code_insee"`
			Communes      []struct {
				CodeInsee string `json:"code_insee"`
			} `json:"communes"`
		} `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/gaspar/risques?%s", s.v1URL, query.Encode())
	if err := s.fetcher.GetJSON(ctx, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("gaspar risques: %w", err)
	}

	monitored := make(map[string]bool, len(codes))
	for _, code := range codes {
		monitored[code] = true
	}

	byCommune := make(map[string][]string)
	for _, item := range response.Data {
		name := strings.TrimSpace(item.LibelleRisque)
		if name == "" {
			name = strings.TrimSpace(item.Libelle)
		}
		if name == "" {
			continue
		}
		if len(item.Communes) > 0 {
			for _, commune := range item.Communes {
				if monitored[commune.CodeInsee] {
					byCommune[commune.CodeInsee] = append(byCommune[commune.CodeInsee], name)
				}
			}
			continue
		}
		if monitored[item.CodeInsee] {
			byCommune[item.CodeInsee] = append(byCommune[item.CodeInsee], name)
		}
	}
	return byCommune, nil
}

// countV2Risks walks the token-gated v2 gaspar/risques collection and
// returns its element count for the whole department.
func (s *RegistrySource) countV2Risks(ctx context.Context) (int, error) {
	page, err := s.fetchV2Collection(ctx, "gaspar/risques", url.Values{})
	if err != nil {
		return 0, err
	}
	return page.totalElements, nil
}

type v2Page struct {
	totalElements int
	content       []map[string]any
}

// fetchV2Collection discovers a working pagination parameter shape on the
// first request, then walks the remaining pages with it.
func (s *RegistrySource) fetchV2Collection(ctx context.Context, endpoint string, filters url.Values) (*v2Page, error) {
	headers := map[string]string{"Authorization": "Bearer " + s.token}

	type candidate struct {
		query   url.Values
		pageKey string
	}
	var candidates []candidate
	for _, variant := range paginationVariants {
		query := cloneValues(filters)
		query.Set("departement", s.dept)
		query.Set(variant[0], "1000")
		query.Set(variant[1], "0")
		candidates = append(candidates, candidate{query: query, pageKey: variant[1]})
	}
	bare := cloneValues(filters)
	bare.Set("departement", s.dept)
	candidates = append(candidates, candidate{query: bare})

	var firstPage *struct {
		TotalElements int              `json:"totalElements"`
		TotalPages    int              `json:"totalPages"`
		Content       []map[string]any `json:"content"`
	}
	var selected candidate
	var lastErr error
	for _, cand := range candidates {
		var page struct {
			TotalElements int              `json:"totalElements"`
			TotalPages    int              `json:"totalPages"`
			Content       []map[string]any `json:"content"`
		}
		requestURL := fmt.Sprintf("%s/%s?%s", s.v2URL, endpoint, cand.query.Encode())
		if err := s.fetcher.GetJSON(ctx, requestURL, headers, &page); err != nil {
			lastErr = err
			continue
		}
		firstPage = &page
		selected = cand
		break
	}
	if firstPage == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("empty answer from %s", endpoint)
		}
		return nil, lastErr
	}

	result := &v2Page{
		totalElements: firstPage.TotalElements,
		content:       firstPage.Content,
	}
	if result.totalElements == 0 {
		result.totalElements = len(result.content)
	}

	if selected.pageKey != "" {
		for pageNumber := 1; pageNumber < firstPage.TotalPages; pageNumber++ {
			selected.query.Set(selected.pageKey, fmt.Sprintf("%d", pageNumber))
			var page struct {
				Content []map[string]any `json:"content"`
			}
			requestURL := fmt.Sprintf("%s/%s?%s", s.v2URL, endpoint, selected.query.Encode())
			if err := s.fetcher.GetJSON(ctx, requestURL, headers, &page); err != nil {
				return nil, fmt.Errorf("page %d of %s: %w", pageNumber, endpoint, err)
			}
			result.content = append(result.content, page.Content...)
		}
	}
	return result, nil
}

func cloneValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for key, values := range in {
		out[key] = append([]string(nil), values...)
	}
	return out
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, value := range values {
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

func dangerLabel(total int) string {
	switch {
	case total >= 8:
		return "Très élevé"
	case total >= 5:
		return "Élevé"
	case total >= 2:
		return "Modéré"
	default:
		return "Faible"
	}
}
