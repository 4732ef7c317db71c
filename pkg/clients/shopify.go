package clients

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/table"
)

// shopifyAPIVersion is the admin API version the client targets.
const shopifyAPIVersion = "2024-01"

// ShopifyConfig configures a Shopify admin API client.
type ShopifyConfig struct {
	// ShopDomain is the myshopify.com domain, with or without scheme.
	ShopDomain  string `json:"shop_domain"`
	AccessToken string `json:"access_token"`

	// PerPage caps records per request. Shopify allows at most 250.
	PerPage int `json:"per_page"`
}

// ShopifyClient pulls orders, products, customers and inventory from the
// Shopify admin REST API. Requests are cursor-paginated and rate limited
// to stay under Shopify's 2 requests/second bucket.
type ShopifyClient struct {
	rest   *RESTClient
	logger *zap.Logger
}

// NewShopifyClient creates a Shopify client.
func NewShopifyClient(config *ShopifyConfig, logger *zap.Logger) (*ShopifyClient, error) {
	if config == nil || config.ShopDomain == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "shop domain is required")
	}
	if config.AccessToken == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "access token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	perPage := config.PerPage
	if perPage <= 0 || perPage > 250 {
		perPage = 250
	}

	restCfg := DefaultRESTConfig()
	restCfg.BaseURL = shopifyBaseURL(config.ShopDomain)
	restCfg.RateLimit = 2.0
	restCfg.RateBurst = 1
	restCfg.PerPage = perPage
	restCfg.Headers = map[string]string{
		"X-Shopify-Access-Token": config.AccessToken,
	}

	return &ShopifyClient{
		rest:   NewRESTClient(restCfg, logger),
		logger: logger.With(zap.String("component", "shopify_client")),
	}, nil
}

func shopifyBaseURL(domain string) string {
	domain = strings.TrimRight(domain, "/")
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return fmt.Sprintf("%s/admin/api/%s", domain, shopifyAPIVersion)
}

// TestConnection verifies the credentials by fetching the shop resource.
// It returns the shop's display name.
func (c *ShopifyClient) TestConnection(ctx context.Context) (string, error) {
	body, _, err := c.rest.Get(ctx, "/shop.json", nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "connection test failed")
	}

	var payload struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "unexpected shop payload")
	}

	c.logger.Info("connection verified", zap.String("shop", payload.Shop.Name))
	return payload.Shop.Name, nil
}

// Orders fetches all orders of any status.
func (c *ShopifyClient) Orders(ctx context.Context) (*table.Table, error) {
	params := url.Values{}
	params.Set("status", "any")
	return c.fetchResource(ctx, "orders", params)
}

// Products fetches all products.
func (c *ShopifyClient) Products(ctx context.Context) (*table.Table, error) {
	return c.fetchResource(ctx, "products", nil)
}

// Customers fetches all customers.
func (c *ShopifyClient) Customers(ctx context.Context) (*table.Table, error) {
	return c.fetchResource(ctx, "customers", nil)
}

// InventoryItems fetches inventory levels for every location.
func (c *ShopifyClient) InventoryItems(ctx context.Context) (*table.Table, error) {
	locations, err := c.fetchResource(ctx, "locations", nil)
	if err != nil {
		return nil, err
	}
	idCol := locations.ColumnIndex("id")
	if idCol < 0 || locations.NumRows() == 0 {
		return nil, errors.New(errors.ErrorTypeData, "shop has no locations")
	}

	ids := make([]string, 0, locations.NumRows())
	for i := 0; i < locations.NumRows(); i++ {
		ids = append(ids, fmt.Sprintf("%v", locations.Cell(i, idCol)))
	}

	params := url.Values{}
	params.Set("location_ids", strings.Join(ids, ","))
	t, err := c.rest.FetchPaginated(ctx, "/inventory_levels.json", FetchOptions{
		Mode:         PaginateCursor,
		RecordsKey:   "inventory_levels",
		Params:       params,
		PerPageParam: "limit",
	})
	if err != nil {
		return nil, err
	}
	t.SetName("inventory")
	return t, nil
}

// Resources holds one table per fetched Shopify resource, keyed by
// resource name.
type Resources map[string]*table.Table

// FetchAll pulls the selected resources concurrently. Valid names are
// orders, products, customers and inventory; an empty list fetches all
// four. Rate limiting is shared across the fetches.
func (c *ShopifyClient) FetchAll(ctx context.Context, names []string) (Resources, error) {
	if len(names) == 0 {
		names = []string{"orders", "products", "customers", "inventory"}
	}

	fetchers := map[string]func(context.Context) (*table.Table, error){
		"orders":    c.Orders,
		"products":  c.Products,
		"customers": c.Customers,
		"inventory": c.InventoryItems,
	}

	results := make([]*table.Table, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		fetch, ok := fetchers[name]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "unknown resource %q", name)
		}
		g.Go(func() error {
			t, err := fetch(gctx)
			if err != nil {
				return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to fetch %s", name)
			}
			results[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(Resources, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out, nil
}

// fetchResource pulls one cursor-paginated collection endpoint.
func (c *ShopifyClient) fetchResource(ctx context.Context, resource string, params url.Values) (*table.Table, error) {
	t, err := c.rest.FetchPaginated(ctx, "/"+resource+".json", FetchOptions{
		Mode:         PaginateCursor,
		RecordsKey:   resource,
		Params:       params,
		PerPageParam: "limit",
	})
	if err != nil {
		return nil, err
	}
	t.SetName(resource)
	c.logger.Info("fetched resource",
		zap.String("resource", resource),
		zap.Int("rows", t.NumRows()))
	return t, nil
}
