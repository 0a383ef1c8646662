package identity

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mssola/useragent"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/fakeyudi/viewtrack/internal/logger"
)

// ErrRateLimited is returned by the geo lookup when the provider answers 429.
var ErrRateLimited = errors.New("geo lookup rate limited")

// Hint carries what the server knows about a connecting viewer.
type Hint struct {
	RemoteIP     string
	UserAgent    string
	StoredUserID string // from a cookie or the on-disk store; may be empty
	Screen       string // "WxH" as reported by the surface; may be empty
}

// Geo is the subset of a geo lookup response the identity uses.
type Geo struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
	Loc     string `json:"loc"`
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// GeoEndpoint is a URL template; "{ip}" is replaced by the viewer's IP.
	// Empty disables the lookup and reports unknown location values.
	GeoEndpoint string

	HTTPClient *http.Client
	Logger     *zap.Logger

	// RetryInitial and RetryMaxElapsed bound the backoff applied when the
	// geo provider rate limits us.
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
}

// Resolver fills an identity Context from a connection hint: device
// attributes immediately, geo attributes once the lookup completes.
type Resolver struct {
	cfg    ResolverConfig
	client *http.Client
	logger *zap.Logger
}

// NewResolver returns a Resolver for cfg.
func NewResolver(cfg ResolverConfig) *Resolver {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	lg := logger.OrNop(cfg.Logger)
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 2 * time.Second
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 2 * time.Minute
	}
	return &Resolver{cfg: cfg, client: client, logger: lg}
}

// Device derives the attributes that need no network call.
func (r *Resolver) Device(h Hint) Identity {
	ua := useragent.New(h.UserAgent)

	osName := ua.OS()
	if osName == "" {
		osName = "Unknown OS"
	}
	browser, _ := ua.Browser()
	if browser == "" {
		browser = "Unknown Browser"
	}
	device := "Desktop"
	if ua.Mobile() {
		device = "Mobile"
	}
	ip := h.RemoteIP
	if ip == "" {
		ip = "Unknown IP"
	}

	userID := h.StoredUserID
	if userID == "" {
		userID = UserHash(osName, ua.Platform(), device, h.Screen, ip)
	}

	return Identity{
		IP:      ip,
		UserID:  userID,
		OS:      osName,
		Device:  device,
		Browser: browser,
	}
}

// UserHash derives a stable user id from device fingerprint parts.
func UserHash(parts ...string) string {
	sum := blake3.Sum256([]byte(strings.Join(parts, "-")))
	return hex.EncodeToString(sum[:])
}

// Resolve writes device attributes into c, then looks up geo attributes
// and writes those too. It never fails: an unreachable provider yields
// "Unknown ..." values so the identity still stabilises.
func (r *Resolver) Resolve(ctx context.Context, h Hint, c *Context) {
	dev := r.Device(h)
	c.Update(dev)

	geo, err := r.Lookup(ctx, dev.IP)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("geo lookup failed", zap.String("ip", logger.MaskIP(dev.IP)), zap.Error(err))
	}
	c.Update(geo.identity())
}

func (g Geo) identity() Identity {
	city := orDefault(g.City, "Unknown City")
	country := orDefault(g.Country, "XX")
	region := g.Region
	if region == "" {
		region = orDefault(g.Country, "Unknown Region")
	}
	return Identity{
		Location: city + ", " + country,
		Region:   region,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Lookup queries the geo provider for ip, retrying with exponential
// backoff while the provider rate limits.
func (r *Resolver) Lookup(ctx context.Context, ip string) (Geo, error) {
	if r.cfg.GeoEndpoint == "" {
		return Geo{}, nil
	}
	url := strings.ReplaceAll(r.cfg.GeoEndpoint, "{ip}", ip)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.RetryInitial
	bo.MaxElapsedTime = r.cfg.RetryMaxElapsed

	return backoff.RetryWithData(func() (Geo, error) {
		geo, err := r.fetchGeo(ctx, url)
		if errors.Is(err, ErrRateLimited) {
			r.logger.Info("geo lookup rate limited, backing off", zap.String("ip", logger.MaskIP(ip)))
			return Geo{}, err
		}
		if err != nil {
			return Geo{}, backoff.Permanent(err)
		}
		return geo, nil
	}, backoff.WithContext(bo, ctx))
}

func (r *Resolver) fetchGeo(ctx context.Context, url string) (Geo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Geo{}, fmt.Errorf("build geo request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Geo{}, fmt.Errorf("geo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Geo{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Geo{}, fmt.Errorf("geo request: unexpected status %d", resp.StatusCode)
	}

	var geo Geo
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil {
		return Geo{}, fmt.Errorf("decode geo response: %w", err)
	}
	return geo, nil
}
