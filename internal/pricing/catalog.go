// Package pricing owns the action cost catalog: which action keys exist, which
// stored action code each maps to and what a hold for it costs.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Canonical action keys
const (
	ImageGenerate     = "image_generate"
	TextTo3DGenerate  = "text_to_3d_generate"
	ImageTo3DGenerate = "image_to_3d_generate"
	Refine            = "refine"
	Remesh            = "remesh"
	Retexture         = "retexture"
	Rigging           = "rigging"
	VideoGenerate     = "video_generate"
	VideoTextGenerate = "video_text_generate"
	VideoImageAnimate = "video_image_animate"
	GeminiVideo       = "gemini_video"
)

var canonicalToCode = map[string]string{
	ImageGenerate:     "OPENAI_IMAGE",
	TextTo3DGenerate:  "MESHY_TEXT_TO_3D",
	ImageTo3DGenerate: "MESHY_IMAGE_TO_3D",
	Refine:            "MESHY_REFINE",
	Remesh:            "MESHY_REFINE",
	Retexture:         "MESHY_RETEXTURE",
	Rigging:           "MESHY_RIG",
	VideoGenerate:     "VIDEO_GENERATE",
	VideoTextGenerate: "VIDEO_TEXT_GENERATE",
	VideoImageAnimate: "VIDEO_IMAGE_ANIMATE",
	GeminiVideo:       "GEMINI_VIDEO",
}

// legacy keys still sent by older clients
var aliasToCanonical = map[string]string{
	"image_studio_generate": ImageGenerate,
	"openai-image":          ImageGenerate,
	"text-to-image":         ImageGenerate,
	"image-studio":          ImageGenerate,
	"nano-image":            ImageGenerate,
	"preview":               TextTo3DGenerate,
	"text-to-3d":            TextTo3DGenerate,
	"text-to-3d-preview":    TextTo3DGenerate,
	"image-to-3d":           ImageTo3DGenerate,
	"text-to-3d-refine":     Refine,
	"upscale":               Refine,
	"text-to-3d-remesh":     Remesh,
	"texture":               Retexture,
	"rig":                   Rigging,
	"video":                 VideoGenerate,
	"video-generate":        VideoGenerate,
	"text2video":            VideoTextGenerate,
	"video-text-generate":   VideoTextGenerate,
	"image2video":           VideoImageAnimate,
	"video-image-animate":   VideoImageAnimate,
}

// DefaultCosts are used until a Source overrides them
var DefaultCosts = map[string]int64{
	"MESHY_TEXT_TO_3D":    20,
	"MESHY_REFINE":        10,
	"MESHY_RETEXTURE":     15,
	"MESHY_IMAGE_TO_3D":   30,
	"MESHY_RIG":           25,
	"OPENAI_IMAGE":        10,
	"VIDEO_GENERATE":      60,
	"VIDEO_TEXT_GENERATE": 60,
	"VIDEO_IMAGE_ANIMATE": 60,
	"GEMINI_VIDEO":        80,
}

// ErrUnknownAction indicates a key that maps to no action code
type ErrUnknownAction struct {
	ActionKey string
}

func (e ErrUnknownAction) Error() string {
	return "unknown action: " + e.ActionKey
}

// Is matches any ErrUnknownAction
func (e ErrUnknownAction) Is(target error) bool {
	_, ok := target.(ErrUnknownAction)
	return ok
}

// Source loads stored cost overrides keyed by action code
type Source interface {
	LoadCosts(ctx context.Context) (map[string]int64, error)
}

// Quote is the price of one action
type Quote struct {
	ActionKey  string `json:"action_key"`
	Canonical  string `json:"canonical_key"`
	ActionCode string `json:"action_code"`
	Cost       int64  `json:"cost_credits"`
}

// Normalize maps any known key to its canonical form
func Normalize(actionKey string) (string, bool) {
	if _, ok := canonicalToCode[actionKey]; ok {
		return actionKey, true
	}
	if canonical, ok := aliasToCanonical[actionKey]; ok {
		return canonical, true
	}

	normalized := strings.ToLower(strings.ReplaceAll(actionKey, "-", "_"))
	if _, ok := canonicalToCode[normalized]; ok {
		return normalized, true
	}
	if canonical, ok := aliasToCanonical[normalized]; ok {
		return canonical, true
	}
	return "", false
}

// Catalog is the refreshable action cost table
type Catalog struct {
	mu     sync.RWMutex
	costs  map[string]int64
	source Source
	logger *slog.Logger
}

// NewCatalog seeds the catalog with DefaultCosts. source may be nil.
func NewCatalog(source Source, logger *slog.Logger) *Catalog {
	costs := make(map[string]int64, len(DefaultCosts))
	for code, cost := range DefaultCosts {
		costs[code] = cost
	}
	return &Catalog{
		costs:  costs,
		source: source,
		logger: logger,
	}
}

// ActionCode resolves a canonical key, alias or stored action code
func (c *Catalog) ActionCode(actionKey string) (string, error) {
	if canonical, ok := Normalize(actionKey); ok {
		return canonicalToCode[canonical], nil
	}

	c.mu.RLock()
	_, known := c.costs[actionKey]
	c.mu.RUnlock()
	if known {
		return actionKey, nil
	}
	return "", ErrUnknownAction{ActionKey: actionKey}
}

// Quote prices an action. A known action whose cost is missing or zero is free.
func (c *Catalog) Quote(actionKey string) (Quote, error) {
	code, err := c.ActionCode(actionKey)
	if err != nil {
		return Quote{}, err
	}
	canonical, _ := Normalize(actionKey)

	c.mu.RLock()
	cost := c.costs[code]
	c.mu.RUnlock()

	return Quote{
		ActionKey:  actionKey,
		Canonical:  canonical,
		ActionCode: code,
		Cost:       cost,
	}, nil
}

// Costs lists the cost of every canonical key
func (c *Catalog) Costs() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int64, len(canonicalToCode))
	for canonical, code := range canonicalToCode {
		out[canonical] = c.costs[code]
	}
	return out
}

// ActionCodes lists every priced action code in order
func (c *Catalog) ActionCodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	codes := make([]string, 0, len(c.costs))
	for code := range c.costs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Refresh layers the source's stored costs over the defaults
func (c *Catalog) Refresh(ctx context.Context) error {
	if c.source == nil {
		return nil
	}

	stored, err := c.source.LoadCosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh action costs: %w", err)
	}

	costs := make(map[string]int64, len(DefaultCosts)+len(stored))
	for code, cost := range DefaultCosts {
		costs[code] = cost
	}
	for code, cost := range stored {
		costs[code] = cost
	}

	c.mu.Lock()
	c.costs = costs
	c.mu.Unlock()

	c.logger.Info("Action costs refreshed", "stored", len(stored), "total", len(costs))
	return nil
}

// Run refreshes on every tick until ctx is cancelled
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	c.logger.Info("Starting pricing refresh loop", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Pricing refresh loop stopping due to context cancellation.")
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Error("Failed to refresh action costs, keeping previous catalog", "error", err)
			}
		}
	}
}
