// Package relay validates scraped artifacts against the run's selection and
// quota filters and forwards accepted ones to the downstream collaborators.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-coordinator/internal/coord"
	"github.com/JakeFAU/storefront-coordinator/internal/hash/sha256"
	"github.com/JakeFAU/storefront-coordinator/internal/progress"
	"github.com/JakeFAU/storefront-coordinator/internal/quota"
	"github.com/JakeFAU/storefront-coordinator/internal/selection"
)

// Config controls relay behavior.
type Config struct {
	// OperatorKey is the opaque credential forwarded to the persistence
	// collaborator with every save.
	OperatorKey string
	// BlobPrefix namespaces uploaded artifact objects.
	BlobPrefix string
	// Topic is the publish topic for accepted-product notifications.
	Topic string
}

// Relay filters and forwards scraped artifacts. Artifacts failing the filters
// are skipped; downstream failures are logged and the artifact is dropped,
// never retried. Source data is re-derivable by re-crawling, so there is no
// durable queue here.
type Relay struct {
	selected  *selection.Registry
	quota     *quota.Counter
	products  coord.ProductStore
	blobs     coord.BlobStore
	publisher coord.Publisher
	hasher    coord.Hasher
	clock     coord.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// ProductResult reports the outcome of a product-data ingestion.
type ProductResult struct {
	// Skip is true when the store is not part of the run's selected set.
	Skip bool
	// Accepted is how many products fit into the remaining quota.
	Accepted int
	// Stop is true when the quota cut the batch short or is exhausted.
	Stop bool
	// Total and Target mirror the quota counter after the reservation.
	Total      int
	Target     int
	ShouldStop bool
}

// New constructs a Relay.
func New(
	selected *selection.Registry,
	quotaCounter *quota.Counter,
	products coord.ProductStore,
	blobs coord.BlobStore,
	publisher coord.Publisher,
	hasher coord.Hasher,
	clock coord.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "artifacts"
	}
	return &Relay{
		selected:  selected,
		quota:     quotaCounter,
		products:  products,
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// IngestProducts reserves quota for the batch and forwards the granted prefix
// to persistence. A partially granted batch still persists what was granted
// and reports stop for the remainder.
func (r *Relay) IngestProducts(ctx context.Context, runID, storeID string, items []coord.Product) ProductResult {
	storeID = coord.NormalizeStoreID(storeID)
	if !r.selected.Contains(runID, storeID) {
		r.emit(progress.Event{
			Stage: progress.StageProductRejected, RunID: runID, StoreID: storeID,
			Count: len(items), Note: "store not selected",
		})
		return ProductResult{Skip: true}
	}

	granted := r.quota.TryReserve(len(items))
	status := r.quota.Status()
	res := ProductResult{
		Accepted:   granted,
		Stop:       granted < len(items) || status.ShouldStop,
		Total:      status.Total,
		Target:     status.Target,
		ShouldStop: status.ShouldStop,
	}
	for _, p := range items[:granted] {
		p.StoreID = storeID
		if err := r.products.SaveProduct(ctx, r.cfg.OperatorKey, p); err != nil {
			// Dropped, not retried; the crawl must keep moving.
			r.logger.Warn("product save failed",
				zap.String("store_id", storeID),
				zap.String("product_id", p.ProductID),
				zap.Error(err),
			)
			r.emit(progress.Event{
				Stage: progress.StageArtifactDropped, RunID: runID,
				StoreID: storeID, ProductID: p.ProductID, Note: err.Error(),
			})
			continue
		}
		r.emit(progress.Event{
			Stage: progress.StageProductAccepted, RunID: runID,
			StoreID: storeID, ProductID: p.ProductID, Count: 1,
		})
		r.notify(ctx, storeID, p)
	}
	return res
}

// IngestImage uploads the image bytes, then records the resulting URL on the
// product. Returns the blob URL on success.
func (r *Relay) IngestImage(ctx context.Context, runID, storeID, productID, contentType string, data []byte) (string, bool, error) {
	storeID = coord.NormalizeStoreID(storeID)
	if !r.selected.Contains(runID, storeID) {
		return "", true, nil
	}
	object := fmt.Sprintf("%s/%s/%s/image", r.cfg.BlobPrefix, storeID, productID)
	start := r.clock.Now()
	url, err := r.blobs.Upload(ctx, object, contentType, data)
	if err != nil {
		r.drop(runID, storeID, productID, "image upload", err)
		return "", false, fmt.Errorf("upload image: %w", err)
	}
	if digest, hashErr := r.hasher.Hash(data); hashErr == nil {
		r.logger.Debug("image uploaded",
			zap.String("object", object),
			zap.String("digest", digest),
			zap.Int("bytes", len(data)),
		)
	}
	if err := r.products.SaveProduct(ctx, r.cfg.OperatorKey, coord.Product{
		StoreID:   storeID,
		ProductID: productID,
		ImageURL:  url,
	}); err != nil {
		r.drop(runID, storeID, productID, "image url save", err)
		return "", false, fmt.Errorf("save image url: %w", err)
	}
	r.emit(progress.Event{
		Stage: progress.StageArtifactForward, RunID: runID, StoreID: storeID,
		ProductID: productID, Dur: r.clock.Now().Sub(start), Note: "image",
	})
	return url, false, nil
}

// IngestName records a scraped product title.
func (r *Relay) IngestName(ctx context.Context, runID, storeID, productID, name string) (bool, error) {
	storeID = coord.NormalizeStoreID(storeID)
	if !r.selected.Contains(runID, storeID) {
		return true, nil
	}
	if err := r.products.SaveProduct(ctx, r.cfg.OperatorKey, coord.Product{
		StoreID:   storeID,
		ProductID: productID,
		Name:      name,
	}); err != nil {
		r.drop(runID, storeID, productID, "name save", err)
		return false, fmt.Errorf("save product name: %w", err)
	}
	r.emit(progress.Event{
		Stage: progress.StageArtifactForward, RunID: runID, StoreID: storeID,
		ProductID: productID, Note: "name",
	})
	return false, nil
}

// IngestReviews records a scraped review set.
func (r *Relay) IngestReviews(ctx context.Context, runID, storeID string, reviews []coord.Review) (bool, error) {
	storeID = coord.NormalizeStoreID(storeID)
	if !r.selected.Contains(runID, storeID) {
		return true, nil
	}
	if err := r.products.SaveReviews(ctx, r.cfg.OperatorKey, storeID, reviews); err != nil {
		r.drop(runID, storeID, "", "reviews save", err)
		return false, fmt.Errorf("save reviews: %w", err)
	}
	r.emit(progress.Event{
		Stage: progress.StageArtifactForward, RunID: runID, StoreID: storeID,
		Count: len(reviews), Note: "reviews",
	})
	return false, nil
}

// IngestPairings records cross-market pairings.
func (r *Relay) IngestPairings(ctx context.Context, runID, storeID string, pairings []coord.Pairing) (bool, error) {
	storeID = coord.NormalizeStoreID(storeID)
	if !r.selected.Contains(runID, storeID) {
		return true, nil
	}
	if err := r.products.SaveTaobaoPairings(ctx, r.cfg.OperatorKey, storeID, pairings); err != nil {
		r.drop(runID, storeID, "", "pairings save", err)
		return false, fmt.Errorf("save pairings: %w", err)
	}
	r.emit(progress.Event{
		Stage: progress.StageArtifactForward, RunID: runID, StoreID: storeID,
		Count: len(pairings), Note: "pairings",
	})
	return false, nil
}

// ArchiveListing uploads a store's full product listing as a JSON blob and
// records the keyword set derived from the listed product names.
func (r *Relay) ArchiveListing(ctx context.Context, runID, storeID string, items []coord.Product) (bool, error) {
	storeID = coord.NormalizeStoreID(storeID)
	if !r.selected.Contains(runID, storeID) {
		return true, nil
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return false, fmt.Errorf("marshal listing: %w", err)
	}
	object := fmt.Sprintf("%s/%s/listing.json", r.cfg.BlobPrefix, storeID)
	if _, err := r.blobs.Upload(ctx, object, "application/json", payload); err != nil {
		r.drop(runID, storeID, "", "listing upload", err)
		return false, fmt.Errorf("upload listing: %w", err)
	}
	if digest, hashErr := r.hasher.Hash(payload); hashErr == nil {
		r.logger.Debug("listing archived",
			zap.String("object", object),
			zap.String("digest", digest),
			zap.Int("bytes", len(payload)),
		)
	}
	if keywords := listingKeywords(items); len(keywords) > 0 {
		if err := r.products.SaveKeywords(ctx, r.cfg.OperatorKey, storeID, keywords); err != nil {
			// The archived blob is the source of truth; keyword rows are a
			// convenience index and their loss is tolerable.
			r.logger.Warn("keyword save failed",
				zap.String("store_id", storeID),
				zap.Error(err),
			)
		}
	}
	r.emit(progress.Event{
		Stage: progress.StageArtifactForward, RunID: runID, StoreID: storeID,
		Count: len(items), Note: "listing",
	})
	return false, nil
}

// listingKeywords tokenizes product names into a deduplicated keyword set.
func listingKeywords(items []coord.Product) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range items {
		for _, tok := range strings.Fields(strings.ToLower(p.Name)) {
			if len(tok) < 2 {
				continue
			}
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

// CheckDuplicate reports whether productID was already collected for the
// store. Collection is at-least-once, so workers ask before re-visiting.
func (r *Relay) CheckDuplicate(ctx context.Context, storeID, productID string) (bool, error) {
	storeID = coord.NormalizeStoreID(storeID)
	existing, err := r.products.GetProducts(ctx, r.cfg.OperatorKey, storeID)
	if err != nil {
		return false, fmt.Errorf("load products: %w", err)
	}
	for _, p := range existing {
		if p.ProductID == productID {
			return true, nil
		}
	}
	return false, nil
}

// notify publishes an accepted-product message. Failures are logged only.
func (r *Relay) notify(ctx context.Context, storeID string, p coord.Product) {
	if r.publisher == nil {
		return
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, p); err != nil {
		r.logger.Warn("product notification failed",
			zap.String("store_id", storeID),
			zap.String("product_id", p.ProductID),
			zap.Error(err),
		)
	}
}

func (r *Relay) drop(runID, storeID, productID, op string, err error) {
	r.logger.Warn("artifact dropped",
		zap.String("op", op),
		zap.String("store_id", storeID),
		zap.String("product_id", productID),
		zap.Error(err),
	)
	r.emit(progress.Event{
		Stage: progress.StageArtifactDropped, RunID: runID, StoreID: storeID,
		ProductID: productID, Note: op,
	})
}

func (r *Relay) emit(evt progress.Event) {
	evt.TS = r.clock.Now()
	r.emitter.Emit(evt)
}
