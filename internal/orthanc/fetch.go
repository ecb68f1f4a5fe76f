package orthanc

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/imaging-churn/internal/features"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// DefaultWorkers is the number of concurrent instance downloads.
const DefaultWorkers = 4

// Source is the subset of Client used by Fetch.
type Source interface {
	GetInstanceFile(ctx context.Context, instanceID string) ([]byte, error)
	GetInstanceSimplifiedTags(ctx context.Context, instanceID string) (map[string]string, error)
}

// Fetch downloads and extracts every instance. Records keep the order of
// ids. Instances that fail to download or decode are reported in Skipped
// with the path "orthanc:<id>". Missing header values are filled from the
// simplified tags.
func Fetch(ctx context.Context, src Source, ids []string, workers int) (features.BatchResult, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	log := GetLogger()

	records := make([]*features.ImageRecord, len(ids))
	failures := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := fetchOne(gctx, src, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failures[i] = err
				return nil
			}
			records[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return features.BatchResult{}, err
	}

	result := features.BatchResult{Records: make([]features.ImageRecord, 0, len(ids))}
	for i, id := range ids {
		if failures[i] != nil {
			log.Warn("skipping orthanc instance",
				logger.String("instance", id),
				logger.Error(failures[i]))
			result.Skipped = append(result.Skipped, features.FileError{Path: "orthanc:" + id, Err: failures[i]})
			continue
		}
		result.Records = append(result.Records, *records[i])
	}

	log.Info("orthanc fetch finished",
		logger.Int("instances", len(ids)),
		logger.Int("records", len(result.Records)),
		logger.Int("skipped", len(result.Skipped)))
	return result, nil
}

func fetchOne(ctx context.Context, src Source, id string) (features.ImageRecord, error) {
	data, err := src.GetInstanceFile(ctx, id)
	if err != nil {
		return features.ImageRecord{}, err
	}
	img, meta, err := features.DecodeDICOMBytes(data)
	if err != nil {
		return features.ImageRecord{}, err
	}

	if meta.InstitutionName == "" || meta.Modality == "" || meta.SliceThickness == "" {
		tags, err := src.GetInstanceSimplifiedTags(ctx, id)
		if err != nil {
			GetLogger().Debug("simplified tags unavailable",
				logger.String("instance", id),
				logger.Error(err))
		} else {
			meta = fillMetadata(meta, tags)
		}
	}
	return features.Extract(img, meta)
}

func fillMetadata(meta features.Metadata, tags map[string]string) features.Metadata {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = strings.TrimSpace(tags[key])
		}
	}
	fill(&meta.InstitutionName, "InstitutionName")
	fill(&meta.Modality, "Modality")
	fill(&meta.SliceThickness, "SliceThickness")
	return meta
}
