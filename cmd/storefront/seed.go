package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rabby420bd/tj/common/logger"
	"github.com/rabby420bd/tj/models"
	awspkg "github.com/rabby420bd/tj/pkg/aws"
	"github.com/rabby420bd/tj/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the demo catalog into the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(cmd.Context())
		if err != nil {
			return err
		}
		logger.Initialize(cfg.Env)

		var awsCfg sdkaws.Config
		if cfg.StoreDriver == DriverDynamoDB {
			if awsCfg, err = awspkg.LoadAWSConfig(cmd.Context(), cfg.AWS); err != nil {
				return err
			}
		}
		store, err := openStore(cmd.Context(), cfg, awsCfg, logger.Log)
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		n, err := seedCatalog(cmd.Context(), store, time.Now().UTC())
		if err != nil {
			return err
		}
		logger.Log.Info("Seed complete", zap.Int("inserted", n), zap.Int("catalog_size", len(demoCatalog)))
		return nil
	},
}

var demoCatalog = []models.Product{
	{ID: "demo-winter-hoodie", Name: "Fleece Lined Hoodie", Price: 1450, Category: models.CategoryWinter,
		Description: "Heavy fleece hoodie with kangaroo pocket.",
		Stock:       map[string]int{"M": 6, "L": 8, "XL": 4}},
	{ID: "demo-summer-polo", Name: "Cotton Pique Polo", Price: 690, Category: models.CategorySummer,
		Stock: map[string]int{"S": 5, "M": 10, "L": 10, "XL": 5}},
	{ID: "demo-check-shirt", Name: "Oxford Check Shirt", Price: 1150, Category: models.CategoryShirt,
		Stock: map[string]int{"M": 4, "L": 4, "XL": 2}},
	{ID: "demo-drop-tee", Name: "Drop Shoulder T-Shirt", Price: 450, Category: models.CategoryTShirt,
		Stock: map[string]int{"M": 12, "L": 12, "XL": 8, "XXL": 4}},
	{ID: "demo-eid-panjabi", Name: "Embroidered Eid Panjabi", Price: 2650, Category: models.CategoryPanjabi,
		Stock: map[string]int{"40": 3, "42": 5, "44": 3}},
}

// seedCatalog saves every demo product that is not already present and
// returns how many it inserted.
func seedCatalog(ctx context.Context, store repository.ProductRepository, now time.Time) (int, error) {
	inserted := 0
	for _, p := range demoCatalog {
		_, err := store.FindProductByID(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return inserted, fmt.Errorf("check %s: %w", p.ID, err)
		}

		product := p.Clone()
		product.Slug = product.ID
		product.Images = []string{}
		product.CreatedAt, product.UpdatedAt = now, now
		if err := store.SaveProduct(ctx, product); err != nil {
			return inserted, fmt.Errorf("seed %s: %w", p.ID, err)
		}
		inserted++
	}
	return inserted, nil
}
