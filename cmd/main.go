package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vehicle-valuation/internal/api"
	"vehicle-valuation/internal/cache"
	"vehicle-valuation/internal/config"
	"vehicle-valuation/internal/discovery"
	"vehicle-valuation/internal/engine"
	"vehicle-valuation/internal/models"
	"vehicle-valuation/internal/normalize"
	"vehicle-valuation/internal/parser"
	"vehicle-valuation/internal/rto"
)

var (
	dbPath string
	cfg    *config.Config
	store  cache.Store
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vehicle-valuation",
		Short: "Vehicle Valuation Engine - resale and IDV pricing for Indian used vehicles",
		Long: `A CLI and REST API for valuing used vehicles registered in India.
Looks up registration details by RC number, discovers live market prices,
and computes fair market resale value, dealer purchase price, and the
Insured Declared Value with SQLite-backed caching.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if err := config.InitLogger(cfg.Log); err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")

	// Add commands
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(valueCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(idvCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initStore opens the valuation cache database
func initStore() error {
	var err error
	store, err = cache.NewSQLite(cfg.Database.Path, nil)
	return err
}

func buildClients() (rto.Client, discovery.Client) {
	var rtoClient rto.Client
	if cfg.RTO.Token != "" {
		rtoClient = rto.NewClient(cfg.RTO.Token, rto.WithBaseURL(cfg.RTO.BaseURL))
	}
	var discoveryClient discovery.Client
	if cfg.Discovery.Key != "" {
		discoveryClient = discovery.NewClient(cfg.Discovery.Key,
			discovery.WithBaseURL(cfg.Discovery.BaseURL),
			discovery.WithModel(cfg.Discovery.Model))
	}
	return rtoClient, discoveryClient
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initStore(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer store.Close()

			rtoClient, discoveryClient := buildClients()
			server := api.NewServer(store, engine.New(), rtoClient, discoveryClient)

			if port == 0 {
				port = cfg.Server.Port
			}
			addr := fmt.Sprintf(":%d", port)

			fmt.Printf("🚗 Vehicle Valuation API Server\n")
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Database: %s\n\n", cfg.Database.Path)
			fmt.Println("Available endpoints:")
			fmt.Println("  GET  /health")
			fmt.Println("  POST /api/v1/valuation/manual")
			fmt.Println("  POST /api/v1/valuation/rc")
			fmt.Println("  POST /api/v1/valuation/batch")
			fmt.Println("  POST /api/v1/idv/calculate")
			fmt.Println("  POST /api/v1/idv/rc")
			fmt.Println("  POST /api/v1/idv/gemini")
			fmt.Println("  POST /api/v1/rc/details")
			fmt.Println("  GET  /api/v1/valuations/recent")
			fmt.Println("  GET  /api/v1/valuations/{rc_number}")
			fmt.Println("  GET  /api/v1/stats")
			fmt.Println()

			return http.ListenAndServe(addr, server.Router())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Server port (overrides config)")
	return cmd
}

// valueCmd computes a resale valuation from the command line
func valueCmd() *cobra.Command {
	var raw normalize.RawAttributes
	var exShowroom, listingsMean float64
	var listingCount, odometer int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "value",
		Short: "Compute resale value for a vehicle",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := normalize.Vehicle(raw)
			if err != nil {
				return err
			}
			rec.OdometerKM = odometer

			result, err := engine.New().Resale(engine.ResaleInput{
				Record:             *rec,
				CurrentExShowroom:  exShowroom,
				MarketListingsMean: listingsMean,
				MarketListingCount: listingCount,
				OdometerKM:         odometer,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			fmt.Printf("💰 Resale Valuation: %s %s (%s, %s)\n", rec.Make, rec.BaseModel, rec.ManufacturingYear, rec.City)
			fmt.Println("=============================================")
			fmt.Printf("  Vehicle Age:        %v\n", result.Metadata["vehicle_age_months"])
			fmt.Printf("  Book Value:         ₹%.2f\n", result.Metadata["book_value"])
			fmt.Printf("  Fair Market Value:  ₹%.2f\n", result.FairMarketRetailValue)
			fmt.Printf("  Dealer Purchase:    ₹%.2f\n", result.DealerPurchasePrice)
			return nil
		},
	}

	cmd.Flags().StringVar(&raw.MakerDescription, "make", "", "Manufacturer name as it appears on the RC")
	cmd.Flags().StringVar(&raw.MakerModel, "model", "", "Model name")
	cmd.Flags().StringVar(&raw.ManufacturingDate, "mfg-date", "", "Manufacturing date (YYYY-MM or YYYY)")
	cmd.Flags().StringVar(&raw.FuelType, "fuel", "PETROL", "Fuel type")
	cmd.Flags().StringVar(&raw.BodyType, "body", "", "Body type")
	cmd.Flags().StringVar(&raw.VehicleCategory, "category", "", "Vehicle category")
	cmd.Flags().StringVar(&raw.RegisteredAt, "city", "", "Registration city")
	cmd.Flags().StringVar(&raw.Color, "color", "", "Color")
	cmd.Flags().IntVar(&raw.OwnerCount, "owners", 1, "Number of owners")
	cmd.Flags().Float64Var(&exShowroom, "ex-showroom", 0, "Current ex-showroom price (INR)")
	cmd.Flags().Float64Var(&listingsMean, "listings-mean", 0, "Mean price of comparable listings (INR)")
	cmd.Flags().IntVar(&listingCount, "listing-count", 0, "Number of comparable listings")
	cmd.Flags().IntVar(&odometer, "odometer", 0, "Actual odometer reading (km)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("make")
	cmd.MarkFlagRequired("model")
	cmd.MarkFlagRequired("mfg-date")
	cmd.MarkFlagRequired("ex-showroom")
	return cmd
}

// batchCmd values vehicles from a file, offline
func batchCmd() *cobra.Command {
	var format string
	var validate bool
	var persist bool

	cmd := &cobra.Command{
		Use:   "batch [file...]",
		Short: "Value vehicles from CSV or JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if persist {
				if err := initStore(); err != nil {
					return fmt.Errorf("database error: %w", err)
				}
				defer store.Close()
			}

			p := parser.NewParser(format)
			eng := engine.New()
			totalValued := 0
			totalErrors := 0

			for _, file := range args {
				fmt.Printf("Processing %s...\n", file)
				start := time.Now()

				entries, err := p.ParseFile(file)
				if err != nil {
					fmt.Printf("  Error: %v\n", err)
					totalErrors++
					continue
				}

				for _, entry := range entries {
					if validate {
						if errs := parser.Validate(&entry); len(errs) > 0 {
							fmt.Printf("  Warning: %s %s: %s\n", entry.MakerDescription, entry.MakerModel, errs[0])
							totalErrors++
							continue
						}
					}

					rec, err := normalize.Vehicle(entry.RawAttributes)
					if err != nil {
						fmt.Printf("  Warning: %s %s: %v\n", entry.MakerDescription, entry.MakerModel, err)
						totalErrors++
						continue
					}
					rec.OdometerKM = entry.OdometerKM

					resale, err := eng.Resale(engine.ResaleInput{
						Record:             *rec,
						CurrentExShowroom:  entry.CurrentExShowroom,
						MarketListingsMean: entry.MarketListingsMean,
						MarketListingCount: entry.MarketListingCount,
						OdometerKM:         entry.OdometerKM,
					})
					if err != nil {
						fmt.Printf("  Warning: %s %s: %v\n", rec.Make, rec.BaseModel, err)
						totalErrors++
						continue
					}

					fmt.Printf("  %s %s (%s): fair ₹%.2f, dealer ₹%.2f\n",
						rec.Make, rec.BaseModel, rec.ManufacturingYear,
						resale.FairMarketRetailValue, resale.DealerPurchasePrice)
					totalValued++

					if persist {
						cr := &models.CacheRecord{
							RCNumber:              rec.RCNumber,
							Make:                  rec.Make,
							BaseModel:             rec.BaseModel,
							ManufacturingYear:     rec.ManufacturingYear,
							City:                  rec.City,
							FuelType:              string(rec.FuelType),
							OwnerCount:            rec.OwnerCount,
							CurrentExShowroom:     entry.CurrentExShowroom,
							MarketListingsMean:    entry.MarketListingsMean,
							FairMarketRetailValue: resale.FairMarketRetailValue,
							DealerPurchasePrice:   resale.DealerPurchasePrice,
							Source:                "batch",
						}
						if v, ok := resale.Metadata["base_depreciation_percent"].(float64); ok {
							cr.BaseDepreciationPercent = v
						}
						if v, ok := resale.Metadata["book_value"].(float64); ok {
							cr.BookValue = v
						}
						if err := store.Put(cmd.Context(), cr); err != nil {
							fmt.Printf("  Warning: failed to store %s %s: %v\n", rec.Make, rec.BaseModel, err)
						}
					}
				}

				fmt.Printf("  ✓ Valued %d vehicles in %v\n", len(entries), time.Since(start))
			}

			fmt.Printf("\nTotal: %d vehicles valued", totalValued)
			if totalErrors > 0 {
				fmt.Printf(", %d errors", totalErrors)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "File format (csv, json)")
	cmd.Flags().BoolVarP(&validate, "validate", "v", true, "Validate entries before valuing")
	cmd.Flags().BoolVar(&persist, "store", false, "Store computed valuations in the cache database")
	return cmd
}

// idvCmd runs the full RC-driven pipeline for one vehicle
func idvCmd() *cobra.Command {
	var skipCache bool
	var timeoutSecs int

	cmd := &cobra.Command{
		Use:   "idv [rc_number]",
		Short: "Look up a vehicle by RC number and compute its valuation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initStore(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer store.Close()

			rtoClient, discoveryClient := buildClients()
			if rtoClient == nil || discoveryClient == nil {
				return fmt.Errorf("rto token and discovery key must be configured")
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)
			defer cancel()

			regRecord, err := rtoClient.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			rec, err := normalize.Vehicle(regRecord.Raw())
			if err != nil {
				return err
			}

			eng := engine.New()
			if !skipCache {
				cached, cacheErr := store.Get(ctx, normalize.Key(rec))
				if cacheErr != nil {
					zap.L().Warn("cache lookup failed, recomputing", zap.Error(cacheErr))
				} else if cached != nil {
					fmt.Printf("📦 Cached valuation from %s\n", cached.CreatedAt.Format("2006-01-02"))
					fmt.Printf("  Fair Market Value:  ₹%.2f\n", cached.FairMarketRetailValue)
					fmt.Printf("  Dealer Purchase:    ₹%.2f\n", cached.DealerPurchasePrice)
					fmt.Printf("  IDV:                ₹%.2f (%s)\n", cached.CalculatedIDV, cached.ValidationStatus)
					return nil
				}
			}

			suggestion, err := discoveryClient.Suggest(ctx, discovery.Descriptor{
				Make:              rec.Make,
				Model:             rec.BaseModel,
				ManufacturingYear: rec.ManufacturingYear,
				City:              rec.City,
				FuelType:          string(rec.FuelType),
				Class:             string(rec.Class),
			})
			if err != nil {
				return err
			}

			resale, err := eng.Resale(engine.ResaleInput{
				Record:             *rec,
				CurrentExShowroom:  suggestion.CurrentExShowroom,
				MarketListingsMean: suggestion.MarketListingsMean,
				MarketListingCount: suggestion.MarketListingCount,
			})
			if err != nil {
				return err
			}

			onRoad := suggestion.OriginalOnRoadPrice
			if onRoad <= 0 {
				onRoad = suggestion.CurrentExShowroom
			}
			idv, err := eng.IDV(engine.IDVInput{
				Record:               *rec,
				OriginalOnRoadPrice:  onRoad,
				MarketMedianEstimate: suggestion.MarketMedianIDV,
			})
			if err != nil {
				return err
			}

			fmt.Printf("🚗 %s %s (%s, %s)\n", rec.Make, rec.BaseModel, rec.ManufacturingYear, rec.City)
			fmt.Println("=============================================")
			fmt.Printf("  Vehicle Age:        %s\n", idv.VehicleAge)
			fmt.Printf("  Fair Market Value:  ₹%.2f\n", resale.FairMarketRetailValue)
			fmt.Printf("  Dealer Purchase:    ₹%.2f\n", resale.DealerPurchasePrice)
			fmt.Printf("  IDV:                ₹%.2f\n", idv.CalculatedIDV)
			fmt.Printf("  Validation:         %s (confidence %.0f)\n", idv.ValidationStatus, idv.ConfidenceScore)

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipCache, "skip-cache", false, "Bypass the valuation cache")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 120, "Pipeline timeout in seconds")
	return cmd
}

// historyCmd lists stored valuations for a vehicle
func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [rc_number]",
		Short: "Show stored valuations for a vehicle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initStore(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer store.Close()

			records, err := store.History(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("error reading history: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("No valuations found.")
				return nil
			}

			fmt.Printf("%-12s %-20s %-6s %14s %14s\n", "Date", "Vehicle", "Year", "Fair Market", "IDV")
			for _, rec := range records {
				fmt.Printf("%-12s %-20s %-6s %14.2f %14.2f\n",
					rec.CreatedAt.Format("2006-01-02"),
					rec.Make+" "+rec.BaseModel,
					rec.ManufacturingYear,
					rec.FairMarketRetailValue,
					rec.CalculatedIDV)
			}
			return nil
		},
	}
}

// statsCmd shows cache statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show valuation cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initStore(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer store.Close()

			stats, err := store.Stats(context.Background())
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("📊 Vehicle Valuation Cache Statistics")
			fmt.Println("=====================================")
			fmt.Printf("  Total Valuations:   %v\n", stats["total_valuations"])
			fmt.Printf("  Fresh Valuations:   %v\n", stats["fresh_valuations"])
			fmt.Printf("  Distinct Vehicles:  %v\n", stats["distinct_vehicles"])
			fmt.Printf("  Database:           %s\n", cfg.Database.Path)

			return nil
		},
	}
}
