package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/tariff-engine/config"
	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/factory"
	"github.com/warp/tariff-engine/obs"
)

var (
	tariffsFile string
	mappingFile string
	jsonOutput  bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Field-service trip tariff reconciliation",
	Long: `Ranks the nearest representatives for work orders, prices trips against the
tariff table and reconciles paid travel allowances (duplicates, daily
itineraries, unmapped visits).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		obs.Setup()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile a payment export against the tariff table",
	RunE:  runReconcile,
}

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Rank the K nearest representatives for a city or coordinate",
	RunE:  runAssign,
}

var nearbyCmd = &cobra.Command{
	Use:   "nearby",
	Short: "List representatives within a radius of a coordinate",
	RunE:  runNearby,
}

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Price one trip from a representative to a city",
	RunE:  runCost,
}

var (
	paymentsFile   string
	outFile        string
	dbPath         string
	k              int
	workers        int
	includeSpecial bool

	city     string
	lat, lon string
	radiusKm float64
	facility string
	orderID  string
)

func init() {
	cfg = config.Load()

	rootCmd.PersistentFlags().StringVarP(&tariffsFile, "tariffs", "t", "", "Tariff table CSV")
	rootCmd.PersistentFlags().StringVarP(&mappingFile, "mapping", "m", cfg.MappingFile, "Column mapping file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")
	rootCmd.MarkPersistentFlagRequired("tariffs")

	runCmd.Flags().StringVarP(&paymentsFile, "payments", "p", "", "Payment export CSV")
	runCmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the full report as JSON to this file")
	runCmd.Flags().StringVar(&dbPath, "db", "", "Also store the run in this SQLite database")
	runCmd.Flags().IntVarP(&k, "k", "k", cfg.K, "Candidates per demand point")
	runCmd.Flags().IntVarP(&workers, "workers", "w", cfg.Workers, "Worker goroutines (0 = NumCPU)")
	runCmd.Flags().BoolVar(&includeSpecial, "include-special", cfg.IncludeSpecial, "Rank special-contract facilities")
	runCmd.MarkFlagRequired("payments")

	assignCmd.Flags().StringVar(&city, "city", "", "Demand city")
	assignCmd.Flags().StringVar(&lat, "lat", "", "Demand latitude")
	assignCmd.Flags().StringVar(&lon, "lon", "", "Demand longitude")
	assignCmd.Flags().IntVarP(&k, "k", "k", cfg.K, "Number of candidates")

	nearbyCmd.Flags().StringVar(&lat, "lat", "", "Latitude")
	nearbyCmd.Flags().StringVar(&lon, "lon", "", "Longitude")
	nearbyCmd.Flags().Float64VarP(&radiusKm, "radius", "r", cfg.NearbyRadiusKm, "Search radius in km")
	nearbyCmd.MarkFlagRequired("lat")
	nearbyCmd.MarkFlagRequired("lon")

	costCmd.Flags().StringVarP(&facility, "facility", "f", "", "Representative name")
	costCmd.Flags().StringVar(&city, "city", "", "Demand city")
	costCmd.Flags().StringVar(&lat, "lat", "", "Demand latitude")
	costCmd.Flags().StringVar(&lon, "lon", "", "Demand longitude")
	costCmd.Flags().StringVar(&orderID, "order", "", "Work order id")
	costCmd.MarkFlagRequired("facility")

	rootCmd.AddCommand(runCmd, assignCmd, nearbyCmd, costCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if engine.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// =============================================================================
// INPUT LOADING
// =============================================================================

func tableFactory() (*factory.TableFactory, error) {
	m, err := factory.LoadMapping(mappingFile)
	if err != nil {
		return nil, err
	}
	return factory.NewTableFactory(m), nil
}

func readTable(path, name string) (*factory.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()
	return factory.ReadCSV(f, name)
}

func loadTariffs(tf *factory.TableFactory) ([]engine.TariffRow, error) {
	tbl, err := readTable(tariffsFile, "tariffs")
	if err != nil {
		return nil, err
	}
	rows, err := tf.TariffRows(tbl)
	if err != nil {
		return nil, err
	}
	return rows, engine.ValidateTariffs(rows)
}

func loadPayments(tf *factory.TableFactory) ([]engine.PaymentRecord, error) {
	tbl, err := readTable(paymentsFile, "payments")
	if err != nil {
		return nil, err
	}
	return tf.PaymentRows(tbl)
}

func loadDirectory() (*engine.Directory, error) {
	tf, err := tableFactory()
	if err != nil {
		return nil, err
	}
	rows, err := loadTariffs(tf)
	if err != nil {
		return nil, err
	}
	return engine.NewDirectory(rows, cfg.RunOptions().Directory), nil
}
