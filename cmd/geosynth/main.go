package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/banshee-data/geosynth/internal/catalog"
	"github.com/banshee-data/geosynth/internal/config"
	"github.com/banshee-data/geosynth/internal/dataset"
	"github.com/banshee-data/geosynth/internal/fsutil"
	"github.com/banshee-data/geosynth/internal/projection"
	"github.com/banshee-data/geosynth/internal/projection/proj"
	"github.com/banshee-data/geosynth/internal/version"
)

var errUsage = errors.New("usage")

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n\n", err)
			printUsage()
		} else {
			log.Printf("Error: %v", err)
		}
		stop()
		os.Exit(1)
	}
}

// run executes one subcommand.
func run(ctx context.Context, command string, args []string, stdout io.Writer) error {
	switch command {
	case "generate":
		return handleGenerate(ctx, args)
	case "transplant":
		return handleTransplant(ctx, args)
	case "queries":
		return handleQueries(ctx, args)
	case "reposition-queries":
		return handleRepositionQueries(ctx, args)
	case "catalog":
		return handleCatalog(ctx, args, stdout)
	case "regions":
		return handleRegions(args, stdout)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help":
		printUsage()
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func printUsage() {
	fmt.Println(`geosynth - Synthetic geospatial benchmark datasets

Usage: geosynth <command> [options]

Commands:
  generate             Sample point clouds for regions from road networks
  transplant           Reposition an existing cloud onto regions
  queries              Build distance and range query workloads for a cloud
  reposition-queries   Move existing query files onto a region
  catalog              List generated datasets
  regions              List configured and built-in regions
  version              Show geosynth version
  help                 Show this help message

Common Flags:
  --config <file>      Generation config (default: config/geosynth.json if present)
  --catalog <file>     Catalog database (default: <data_dir>/catalog.db)
  --proj <name>        Projection backend: proj or mercator (default: proj)
  --force              Regenerate outputs that already exist

Examples:
  # Generate every configured size for two regions
  geosynth generate --region nyc,tokyo

  # Move a real taxi cloud to Japan, then its query workloads
  geosynth transplant --source data/taxi/taxi-25m.bin --region japan
  geosynth reposition-queries --queries-dir data/taxi --region japan

  # Query workloads for a generated cloud
  geosynth queries --cloud data/synthetic/nyc-25m.bin --region nyc`)
}

// options are the flags every job command shares.
type options struct {
	configPath  string
	catalogPath string
	projName    string
	force       bool
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "Generation config file")
	fs.StringVar(&o.catalogPath, "catalog", "", "Catalog database path")
	fs.StringVar(&o.projName, "proj", "proj", "Projection backend: proj or mercator")
	fs.BoolVar(&o.force, "force", false, "Regenerate outputs that already exist")
}

func loadConfig(path string) (*config.GenerationConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.DefaultGenerationConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadGenerationConfig(path)
}

func newProjector(name string) (projection.Projector, error) {
	switch name {
	case "proj":
		return proj.PROJ{}, nil
	case "mercator":
		return projection.Mercator{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown projection backend %q", errUsage, name)
	}
}

// newJob loads the config, resolves regionList and checks every CRS those
// regions need before the catalog is opened, so a bad region fails the run
// before anything is written. The returned close function releases the
// catalog.
func newJob(ctx context.Context, o options, regionList string, withCanonical bool) (*dataset.Job, []config.RegionProfile, func(), error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if o.catalogPath != "" {
		cfg.CatalogPath = &o.catalogPath
	}
	p, err := newProjector(o.projName)
	if err != nil {
		return nil, nil, nil, err
	}
	rs, err := regions(cfg, regionList)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := dataset.ValidateRegions(ctx, p, rs, withCanonical); err != nil {
		return nil, nil, nil, err
	}
	cat, err := openCatalog(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	job := &dataset.Job{
		Config:  cfg,
		FS:      fsutil.OSFileSystem{},
		Proj:    p,
		Catalog: cat,
		Force:   o.force,
	}
	return job, rs, func() { cat.Close() }, nil
}

func openCatalog(cfg *config.GenerationConfig) (*catalog.Catalog, error) {
	path := cfg.GetCatalogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	return catalog.Open(path, nil)
}

// regions resolves a comma-separated list of names, or every configured
// region when the list is empty.
func regions(cfg *config.GenerationConfig, list string) ([]config.RegionProfile, error) {
	if list == "" {
		if len(cfg.Regions) == 0 {
			return nil, fmt.Errorf("%w: --region is required when the config defines no regions", errUsage)
		}
		return cfg.Regions, nil
	}
	var out []config.RegionProfile
	for _, name := range strings.Split(list, ",") {
		r, err := cfg.Region(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func handleGenerate(ctx context.Context, args []string) error {
	var o options
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	o.register(fs)
	regionList := fs.String("region", "", "Comma-separated regions (default: all configured)")
	withQueries := fs.Bool("queries", false, "Also build query workloads for every cloud")
	if err := fs.Parse(args); err != nil {
		return err
	}

	job, rs, closeJob, err := newJob(ctx, o, *regionList, false)
	if err != nil {
		return err
	}
	defer closeJob()

	for _, r := range rs {
		clouds, err := job.Generate(ctx, r)
		if err != nil {
			return err
		}
		if !*withQueries {
			continue
		}
		for _, c := range clouds {
			if _, err := job.Queries(ctx, c, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func handleTransplant(ctx context.Context, args []string) error {
	var o options
	fs := flag.NewFlagSet("transplant", flag.ContinueOnError)
	o.register(fs)
	source := fs.String("source", "", "Cloud file to reposition (required)")
	regionList := fs.String("region", "", "Comma-separated target regions (default: all configured)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "" {
		return fmt.Errorf("%w: --source is required", errUsage)
	}

	job, rs, closeJob, err := newJob(ctx, o, *regionList, true)
	if err != nil {
		return err
	}
	defer closeJob()
	for _, r := range rs {
		if _, err := job.Transplant(ctx, *source, r); err != nil {
			return err
		}
	}
	return nil
}

func handleQueries(ctx context.Context, args []string) error {
	var o options
	fs := flag.NewFlagSet("queries", flag.ContinueOnError)
	o.register(fs)
	cloud := fs.String("cloud", "", "Cloud file to build workloads for (required)")
	regionName := fs.String("region", "", "Region whose CRS measures distances (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cloud == "" || *regionName == "" {
		return fmt.Errorf("%w: --cloud and --region are required", errUsage)
	}

	if strings.Contains(*regionName, ",") {
		return fmt.Errorf("%w: --region takes a single region", errUsage)
	}

	job, rs, closeJob, err := newJob(ctx, o, *regionName, false)
	if err != nil {
		return err
	}
	defer closeJob()
	_, err = job.Queries(ctx, *cloud, rs[0])
	return err
}

func handleRepositionQueries(ctx context.Context, args []string) error {
	var o options
	fs := flag.NewFlagSet("reposition-queries", flag.ContinueOnError)
	o.register(fs)
	dir := fs.String("queries-dir", "", "Directory holding *_distance_*.csv and *_range_*.csv (required)")
	source := fs.String("source", "", "Source cloud to derive parameters from (default: the catalog)")
	regionList := fs.String("region", "", "Comma-separated target regions (default: all configured)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("%w: --queries-dir is required", errUsage)
	}

	job, rs, closeJob, err := newJob(ctx, o, *regionList, true)
	if err != nil {
		return err
	}
	defer closeJob()
	for _, r := range rs {
		if _, err := job.RepositionQueries(ctx, *dir, *source, r); err != nil {
			return err
		}
	}
	return nil
}

func handleCatalog(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	configPath := fs.String("config", "", "Generation config file")
	catalogPath := fs.String("catalog", "", "Catalog database path")
	kind := fs.String("kind", "", "Only list cloud, distance_queries or range_queries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *catalogPath != "" {
		cfg.CatalogPath = catalogPath
	}
	cat, err := openCatalog(cfg)
	if err != nil {
		return err
	}
	defer cat.Close()

	ds, err := cat.List(ctx, catalog.Kind(*kind))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tKIND\tREGION\tCOUNT\tSELECTIVITY\tSOURCE\tCREATED")
	for _, d := range ds {
		sel := "-"
		if d.Selectivity > 0 {
			sel = fmt.Sprintf("%g", d.Selectivity)
		}
		src := d.Source
		if src == "" {
			src = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			d.Path, d.Kind, d.Region, d.Count, sel, src, d.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func handleRegions(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("regions", flag.ContinueOnError)
	configPath := fs.String("config", "", "Generation config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	all := config.Presets()
	for _, r := range cfg.Regions {
		all[r.Name] = r
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCENTER\tCRS\tSCALE")
	for _, name := range names {
		r := all[name]
		c := r.CenterLatLon()
		scale := r.ScaleMode().String()
		switch r.ScaleMode() {
		case config.ScaleRadius:
			scale = fmt.Sprintf("%s %g", scale, r.GetRadius())
		case config.ScaleSize:
			scale = fmt.Sprintf("%s %g", scale, r.GetSize())
		}
		fmt.Fprintf(tw, "%s\t%.6f,%.6f\t%s\t%s\n", name, c.Lat, c.Lon, r.TargetCRS(), scale)
	}
	return tw.Flush()
}
