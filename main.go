package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/lithammer/dedent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/travis-true/Pocket-Appraisal/config"
	"github.com/travis-true/Pocket-Appraisal/internal/capture"
	"github.com/travis-true/Pocket-Appraisal/internal/card"
	"github.com/travis-true/Pocket-Appraisal/internal/llm"
	"github.com/travis-true/Pocket-Appraisal/internal/pipeline"
	"github.com/travis-true/Pocket-Appraisal/internal/storage"
)

var usageText = strings.TrimSpace(dedent.Dedent(`
	Pocket Appraisal - identify a trading card and look up market prices.

	Identify from images:
	  pocket-appraisal -front front.jpg -back back.jpg

	Capture from a camera snapshot endpoint:
	  pocket-appraisal -camera

	Price a known card:
	  pocket-appraisal -player "Mike Trout" -year 2011 -set "Topps Update" -number US175

	Environment variables:
	  GEMINI_API_KEY       Required. Gemini API key.
	  CARD_DB_PATH         Response cache database (default: appraisals.db).
	  CAMERA_SNAPSHOT_URL  JPEG snapshot URL for -camera mode.
`))

func main() {
	var (
		frontPath  = flag.String("front", "", "path to the card front image")
		backPath   = flag.String("back", "", "path to the card back image")
		player     = flag.String("player", "", "player name (manual entry)")
		year       = flag.String("year", "", "card year (manual entry)")
		set        = flag.String("set", "", "manufacturer/set (manual entry)")
		cardNumber = flag.String("number", "", "card number (manual entry, optional)")
		useCamera  = flag.Bool("camera", false, "capture images from the camera snapshot endpoint")
		facing     = flag.String("facing", "environment", "camera facing: environment or user")
		noCache    = flag.Bool("no-cache", false, "bypass the response cache")
		timeout    = flag.Duration("timeout", pipeline.DefaultStageTimeout, "per-stage timeout")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usageText)
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	config.LoadEnvFile()

	if os.Getenv("GEMINI_API_KEY") == "" {
		log.Fatal().Msg("GEMINI_API_KEY environment variable is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	appraiser, err := llm.NewGeminiAppraiser(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize gemini appraiser")
	}

	var stage llm.Appraiser = appraiser
	if !*noCache {
		dbPath := os.Getenv("CARD_DB_PATH")
		if dbPath == "" {
			dbPath = "appraisals.db"
		}
		store, err := storage.NewSQLiteStore(dbPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize appraisal store")
		}
		defer store.Close()
		stage = llm.NewCachedAppraiser(appraiser, store)
		log.Debug().Str("dbPath", dbPath).Msg("response caching enabled")
	}

	p := pipeline.New(stage, pipeline.WithStageTimeout(*timeout))

	manual := *player != "" || *year != "" || *set != ""

	var outcome pipeline.Outcome
	switch {
	case manual:
		identity := card.Identity{Player: *player, Year: *year, Set: *set, CardNumber: *cardNumber}
		if !identity.Validate() {
			log.Fatal().Msg("manual entry requires -player, -set and a numeric -year")
		}
		fmt.Println("Fetching prices and parallels...")
		outcome = p.RunManual(ctx, identity)

	case *useCamera:
		front, back, err := captureImages(ctx, capture.Facing(*facing))
		if err != nil {
			log.Fatal().Err(err).Msg("camera capture failed")
		}
		fmt.Println("Identifying card from images...")
		outcome = p.RunFromImages(ctx, front, back)

	case *frontPath != "" && *backPath != "":
		front, back, err := loadImages(ctx, *frontPath, *backPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load images")
		}
		fmt.Println("Identifying card from images...")
		outcome = p.RunFromImages(ctx, front, back)

	default:
		flag.Usage()
		os.Exit(1)
	}

	if outcome.State != pipeline.StateSuccess {
		fmt.Fprintf(os.Stderr, "Error: %s\n", outcome.Err)
		os.Exit(1)
	}

	printOutcome(outcome)
}

// loadImages reads and normalizes both card images concurrently.
func loadImages(ctx context.Context, frontPath, backPath string) (capture.RawImage, capture.RawImage, error) {
	var front, back capture.RawImage

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		front, err = loadImage(frontPath)
		return err
	})
	g.Go(func() error {
		var err error
		back, err = loadImage(backPath)
		return err
	})
	if err := g.Wait(); err != nil {
		return capture.RawImage{}, capture.RawImage{}, err
	}
	return front, back, nil
}

func loadImage(path string) (capture.RawImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return capture.RawImage{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return capture.FromUserFile(data, mimeTypeForPath(path), filepath.Base(path))
}

func mimeTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// captureImages grabs the front and back stills from the snapshot camera,
// prompting between shots. Each slot runs its own capture session so the
// stream is released even when the second shot fails.
func captureImages(ctx context.Context, facing capture.Facing) (capture.RawImage, capture.RawImage, error) {
	snapshotURL := os.Getenv("CAMERA_SNAPSHOT_URL")
	if snapshotURL == "" {
		return capture.RawImage{}, capture.RawImage{}, fmt.Errorf("CAMERA_SNAPSHOT_URL is not set")
	}
	camera := capture.NewHTTPCamera(snapshotURL)

	front, err := captureSlot(ctx, camera, facing, "front")
	if err != nil {
		return capture.RawImage{}, capture.RawImage{}, err
	}

	fmt.Println("Front captured. Flip the card over, then press Enter...")
	fmt.Scanln()

	back, err := captureSlot(ctx, camera, facing, "back")
	if err != nil {
		return capture.RawImage{}, capture.RawImage{}, err
	}
	return front, back, nil
}

func captureSlot(ctx context.Context, camera *capture.HTTPCamera, facing capture.Facing, slot string) (capture.RawImage, error) {
	session := capture.NewSession(camera, slot)
	defer session.Close()

	if err := session.Open(ctx, facing); err != nil {
		return capture.RawImage{}, err
	}
	if _, err := session.Capture(ctx); err != nil {
		return capture.RawImage{}, err
	}
	return session.Accept()
}

func printOutcome(outcome pipeline.Outcome) {
	c := outcome.Card

	fmt.Printf("\nCard:      %s\n", c.Label())
	if c.CardNumber != "" {
		fmt.Printf("Number:    #%s\n", c.CardNumber)
	}
	if c.ParallelDescription != nil {
		fmt.Printf("Parallel:  %s\n", *c.ParallelDescription)
	}
	if c.SuggestedGrade != nil {
		fmt.Printf("Grade:     %.1f (suggested, raw)\n", *c.SuggestedGrade)
	}
	for _, note := range c.ConditionNotes {
		fmt.Printf("  - %s\n", note)
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CARD / PARALLEL\tRAW\tGRADED\tDATE RANGE\tSOURCES")
	printPriceRow(w, outcome.Pricing.BaseCard)
	for _, parallel := range outcome.Pricing.Parallels {
		printPriceRow(w, parallel)
	}
	w.Flush()

	fmt.Printf("\nTokens: %d in / %d out / %d total  Cost: $%.6f\n",
		outcome.Usage.InputTokens, outcome.Usage.OutputTokens, outcome.Usage.TotalTokens, outcome.Usage.CostUSD)
	fmt.Println("Pricing data is estimated and for informational purposes only.")
}

func printPriceRow(w *tabwriter.Writer, entry card.PriceEntry) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s / %s\n",
		entry.Name, entry.RawPrice, entry.GradedPrice, entry.DateRange,
		entry.RawSource.Name, entry.GradedSource.Name)
}
