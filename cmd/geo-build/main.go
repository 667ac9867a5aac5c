package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/ignite/engagement-sync/internal/config"
	"github.com/ignite/engagement-sync/internal/geo"
	"github.com/ignite/engagement-sync/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	input := flag.String("input", "", "postal_code,region CSV to build from")
	output := flag.String("output", "", "artifact path (defaults to geo.artifact_path)")
	upload := flag.Bool("upload", false, "also upload the artifact to geo.s3_bucket")
	flag.Parse()

	if *input == "" {
		log.Fatal("-input is required")
	}
	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	dst := *output
	if dst == "" {
		dst = cfg.Geo.ArtifactPath
	}
	if dst == "" && !*upload {
		log.Fatal("nowhere to write: set -output, geo.artifact_path or -upload")
	}

	f, err := os.Open(*input)
	if err != nil {
		log.Fatalf("open %s: %v", *input, err)
	}
	idx, err := geo.Build(f, cfg.Geo.LowConfidenceRegion)
	f.Close()
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	log.Printf("Built geo index: %d postal codes, %d ambiguous", idx.Len(), len(idx.Ambiguous))

	if dst != "" {
		if err := idx.SaveFile(dst); err != nil {
			log.Fatalf("save %s: %v", dst, err)
		}
		log.Printf("Wrote %s", dst)
	}

	if *upload {
		if cfg.Geo.S3Bucket == "" {
			log.Fatal("-upload requires geo.s3_bucket or GEO_S3_BUCKET")
		}
		ctx := context.Background()
		objects, err := storage.NewS3ObjectStore(ctx, cfg.Geo.S3Bucket, cfg.Storage.AWSRegion, cfg.Storage.GetAWSProfile())
		if err != nil {
			log.Fatalf("s3: %v", err)
		}
		if err := idx.SaveObject(ctx, objects, cfg.Geo.S3Key); err != nil {
			log.Fatalf("upload: %v", err)
		}
		log.Printf("Uploaded s3://%s/%s", cfg.Geo.S3Bucket, cfg.Geo.S3Key)
	}
}
