package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/simonjohansson/taskboard/internal/server"
	"gopkg.in/yaml.v3"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", filepath.Join("api", "openapi.yaml"), "output path for OpenAPI YAML")
	flag.Parse()

	tmpDir, err := os.MkdirTemp("", "taskboard-openapi-")
	if err != nil {
		log.Fatalf("create temp dir: %v", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	app, err := server.New(context.Background(), server.Options{DSN: filepath.Join(tmpDir, "board.db")})
	if err != nil {
		log.Fatalf("init server: %v", err)
	}
	defer func() { _ = app.Close() }()

	raw, err := yaml.Marshal(app.OpenAPI())
	if err != nil {
		log.Fatalf("marshal openapi: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}
	if err := os.WriteFile(outPath, raw, 0o644); err != nil {
		log.Fatalf("write openapi file: %v", err)
	}
}
