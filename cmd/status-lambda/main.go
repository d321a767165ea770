// Package main provides the Lambda entry point for the read-only session
// transcript endpoint:
//
//	GET /sessions/{id}/transcript
//
// The response reports the final transcript when it exists, otherwise the
// chunk transcripts available so far. The handler never writes.
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/config"
	"github.com/fpang/voice-draft-pipeline/internal/lambdaboot"
	"github.com/fpang/voice-draft-pipeline/internal/logging"
	"github.com/fpang/voice-draft-pipeline/internal/objstore"
)

func main() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	clients := lambdaboot.InitAWS(context.Background())
	store := objstore.NewS3(lambdaboot.NewS3(clients.Config, cfg.S3Endpoint, cfg.S3ForcePathStyle))
	server := &statusServer{store: store, bucket: cfg.Bucket}

	lambdaboot.StartupLog("status-lambda", initStart).
		Bucket("media", cfg.Bucket).
		Feature("gzip", true).
		Log()

	adapter := httpadapter.NewV2(server.routes())
	lambda.Start(adapter.ProxyWithContext)
}
