// Package lambdaboot holds the process bootstrap shared by every entry point.
//
// Each binary needs some subset of: AWS config, S3, SQS, SSM secret fetch and
// startup logging. The helpers keep each main() a short composition.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/voice-draft-pipeline/internal/logging"
)

// AWSClients holds the AWS config and the SSM client.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config. Fatals on error, like every other
// cold-start failure.
func InitAWS(ctx context.Context) AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// NewS3 creates an S3 client. A non-empty endpoint targets an S3-compatible
// server such as MinIO; pathStyle is usually required there.
func NewS3(cfg aws.Config, endpoint string, pathStyle bool) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})
}

// NewSQS creates an SQS client. SQS_ENDPOINT overrides the endpoint for
// local brokers.
func NewSQS(cfg aws.Config) *sqs.Client {
	endpoint := os.Getenv("SQS_ENDPOINT")
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// ParameterGetter is the subset of *ssm.Client used by LoadSecret.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Secret names one API key: the env var that may hold it directly and the env
// var naming its SSM SecureString parameter.
type Secret struct {
	EnvVar      string
	ParamEnvVar string
}

// Known secrets.
var (
	OpenAIKey = Secret{EnvVar: "OPENAI_API_KEY", ParamEnvVar: "SSM_OPENAI_KEY_PARAM"}
	GeminiKey = Secret{EnvVar: "GEMINI_API_KEY", ParamEnvVar: "SSM_GEMINI_KEY_PARAM"}
)

// LoadSecret returns the secret from its env var, or fetches it from SSM when
// a parameter name is configured, caching it in the env var for the rest of
// the process. It returns "" with no error when neither is set.
func LoadSecret(ctx context.Context, client ParameterGetter, s Secret) (string, error) {
	if v := os.Getenv(s.EnvVar); v != "" {
		return v, nil
	}
	paramName := os.Getenv(s.ParamEnvVar)
	if paramName == "" || client == nil {
		return "", nil
	}
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read %s from SSM %s: %w", s.EnvVar, paramName, err)
	}
	value := aws.ToString(result.Parameter.Value)
	os.Setenv(s.EnvVar, value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Secret loaded from SSM")
	return value, nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
