package lambdaboot

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	calls int
	value string
	err   error
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("secret read without decryption")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(f.value)}}, nil
}

var testSecret = Secret{EnvVar: "TEST_PIPELINE_KEY", ParamEnvVar: "TEST_PIPELINE_KEY_PARAM"}

func TestLoadSecret_EnvWins(t *testing.T) {
	t.Setenv(testSecret.EnvVar, "from-env")
	t.Setenv(testSecret.ParamEnvVar, "/pipeline/key")
	f := &fakeSSM{value: "from-ssm"}
	got, err := LoadSecret(context.Background(), f, testSecret)
	if err != nil || got != "from-env" || f.calls != 0 {
		t.Errorf("LoadSecret = %q, %v (ssm calls %d)", got, err, f.calls)
	}
}

func TestLoadSecret_FromSSMAndCached(t *testing.T) {
	t.Setenv(testSecret.EnvVar, "")
	t.Setenv(testSecret.ParamEnvVar, "/pipeline/key")
	f := &fakeSSM{value: "from-ssm"}
	got, err := LoadSecret(context.Background(), f, testSecret)
	if err != nil || got != "from-ssm" {
		t.Fatalf("LoadSecret = %q, %v", got, err)
	}
	if os.Getenv(testSecret.EnvVar) != "from-ssm" {
		t.Error("expected secret cached in env")
	}
}

func TestLoadSecret_NotConfiguredAndErrors(t *testing.T) {
	t.Setenv(testSecret.EnvVar, "")
	t.Setenv(testSecret.ParamEnvVar, "")
	if got, err := LoadSecret(context.Background(), &fakeSSM{}, testSecret); got != "" || err != nil {
		t.Errorf("expected empty secret, got %q, %v", got, err)
	}

	t.Setenv(testSecret.ParamEnvVar, "/pipeline/key")
	if _, err := LoadSecret(context.Background(), &fakeSSM{err: errors.New("AccessDenied")}, testSecret); err == nil {
		t.Error("expected SSM error")
	}
}
