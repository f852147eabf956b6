package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	smithy "github.com/aws/smithy-go"

	"github.com/artpar/nucleus/internal/core/domain"
)

// AwsConfig holds the platform's base AWS identity. The backend assumes the
// service's IAM role from this identity before touching KMS.
type AwsConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	SessionName     string
}

// KMSDecrypter is the subset of the KMS client the backend uses.
type KMSDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// CallerIdentifier is the subset of the STS client the backend uses.
type CallerIdentifier interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AwsClients builds the KMS and STS clients acting as the assumed role.
type AwsClients func(ctx context.Context, ref domain.AwsCmkSecrets) (KMSDecrypter, CallerIdentifier, error)

// AwsCmkBackend unwraps values encrypted under a customer managed KMS key.
type AwsCmkBackend struct {
	clients AwsClients
	logger  *slog.Logger
}

// NewAwsCmkBackend creates a backend that assumes roles from cfg.
func NewAwsCmkBackend(cfg AwsConfig, logger *slog.Logger) *AwsCmkBackend {
	return NewAwsCmkBackendWithClients(assumeRoleClients(cfg), logger)
}

// NewAwsCmkBackendWithClients creates a backend with a custom client factory.
func NewAwsCmkBackendWithClients(clients AwsClients, logger *slog.Logger) *AwsCmkBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &AwsCmkBackend{
		clients: clients,
		logger:  logger.With("backend", "aws-cmk"),
	}
}

func assumeRoleClients(cfg AwsConfig) AwsClients {
	return func(ctx context.Context, ref domain.AwsCmkSecrets) (KMSDecrypter, CallerIdentifier, error) {
		region := ref.Region
		if region == "" {
			region = cfg.Region
		}
		if region == "" {
			return nil, nil, errors.New("no AWS region configured")
		}

		base := sts.New(sts.Options{
			Region:      region,
			Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		})

		sessionName := cfg.SessionName
		if sessionName == "" {
			sessionName = "nucleus-deploy"
		}
		assumed := aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(base, ref.IamRoleArn, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = sessionName
		}))

		kmsClient := kms.New(kms.Options{Region: region, Credentials: assumed})
		stsClient := sts.New(sts.Options{Region: region, Credentials: assumed})
		return kmsClient, stsClient, nil
	}
}

// Resolve implements Backend.
func (b *AwsCmkBackend) Resolve(ctx context.Context, ref domain.SecretsRef) (map[string]string, error) {
	if ref.Type != domain.SecretsAwsCmk || ref.AwsCmk == nil {
		return nil, resolutionError(ref.Type, "not an aws-cmk reference", nil)
	}
	cmk := *ref.AwsCmk
	if cmk.KmsID == "" || cmk.IamRoleArn == "" || cmk.AccountID == "" {
		return nil, resolutionError(ref.Type, "kmsId, iamRoleArn and accountId are required", nil)
	}

	kmsClient, stsClient, err := b.clients(ctx, cmk)
	if err != nil {
		return nil, resolutionError(ref.Type, "create clients", err)
	}

	// Assuming the role happens lazily on the first call; this is where an
	// auth failure surfaces.
	identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, resolutionError(ref.Type, "assume role "+cmk.IamRoleArn, describeAWSError(err))
	}
	if account := aws.ToString(identity.Account); account != cmk.AccountID {
		return nil, resolutionError(ref.Type, fmt.Sprintf("assumed role belongs to account %s, expected %s", account, cmk.AccountID), nil)
	}

	values := make(map[string]string, len(cmk.Values))
	for key, encoded := range cmk.Values {
		blob, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, resolutionError(ref.Type, "decode "+key, err)
		}

		out, err := kmsClient.Decrypt(ctx, &kms.DecryptInput{
			CiphertextBlob: blob,
			KeyId:          aws.String(cmk.KmsID),
		})
		if err != nil {
			return nil, resolutionError(ref.Type, "decrypt "+key, describeAWSError(err))
		}
		values[key] = string(out.Plaintext)
	}

	b.logger.Debug("unwrapped values", "kms_id", cmk.KmsID, "keys", len(values))
	return values, nil
}

// describeAWSError keeps the API error code visible in the message so callers
// can tell AccessDenied from NotFoundException.
func describeAWSError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
	return err
}
