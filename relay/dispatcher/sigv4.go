package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

const bedrockService = "bedrock"

// signBedrock signs the finalized request with SigV4. The Bedrock
// credential is configured as "ACCESS_KEY_ID:SECRET_ACCESS_KEY"; the body
// must not change after signing.
func signBedrock(ctx context.Context, req *http.Request, body []byte, credential, region string) error {
	id, secret, ok := strings.Cut(credential, ":")
	if !ok || id == "" || secret == "" {
		return errors.New("bedrock credential must be ACCESS_KEY_ID:SECRET_ACCESS_KEY")
	}
	if region == "" {
		region = "us-east-1"
	}

	provider := credentials.NewStaticCredentialsProvider(id, secret, "")
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return errors.Wrap(err, "resolve static credentials")
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	signer := v4.NewSigner()
	if err := signer.SignHTTP(ctx, creds, req, payloadHash,
		bedrockService, region, time.Now()); err != nil {
		return errors.Wrap(err, "sigv4 sign request")
	}
	return nil
}
