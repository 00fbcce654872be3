package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"
)

const lineNotifyURL = "https://notify-api.line.me/api/notify"

// LineClient posts messages to the LINE Notify API.
type LineClient struct {
	token      string
	endpoint   string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// NewLineClient creates a client using the given bearer token.
func NewLineClient(token string, log *zap.SugaredLogger) *LineClient {
	return &LineClient{
		token:      token,
		endpoint:   lineNotifyURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Send posts the message as a form-encoded notify request.
func (c *LineClient) Send(ctx context.Context, message string) error {
	form := url.Values{"message": {message}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new notify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do notify request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("line notify status %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	c.log.Infow("line notify response", "status", resp.StatusCode, "body", string(b))
	return nil
}

// ParameterAPI abstracts the SSM GetParameter operation.
type ParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// TokenFromParameter reads a LINE Notify token from an SSM SecureString
// parameter.
func TokenFromParameter(ctx context.Context, api ParameterAPI, name string) (string, error) {
	out, err := api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get token parameter %s: %w", name, err)
	}
	return aws.ToString(out.Parameter.Value), nil
}
