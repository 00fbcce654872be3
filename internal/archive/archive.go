// Package archive stores rendered reports in S3 for later reference.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI abstracts the S3 PutObject operation.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Put writes the report body under reports/<month>/<date>.txt.
func Put(ctx context.Context, api PutObjectAPI, bucket, month, date, body string) error {
	key := path.Join("reports", month, date+".txt")
	_, err := api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("put report %s: %w", key, err)
	}
	return nil
}
