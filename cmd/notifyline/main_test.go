package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/Flupinochan/AWS-CostNotification-Email/internal/costreport"
)

type stubBuilder struct {
	rep *costreport.Report
	err error
}

func (s *stubBuilder) Build(ctx context.Context, accountID, budgetName string, now time.Time, opts costreport.Options) (*costreport.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rep, nil
}

type stubSender struct {
	message  string
	calls    int
	failures int
	err      error
}

func (s *stubSender) Send(ctx context.Context, message string) error {
	s.calls++
	s.message = message
	if s.failures > 0 {
		s.failures--
		return errors.New("line down")
	}
	return s.err
}

// stubDDB keeps markers in memory and honours the conditional put, so a
// handler retry sees whatever the previous call left behind.
type stubDDB struct {
	items map[string]bool
	err   error
}

func (d *stubDDB) PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if d.err != nil {
		return nil, d.err
	}
	key := in.Item["NotifyKey"].(*ddbtypes.AttributeValueMemberS).Value
	if d.items == nil {
		d.items = map[string]bool{}
	}
	if d.items[key] {
		return nil, &ddbtypes.ConditionalCheckFailedException{}
	}
	d.items[key] = true
	return &dynamodb.PutItemOutput{}, nil
}

func (d *stubDDB) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	key := in.Key["NotifyKey"].(*ddbtypes.AttributeValueMemberS).Value
	delete(d.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

type stubS3 struct {
	key string
}

func (s *stubS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.key = aws.ToString(in.Key)
	return &s3.PutObjectOutput{}, nil
}

type stubCW struct {
	namespace string
	err       error
}

func (c *stubCW) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.namespace = aws.ToString(in.Namespace)
	if c.err != nil {
		return nil, c.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func testReport() *costreport.Report {
	return &costreport.Report{
		Window: costreport.Window{Start: "2024-05-01", End: "2024-05-18"},
		Total:  123.9,
		Unit:   "USD",
	}
}

func setup(b reportBuilder, s messageSender) *stubCW {
	accountID = "999999999999"
	budgetName = "monthly"
	lineToken = "tok"
	profileName = ""
	historyTable = ""
	reportBucket = ""
	profiles = nil
	builder = b
	sender = s
	cw := &stubCW{}
	cwClient = cw
	log = zap.NewNop().Sugar()
	return cw
}

func TestHandlerMissingEnv(t *testing.T) {
	setup(nil, nil)
	budgetName = ""
	if err := handler(context.Background(), events.CloudWatchEvent{}); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestHandlerMissingToken(t *testing.T) {
	setup(&stubBuilder{rep: testReport()}, &stubSender{})
	lineToken = ""
	if err := handler(context.Background(), events.CloudWatchEvent{}); err == nil {
		t.Fatalf("expected token error")
	}
}

func TestHandlerSuccess(t *testing.T) {
	snd := &stubSender{}
	cw := setup(&stubBuilder{rep: testReport()}, snd)
	if err := handler(context.Background(), events.CloudWatchEvent{}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.HasPrefix(snd.message, "2024-05\n【Total Cost】\n123USD") {
		t.Fatalf("unexpected message: %s", snd.message)
	}
	if cw.namespace != "CostNotification" {
		t.Fatalf("metrics not emitted")
	}
}

func TestHandlerBuildError(t *testing.T) {
	setup(&stubBuilder{err: errors.New("boom")}, &stubSender{})
	if err := handler(context.Background(), events.CloudWatchEvent{}); err == nil || err.Error() != "boom" {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestHandlerSendError(t *testing.T) {
	setup(&stubBuilder{rep: testReport()}, &stubSender{err: errors.New("line down")})
	if err := handler(context.Background(), events.CloudWatchEvent{}); err == nil || err.Error() != "line down" {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestHandlerAlreadySent(t *testing.T) {
	snd := &stubSender{}
	setup(&stubBuilder{rep: testReport()}, snd)
	historyTable = "NotifyHistory"
	dbClient = &stubDDB{items: map[string]bool{"line#2024-05-18": true}}
	if err := handler(context.Background(), events.CloudWatchEvent{}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if snd.calls != 0 {
		t.Fatalf("sender called for duplicate report")
	}
}

func TestHandlerRetryAfterSendFailure(t *testing.T) {
	snd := &stubSender{failures: 1}
	setup(&stubBuilder{rep: testReport()}, snd)
	historyTable = "NotifyHistory"
	db := &stubDDB{}
	dbClient = db
	if err := handler(context.Background(), events.CloudWatchEvent{}); err == nil {
		t.Fatalf("expected send error")
	}
	if db.items["line#2024-05-18"] {
		t.Fatalf("marker kept after failed send")
	}
	if err := handler(context.Background(), events.CloudWatchEvent{}); err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if snd.calls != 2 || !strings.HasPrefix(snd.message, "2024-05\n") {
		t.Fatalf("report not delivered on retry: %+v", snd)
	}
	if !db.items["line#2024-05-18"] {
		t.Fatalf("marker missing after delivery")
	}
}

func TestHandlerMetricFailureIsNotFatal(t *testing.T) {
	snd := &stubSender{}
	setup(&stubBuilder{rep: testReport()}, snd)
	cwClient = &stubCW{err: errors.New("denied")}
	if err := handler(context.Background(), events.CloudWatchEvent{}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if snd.calls != 1 {
		t.Fatalf("report not sent")
	}
}

func TestHandlerArchives(t *testing.T) {
	s3stub := &stubS3{}
	setup(&stubBuilder{rep: testReport()}, &stubSender{})
	reportBucket = "cost-reports"
	s3Client = s3stub
	if err := handler(context.Background(), events.CloudWatchEvent{}); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if s3stub.key != "reports/2024-05/2024-05-18.txt" {
		t.Fatalf("unexpected archive key: %s", s3stub.key)
	}
}

func TestMainFunc(t *testing.T) {
	os.Setenv("AWS_REGION", "us-east-1")
	os.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	tokenParameter = ""
	called := false
	start = func(i interface{}) { called = true }
	loadConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	main()
	if !called {
		t.Fatalf("start not called")
	}
}

func TestMainFuncError(t *testing.T) {
	start = func(i interface{}) {}
	loadConfig = func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("cfg")
	}
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic")
		}
	}()
	main()
}
