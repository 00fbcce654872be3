package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"github.com/Flupinochan/AWS-CostNotification-Email/internal/archive"
	"github.com/Flupinochan/AWS-CostNotification-Email/internal/costreport"
	"github.com/Flupinochan/AWS-CostNotification-Email/internal/history"
	"github.com/Flupinochan/AWS-CostNotification-Email/internal/logging"
	"github.com/Flupinochan/AWS-CostNotification-Email/internal/notify"
	"github.com/Flupinochan/AWS-CostNotification-Email/internal/profile"
)

var (
	start      = lambda.Start
	loadConfig = config.LoadDefaultConfig
	now        = time.Now
)

var (
	accountID      = os.Getenv("ACCOUNT_ID")
	budgetName     = os.Getenv("BUDGET_NAME")
	lineToken      = os.Getenv("LINE_NOTIFY_TOKEN")
	tokenParameter = os.Getenv("LINE_TOKEN_PARAMETER")
	profileName    = os.Getenv("REPORT_PROFILE")
	historyTable   = os.Getenv("HISTORY_TABLE")
	reportBucket   = os.Getenv("REPORT_BUCKET")
)

type reportBuilder interface {
	Build(ctx context.Context, accountID, budgetName string, now time.Time, opts costreport.Options) (*costreport.Report, error)
}

type messageSender interface {
	Send(ctx context.Context, message string) error
}

type metricsAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var (
	builder  reportBuilder
	sender   messageSender
	profiles *profile.Loader
	dbClient history.API
	s3Client archive.PutObjectAPI
	cwClient metricsAPI
	log      *zap.SugaredLogger
)

func reportOptions(ctx context.Context) costreport.Options {
	opts := costreport.DefaultOptions()
	if profileName == "" || profiles == nil {
		return opts
	}
	p, err := profiles.Load(ctx, profileName)
	if err != nil {
		log.Warnw("load report profile", "name", profileName, "error", err)
		return opts
	}
	if p.ServiceTop > 0 {
		opts.ServiceTop = p.ServiceTop
	}
	if p.AccountTop > 0 {
		opts.AccountTop = p.AccountTop
	}
	if len(p.ExcludeRecordTypes) > 0 {
		opts.ExcludeRecordTypes = p.ExcludeRecordTypes
	}
	return opts
}

func handler(ctx context.Context, _ events.CloudWatchEvent) error {
	if accountID == "" || budgetName == "" {
		return fmt.Errorf("ACCOUNT_ID and BUDGET_NAME must be set")
	}
	if lineToken == "" {
		return fmt.Errorf("no LINE Notify token configured")
	}

	rep, err := builder.Build(ctx, accountID, budgetName, now(), reportOptions(ctx))
	if err != nil {
		return err
	}

	if historyTable != "" {
		fresh, err := history.Mark(ctx, dbClient, historyTable, "line", rep.Window.End)
		if err != nil {
			return err
		}
		if !fresh {
			log.Infow("report already sent", "date", rep.Window.End)
			return nil
		}
	}

	// LINE has no subject line; the month leads the message instead.
	message := rep.Window.Month() + "\n" + rep.Render()
	if err := sender.Send(ctx, message); err != nil {
		if historyTable != "" {
			// release the marker so a retry can deliver
			if uerr := history.Unmark(ctx, dbClient, historyTable, "line", rep.Window.End); uerr != nil {
				log.Errorw("unmark after failed send", "date", rep.Window.End, "error", uerr)
			}
		}
		return err
	}

	if reportBucket != "" {
		if err := archive.Put(ctx, s3Client, reportBucket, rep.Window.Month(), rep.Window.End, rep.Render()); err != nil {
			log.Warnw("archive report", "error", err)
		}
	}
	emitMetrics(ctx, rep)

	log.Infow("cost notification sent", "month", rep.Window.Month(), "total", rep.Total)
	return nil
}

// metric failure must not trigger a redelivery of the report
func emitMetrics(ctx context.Context, rep *costreport.Report) {
	_, err := cwClient.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String("CostNotification"),
		MetricData: []cwtypes.MetricDatum{
			{MetricName: aws.String("TotalCost"), Value: aws.Float64(rep.Total)},
			{MetricName: aws.String("NotificationSent"), Value: aws.Float64(1)},
		},
	})
	if err != nil {
		log.Warnw("put metric data", "error", err)
	}
}

func retryAttempts() int {
	n, err := strconv.Atoi(os.Getenv("RETRY_COUNT"))
	if err != nil || n <= 0 {
		return 3
	}
	return n
}

func main() {
	attempts := retryAttempts()
	cfg, err := loadConfig(context.Background(),
		config.WithDefaultRegion("ap-northeast-1"),
		config.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) { o.MaxAttempts = attempts })
		}))
	if err != nil {
		panic(err)
	}
	log = logging.New(os.Getenv("LOG_LEVEL"))
	ssmClient := ssm.NewFromConfig(cfg)
	if tokenParameter != "" {
		tok, err := notify.TokenFromParameter(context.Background(), ssmClient, tokenParameter)
		if err != nil {
			panic(err)
		}
		lineToken = tok
	}
	builder = &costreport.Builder{
		Budgets: budgets.NewFromConfig(cfg),
		Costs:   costexplorer.NewFromConfig(cfg),
		Orgs:    organizations.NewFromConfig(cfg),
		Log:     log,
	}
	sender = notify.NewLineClient(lineToken, log)
	profiles = profile.New(ssmClient, log)
	dbClient = dynamodb.NewFromConfig(cfg)
	s3Client = s3.NewFromConfig(cfg)
	cwClient = cloudwatch.NewFromConfig(cfg)
	start(handler)
}
